// Package trajectory turns action records into dense joint-space setpoint
// sequences for the tracking controller.
package trajectory

import "time"

// Phase labels a half-open step range [Start, End) of a trajectory.
type Phase struct {
	Name  string
	Start int
	End   int
}

// Trajectory is a dense sequence of joint configurations sampled at a fixed
// timestep. Steps rows are full arm configurations including the gripper
// joint.
type Trajectory struct {
	Steps    [][]float64
	Timestep float64
	Phases   []Phase
	Warnings []string
}

// Duration is the wall time the trajectory spans when tracked in real time.
func (t *Trajectory) Duration() time.Duration {
	return time.Duration(float64(len(t.Steps)) * t.Timestep * float64(time.Second))
}

// PhaseAt names the phase containing step i, or "" when i is out of range.
func (t *Trajectory) PhaseAt(i int) string {
	for _, p := range t.Phases {
		if i >= p.Start && i < p.End {
			return p.Name
		}
	}
	return ""
}

// PhaseByName returns the named phase and whether it exists.
func (t *Trajectory) PhaseByName(name string) (Phase, bool) {
	for _, p := range t.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}
