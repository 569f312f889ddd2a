package sim

import "github.com/golang/geo/r3"

// ContactEvent is one physics step whose contact force crossed the reporting
// threshold.
type ContactEvent struct {
	Step  int     `json:"step"`
	Time  float64 `json:"time"`
	Force float64 `json:"force"`
	Phase string  `json:"phase"`
}

// GripSample is the gripper's state at one physics step. Contact combines
// the finger proximity heuristic with an engaged attachment. Samples are only
// recorded for actions that manipulate objects.
type GripSample struct {
	Step    int     `json:"step"`
	Time    float64 `json:"time"`
	Closed  bool    `json:"closed"`
	Contact bool    `json:"contact"`
}

// ObjectSample is the tracked object's state at one physics step. Samples
// are only recorded for actions that manipulate objects.
type ObjectSample struct {
	Step     int       `json:"step"`
	Time     float64   `json:"time"`
	Position r3.Vector `json:"position"`
	Attached bool      `json:"attached"`
}

// Telemetry is everything recorded while tracking one trajectory.
type Telemetry struct {
	// Joints holds the measured arm configuration at every step.
	Joints [][]float64 `json:"joints"`
	// Forces holds the engine's contact force magnitude at every step.
	Forces   []float64      `json:"forces"`
	Contacts []ContactEvent `json:"contacts"`
	Grip     []GripSample   `json:"grip,omitempty"`
	Objects  []ObjectSample `json:"objects,omitempty"`

	// AttachStep and ReleaseStep are the steps at which the attachment
	// manager engaged and released, -1 when the event never happened.
	AttachStep  int `json:"attach_step"`
	ReleaseStep int `json:"release_step"`
	// AttachedSteps counts steps spent with the object attached.
	AttachedSteps int `json:"attached_steps"`
	// GripContactSteps counts steps where the gripper heuristic reported
	// finger contact independent of attachment.
	GripContactSteps int `json:"grip_contact_steps"`
}

func newTelemetry(n int) *Telemetry {
	return &Telemetry{
		Joints:      make([][]float64, 0, n),
		Forces:      make([]float64, 0, n),
		AttachStep:  -1,
		ReleaseStep: -1,
	}
}

// MaxForce is the largest contact force seen over the whole trajectory.
func (t *Telemetry) MaxForce() float64 {
	var max float64
	for _, f := range t.Forces {
		if f > max {
			max = f
		}
	}
	return max
}

// ObjectMotion summarizes what one tracked object did over an action.
type ObjectMotion struct {
	Name    string    `json:"name"`
	Initial r3.Vector `json:"initial"`
	Final   r3.Vector `json:"final"`
	// MaxLift is the largest height gain over the initial position.
	MaxLift float64 `json:"max_lift"`
}

// MotionLog summarizes the end-effector motion of one simulated action.
type MotionLog struct {
	InitialEE     r3.Vector      `json:"initial_ee"`
	FinalEE       r3.Vector      `json:"final_ee"`
	Target        r3.Vector      `json:"target"`
	TotalDistance float64        `json:"total_distance"`
	TargetReached bool           `json:"target_reached"`
	Objects       []ObjectMotion `json:"objects,omitempty"`
}
