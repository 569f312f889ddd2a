package trajectory

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/armkit/manipsim/action"
	"github.com/armkit/manipsim/armmodel"
	"github.com/armkit/manipsim/ik"
)

const (
	// movePhaseFraction of a non-manipulation action is spent traveling to
	// the target; the remainder holds or runs the action's pattern.
	movePhaseFraction = 0.30

	// liftHeight is how far a grasped object is raised above the grasp
	// point, and doubles as the standoff height for placement approach.
	liftHeight = 0.12

	// releaseHeight is the drop height above the placement target at
	// release, floored at minReleaseZ to keep the wrist off the table.
	releaseHeight = 0.04
	minReleaseZ   = 0.25

	// gripperOpenStart is the fraction of the release phase after which
	// the gripper open command ramps in.
	gripperOpenStart = 0.85

	// preGraspElbowOffset pulls the elbow back from the grasp pose for the
	// approach waypoint, floored so the arm stays in front of the object.
	preGraspElbowOffset = 0.15
	preGraspElbowFloor  = -0.3

	patternCycles = 2
)

// Synthesizer converts action records into joint trajectories for one arm
// model.
type Synthesizer struct {
	model    *armmodel.Model
	solver   *ik.Solver
	precise  *ik.Solver
	timestep float64
	logger   golog.Logger
}

// NewSynthesizer returns a synthesizer sampling at the given timestep,
// normally the physics engine's.
func NewSynthesizer(model *armmodel.Model, timestep float64, logger golog.Logger) *Synthesizer {
	return &Synthesizer{
		model:    model,
		solver:   ik.NewSolver(model, logger),
		precise:  ik.NewPreciseSolver(model, logger),
		timestep: timestep,
		logger:   logger,
	}
}

// Synthesize produces the joint trajectory realizing one action. start is the
// arm configuration at action onset and target the Cartesian goal; how the
// target is used depends on the action type. The returned steps are full arm
// configurations including the gripper joint, clamped to the model's limits.
func (s *Synthesizer) Synthesize(ctx context.Context, spec action.Spec, start []float64, target r3.Vector) (*Trajectory, error) {
	if spec.Duration <= 0 {
		return nil, errors.Errorf("action %q has non-positive duration %v", spec.Type, spec.Duration)
	}
	n := int(spec.Duration / s.timestep)
	if n < 1 {
		n = 1
	}
	traj := &Trajectory{Timestep: s.timestep, Steps: make([][]float64, 0, n)}
	start = s.armConfig(start)

	var err error
	switch {
	case spec.Type.Class() == action.ClassGrasp:
		err = s.pick(ctx, traj, start, target, n)
	case spec.Type.Class() == action.ClassPlacement:
		err = s.place(ctx, traj, start, target, n)
	case spec.Type == action.TypeScrub:
		err = s.scrub(ctx, traj, spec, start, target, n)
	case spec.Type == action.TypeApply || spec.Type == action.TypeRinse:
		err = s.press(ctx, traj, spec, start, target, n)
	default:
		err = s.moveAndHold(ctx, traj, spec, start, target, n)
	}
	if err != nil {
		return nil, err
	}
	return traj, nil
}

// armConfig copies the arm joints from a possibly longer state vector.
func (s *Synthesizer) armConfig(q []float64) []float64 {
	out := make([]float64, s.model.DOF)
	copy(out, q)
	return out
}

// segment appends n interpolated steps from one configuration to the next and
// records them as a named phase. The last step lands exactly on to.
func (s *Synthesizer) segment(traj *Trajectory, name string, from, to []float64, n int, prof Profile) {
	begin := len(traj.Steps)
	for i := 0; i < n; i++ {
		u := prof.Interpolate(float64(i+1) / float64(n))
		q := lerp(from, to, u)
		s.model.ClampToLimits(q)
		traj.Steps = append(traj.Steps, q)
	}
	traj.Phases = append(traj.Phases, Phase{Name: name, Start: begin, End: len(traj.Steps)})
}

// splitMove returns the step counts of the travel and remainder portions of
// an n step action.
func splitMove(n int) (int, int) {
	move := int(movePhaseFraction * float64(n))
	if move < 1 {
		move = 1
	}
	if move > n {
		move = n
	}
	return move, n - move
}

func (s *Synthesizer) moveAndHold(ctx context.Context, traj *Trajectory, spec action.Spec, start []float64, target r3.Vector, n int) error {
	sol, err := s.solver.Solve(ctx, target, start, spec.Type.Class())
	if err != nil {
		return err
	}
	traj.Warnings = append(traj.Warnings, sol.Warnings...)
	moveN, holdN := splitMove(n)
	s.segment(traj, "move", start, sol.Config, moveN, ProfileTrapezoidal)
	if holdN > 0 {
		begin := len(traj.Steps)
		for i := 0; i < holdN; i++ {
			traj.Steps = append(traj.Steps, append([]float64(nil), sol.Config...))
		}
		traj.Phases = append(traj.Phases, Phase{Name: "hold", Start: begin, End: len(traj.Steps)})
	}
	return nil
}

func (s *Synthesizer) scrub(ctx context.Context, traj *Trajectory, spec action.Spec, start []float64, target r3.Vector, n int) error {
	sol, err := s.solver.Solve(ctx, target, start, action.ClassContact)
	if err != nil {
		return err
	}
	traj.Warnings = append(traj.Warnings, sol.Warnings...)
	moveN, patN := splitMove(n)
	s.segment(traj, "move", start, sol.Config, moveN, ProfileTrapezoidal)
	if patN == 0 {
		return nil
	}

	begin := len(traj.Steps)
	base := sol.Config
	for i := 0; i < patN; i++ {
		u := float64(i) / float64(patN)
		phi := 2 * math.Pi * patternCycles * u
		q := append([]float64(nil), base...)
		// Fixed pattern amplitudes; the force figure feeds the contact
		// expectation, not the motion.
		switch spec.Pattern {
		case action.PatternBackAndForth:
			q[0] += 0.2 * 0.6 * math.Sin(phi)
			if len(q) > 2 {
				q[2] += 0.2 * 0.3 * math.Sin(phi)
			}
		default:
			q[0] += 0.15 * 0.5 * math.Sin(phi)
			q[1] += 0.15 * 0.3 * math.Cos(phi)
			if len(q) > 2 {
				q[2] += 0.15 * 0.2 * math.Sin(1.5*phi)
			}
			if len(q) > 3 {
				q[3] += 0.15 * 0.15 * math.Cos(phi)
			}
		}
		s.model.ClampToLimits(q)
		traj.Steps = append(traj.Steps, q)
	}
	traj.Phases = append(traj.Phases, Phase{Name: "scrub", Start: begin, End: len(traj.Steps)})
	return nil
}

func (s *Synthesizer) press(ctx context.Context, traj *Trajectory, spec action.Spec, start []float64, target r3.Vector, n int) error {
	sol, err := s.solver.Solve(ctx, target, start, action.ClassContact)
	if err != nil {
		return err
	}
	traj.Warnings = append(traj.Warnings, sol.Warnings...)
	moveN, pressN := splitMove(n)
	s.segment(traj, "move", start, sol.Config, moveN, ProfileTrapezoidal)
	if pressN == 0 {
		return nil
	}

	begin := len(traj.Steps)
	for i := 0; i < pressN; i++ {
		u := float64(i) / float64(pressN)
		// Half-cosine press against the surface over the action phase.
		press := 0.5 * (1 - math.Cos(math.Pi*u))
		q := append([]float64(nil), sol.Config...)
		q[1] += 0.05 * press
		if len(q) > 2 {
			q[2] -= 0.03 * press
		}
		s.model.ClampToLimits(q)
		traj.Steps = append(traj.Steps, q)
	}
	traj.Phases = append(traj.Phases, Phase{Name: "press", Start: begin, End: len(traj.Steps)})
	return nil
}

func (s *Synthesizer) pick(ctx context.Context, traj *Trajectory, start []float64, target r3.Vector, n int) error {
	grasp, score, err := s.graspConfig(ctx, target)
	if err != nil {
		return err
	}
	if score > 0.05 {
		traj.Warnings = append(traj.Warnings, "grasp pose residual above tolerance")
		s.logger.Warnw("grasp pose residual above tolerance", "score", score, "target", target)
	}

	approach := append([]float64(nil), grasp...)
	if len(approach) > 2 {
		approach[2] = math.Max(approach[2]-preGraspElbowOffset, preGraspElbowFloor)
	}

	liftTarget := s.model.Transform(grasp).Point
	liftTarget.Z += liftHeight
	liftSol, err := s.precise.Solve(ctx, liftTarget, grasp, action.ClassGrasp)
	if err != nil {
		return err
	}
	traj.Warnings = append(traj.Warnings, liftSol.Warnings...)
	lift := liftSol.Config

	// Phase floors can overrun a degenerate duration; the trajectory still
	// has to come out at exactly n samples.
	nApproach := phaseSteps(n, 0.50)
	if nApproach > n {
		nApproach = n
	}
	nGrasp := phaseSteps(n, 0.25)
	if nGrasp > n-nApproach {
		nGrasp = n - nApproach
	}
	nLift := n - nApproach - nGrasp

	begin := len(traj.Steps)
	for i := 0; i < nApproach; i++ {
		u := ProfileTrapezoidal.Interpolate(float64(i+1) / float64(nApproach))
		q := lerp(start, approach, u)
		s.model.SetGripper(q, true)
		s.model.ClampToLimits(q)
		traj.Steps = append(traj.Steps, q)
	}
	traj.Phases = append(traj.Phases, Phase{Name: "approach", Start: begin, End: len(traj.Steps)})

	// Grasp phase: move onto the object with the gripper still open, close
	// it at the grasp pose, then hold closed so the contacts settle.
	begin = len(traj.Steps)
	for i := 0; i < nGrasp; i++ {
		t := float64(i) / float64(nGrasp)
		var q []float64
		switch {
		case t < 0.35:
			u := ProfileSmoothstep.Interpolate(t / 0.35)
			q = lerp(approach, grasp, u)
			s.model.SetGripper(q, true)
		case t < 0.60:
			u := ProfileSmoothstep.Interpolate((t - 0.35) / 0.25)
			q = append([]float64(nil), grasp...)
			s.setGripperFraction(q, u)
		default:
			q = append([]float64(nil), grasp...)
			s.model.SetGripper(q, false)
		}
		s.model.ClampToLimits(q)
		traj.Steps = append(traj.Steps, q)
	}
	traj.Phases = append(traj.Phases, Phase{Name: "grasp", Start: begin, End: len(traj.Steps)})

	begin = len(traj.Steps)
	for i := 0; i < nLift; i++ {
		u := ProfileTrapezoidal.Interpolate(float64(i+1) / float64(nLift))
		q := lerp(grasp, lift, u)
		s.model.SetGripper(q, false)
		s.model.ClampToLimits(q)
		traj.Steps = append(traj.Steps, q)
	}
	traj.Phases = append(traj.Phases, Phase{Name: "lift", Start: begin, End: len(traj.Steps)})
	return nil
}

func (s *Synthesizer) place(ctx context.Context, traj *Trajectory, start []float64, target r3.Vector, n int) error {
	approachTarget := target
	approachTarget.Z += liftHeight
	appSol, err := s.precise.Solve(ctx, approachTarget, start, action.ClassPlacement)
	if err != nil {
		return err
	}
	releaseTarget := target
	releaseTarget.Z = math.Max(target.Z+releaseHeight, minReleaseZ)
	relSol, err := s.precise.Solve(ctx, releaseTarget, appSol.Config, action.ClassPlacement)
	if err != nil {
		return err
	}
	traj.Warnings = append(traj.Warnings, appSol.Warnings...)
	traj.Warnings = append(traj.Warnings, relSol.Warnings...)

	nTransport := phaseSteps(n, 0.60)
	nRelease := n - nTransport
	if nRelease < 1 && n > 1 {
		nRelease = 1
		nTransport = n - 1
	}

	begin := len(traj.Steps)
	for i := 0; i < nTransport; i++ {
		u := ProfileTrapezoidal.Interpolate(float64(i+1) / float64(nTransport))
		q := lerp(start, appSol.Config, u)
		s.model.SetGripper(q, false)
		s.model.ClampToLimits(q)
		traj.Steps = append(traj.Steps, q)
	}
	traj.Phases = append(traj.Phases, Phase{Name: "transport", Start: begin, End: len(traj.Steps)})

	if nRelease == 0 {
		return nil
	}
	begin = len(traj.Steps)
	for i := 0; i < nRelease; i++ {
		t := float64(i+1) / float64(nRelease)
		q := lerp(appSol.Config, relSol.Config, ProfileSmoothstep.Interpolate(t))
		// The gripper stays shut through the descent so the object cannot
		// drop mid-transport; the open command ramps in over the final
		// 15% of the phase and lands fully open on the last step.
		if t > gripperOpenStart {
			s.setGripperFraction(q, (1-t)/(1-gripperOpenStart))
		} else {
			s.model.SetGripper(q, false)
		}
		s.model.ClampToLimits(q)
		traj.Steps = append(traj.Steps, q)
	}
	traj.Phases = append(traj.Phases, Phase{Name: "release", Start: begin, End: len(traj.Steps)})
	return nil
}

// setGripperFraction writes a partially closed gripper setpoint, f=0 fully
// open through f=1 fully closed.
func (s *Synthesizer) setGripperFraction(q []float64, f float64) {
	g := s.model.Gripper
	if g == nil || g.Joint >= len(q) {
		return
	}
	q[g.Joint] = g.Open + f*(g.Closed-g.Open)
}

func phaseSteps(n int, frac float64) int {
	steps := int(frac * float64(n))
	if steps < 1 {
		steps = 1
	}
	return steps
}

func lerp(from, to []float64, u float64) []float64 {
	q := make([]float64, len(from))
	for i := range from {
		q[i] = from[i] + (to[i]-from[i])*u
	}
	return q
}
