// Package sim turns manipulation action records into simulated executions:
// each action is synthesized into a joint trajectory, tracked by a PD
// controller stepping a physics engine, and validated after the fact.
package sim

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/armkit/manipsim/action"
	"github.com/armkit/manipsim/armmodel"
	"github.com/armkit/manipsim/physics"
	"github.com/armkit/manipsim/physics/kinsim"
	"github.com/armkit/manipsim/trajectory"
)

// contactReportThreshold is the force, newtons, above which a step is
// recorded as a contact event.
const contactReportThreshold = 0.1

// Default Cartesian targets for actions that don't aim at the tracked
// object. These are scene constants for the built-in table top.
var (
	defaultSurfaceTarget = r3.Vector{X: 0.15, Y: 0, Z: 0.17}
	circularScrubTarget  = r3.Vector{X: 0.15, Y: 0.05, Z: 0.17}
	backForthScrubTarget = r3.Vector{X: 0.15, Y: -0.08, Z: 0.17}
	placementOffset      = r3.Vector{X: 0.10, Y: 0.05, Z: -0.02}
	applyHeightOffset    = 0.03
	minPlacementTargetZ  = 0.20
)

// Config assembles a simulation session.
type Config struct {
	// ModelName selects the arm, armmodel.SixDOF when empty.
	ModelName string
	// Engine plugs in an external physics engine. When nil the built-in
	// minimal scene is used.
	Engine physics.Engine
	Logger golog.Logger
	// Clock paces real-time tracking; swappable for tests. Defaults to
	// the wall clock.
	Clock clock.Clock
	// RealTime paces physics steps to wall time instead of running flat
	// out.
	RealTime bool
	// CalibrationPath optionally replaces the model's built-in
	// calibration table with one loaded from a JSON file.
	CalibrationPath string
}

// Session owns an engine and simulates actions against it sequentially. The
// world state persists between actions so a grasped object carries into a
// following placement. Not safe for concurrent use.
type Session struct {
	model     *armmodel.Model
	engine    physics.Engine
	ownEngine bool
	synth     *trajectory.Synthesizer
	attach    *attachment
	logger    golog.Logger
	clock     clock.Clock
	realTime  bool
}

// New builds a session from the config.
func New(cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = golog.NewDevelopmentLogger("manipsim")
	}
	name := cfg.ModelName
	if name == "" {
		name = armmodel.SixDOF
	}
	model, err := armmodel.ByName(name)
	if err != nil {
		return nil, err
	}
	if cfg.CalibrationPath != "" {
		table, err := armmodel.LoadCalibration(cfg.CalibrationPath)
		if err != nil {
			return nil, err
		}
		model.ApplyCalibration(table)
	}

	engine := cfg.Engine
	own := false
	if engine == nil {
		engine, err = kinsim.NewEngine(model, logger)
		if err != nil {
			return nil, err
		}
		own = true
	}
	ck := cfg.Clock
	if ck == nil {
		ck = clock.New()
	}
	return &Session{
		model:     model,
		engine:    engine,
		ownEngine: own,
		synth:     trajectory.NewSynthesizer(model, engine.Timestep(), logger),
		attach:    newAttachment(model, engine, logger),
		logger:    logger,
		clock:     ck,
		realTime:  cfg.RealTime,
	}, nil
}

// Close releases the engine if the session created it.
func (s *Session) Close() error {
	if s.ownEngine {
		return s.engine.Close()
	}
	return nil
}

// Model returns the session's arm model.
func (s *Session) Model() *armmodel.Model { return s.model }

// Engine returns the session's physics engine.
func (s *Session) Engine() physics.Engine { return s.engine }

// Result is one simulated action with everything recorded about it.
type Result struct {
	Action     action.Spec            `json:"action"`
	Success    bool                   `json:"success"`
	Trajectory *trajectory.Trajectory `json:"-"`
	Telemetry  *Telemetry             `json:"-"`
	Validation Validation             `json:"validation"`
	Motion     MotionLog              `json:"motion"`
	// SimulatedDuration is the simulated seconds actually stepped.
	SimulatedDuration float64 `json:"simulated_duration"`
}

// Simulate runs one action against a default target derived from the scene:
// grasps aim at the tracked object, placements offset from it, and surface
// actions aim at fixed table spots.
func (s *Session) Simulate(ctx context.Context, spec action.Spec) (*Result, error) {
	target, err := s.defaultTarget(spec)
	if err != nil {
		return nil, err
	}
	return s.SimulateAt(ctx, spec, target)
}

// SimulateAt runs one action aimed at an explicit Cartesian target. A fatal
// engine fault aborts the action mid-flight and is reported through the
// result's validation issues, not the error; the error is reserved for
// synthesis failures and context cancellation.
func (s *Session) SimulateAt(ctx context.Context, spec action.Spec, target r3.Vector) (*Result, error) {
	s.logger.Infow("simulating action",
		"type", spec.Type.String(), "duration", spec.Duration, "target", target)
	s.prepare(spec, target)

	traj, err := s.synth.Synthesize(ctx, spec, s.engine.JointPositions(), target)
	if err != nil {
		return nil, err
	}
	for _, w := range traj.Warnings {
		s.logger.Warnw("trajectory warning", "type", spec.Type.String(), "warning", w)
	}

	tel, trackErr := s.track(ctx, spec, traj)
	if trackErr != nil && ctx.Err() != nil {
		return nil, trackErr
	}

	val := validate(spec, tel, target)
	if trackErr != nil {
		val.Valid = false
		val.Issues = append(val.Issues, trackErr.Error())
		s.logger.Errorw("action aborted", "type", spec.Type.String(), "error", trackErr)
	}
	res := &Result{
		Action:            spec,
		Success:           trackErr == nil && val.Valid,
		Trajectory:        traj,
		Telemetry:         tel,
		Validation:        val,
		Motion:            s.motionLog(tel, target),
		SimulatedDuration: float64(len(tel.Joints)) * traj.Timestep,
	}
	s.logger.Infow("action finished",
		"type", spec.Type.String(), "success", res.Success, "issues", val.Issues)
	return res, nil
}

// RunSequence simulates actions in order against the shared world. Failed
// validations don't stop the run; synthesis errors skip the action, reset
// the world, and are folded into the combined error.
func (s *Session) RunSequence(ctx context.Context, specs []action.Spec) ([]*Result, error) {
	results := make([]*Result, 0, len(specs))
	var errs error
	for _, spec := range specs {
		res, err := s.Simulate(ctx, spec)
		if err != nil {
			if ctx.Err() != nil {
				return results, multierr.Append(errs, err)
			}
			errs = multierr.Append(errs, errors.Wrapf(err, "action %d (%s)", spec.Order, spec.Type))
			s.attach.clear()
			s.engine.Reset()
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// prepare sets up the world for an action. Placements inherit the world as
// the previous action left it, so a held object stays held. Everything else
// starts from a reset scene; grasps start at home while other actions start
// already facing the target.
func (s *Session) prepare(spec action.Spec, target r3.Vector) {
	class := spec.Type.Class()
	if class == action.ClassPlacement {
		return
	}
	s.attach.clear()
	s.engine.Reset()
	if class == action.ClassGrasp {
		return
	}

	cal := s.model.Calibration(class)
	rel := target.Sub(s.model.Base)
	q := s.engine.JointPositions()
	q[0] = clampTo(math.Atan2(rel.Y, rel.X)+cal.HeadingOffset, s.model.Limits[0])
	if err := s.engine.SetJointPositions(q); err != nil {
		s.logger.Errorw("cannot preset heading", "error", err)
		return
	}
	s.engine.Forward()
}

func (s *Session) defaultTarget(spec action.Spec) (r3.Vector, error) {
	switch spec.Type.Class() {
	case action.ClassGrasp:
		pose, err := s.engine.BodyPose(physics.BodyObject)
		if err != nil {
			return r3.Vector{}, errors.Wrap(err, "no graspable object in scene")
		}
		return pose.Point, nil
	case action.ClassPlacement:
		ref, err := s.engine.BodyPose(physics.BodyObject)
		if err != nil {
			return r3.Vector{}, errors.Wrap(err, "no object to place")
		}
		t := ref.Point.Add(placementOffset)
		if t.Z < minPlacementTargetZ {
			t.Z = minPlacementTargetZ
		}
		return t, nil
	}

	switch spec.Type {
	case action.TypeApply, action.TypeRinse:
		if pose, err := s.engine.BodyPose(physics.BodyObject); err == nil {
			return pose.Point.Add(r3.Vector{Z: applyHeightOffset}), nil
		}
		return defaultSurfaceTarget, nil
	case action.TypeScrub:
		if spec.Pattern == action.PatternBackAndForth {
			return backForthScrubTarget, nil
		}
		return circularScrubTarget, nil
	default:
		return defaultSurfaceTarget, nil
	}
}

// track runs the PD controller over the trajectory, stepping the engine once
// per setpoint and recording telemetry.
func (s *Session) track(ctx context.Context, spec action.Spec, traj *trajectory.Trajectory) (*Telemetry, error) {
	tel := newTelemetry(len(traj.Steps))
	dof := s.model.DOF
	gains := s.model.Control
	cal := s.model.Calibration(spec.Type.Class())
	manipulates := spec.Type.Class().Manipulates()
	dt := traj.Timestep
	pace := time.Duration(dt * float64(time.Second))
	ctrl := make([]float64, dof)

	for i, step := range traj.Steps {
		if err := ctx.Err(); err != nil {
			return tel, err
		}
		stepStart := s.clock.Now()
		q := s.engine.JointPositions()
		vel := s.engine.JointVelocities()
		for j := 0; j < dof; j++ {
			u := gains.P*(step[j]-q[j]) - gains.D*vel[j]
			if u > gains.MaxEffort {
				u = gains.MaxEffort
			} else if u < -gains.MaxEffort {
				u = -gains.MaxEffort
			}
			ctrl[j] = u
		}
		if err := s.engine.SetControl(ctrl); err != nil {
			return tel, errors.Wrap(err, "simulation fault")
		}
		if err := s.engine.Step(); err != nil {
			return tel, errors.Wrap(err, "simulation fault")
		}

		opening := manipulates && s.model.GripperOpen(step)
		attached, released, contact := s.attach.update(cal, manipulates, opening)
		if attached && tel.AttachStep < 0 {
			tel.AttachStep = i
		}
		if released && tel.ReleaseStep < 0 {
			tel.ReleaseStep = i
		}
		if s.attach.active() {
			tel.AttachedSteps++
		}
		if contact {
			tel.GripContactSteps++
		}

		now := s.engine.JointPositions()
		tel.Joints = append(tel.Joints, now[:dof:dof])
		force := s.engine.ContactForce()
		tel.Forces = append(tel.Forces, force)
		t := float64(i+1) * dt
		if force > contactReportThreshold {
			tel.Contacts = append(tel.Contacts, ContactEvent{
				Step: i, Time: t, Force: force, Phase: traj.PhaseAt(i),
			})
		}
		if manipulates {
			tel.Grip = append(tel.Grip, GripSample{
				Step:    i,
				Time:    t,
				Closed:  s.model.GripperClosed(now),
				Contact: contact || s.attach.active(),
			})
			if pose, err := s.engine.BodyPose(physics.BodyObject); err == nil {
				tel.Objects = append(tel.Objects, ObjectSample{
					Step: i, Time: t, Position: pose.Point, Attached: s.attach.active(),
				})
			}
		}

		// Pace to wall time by sleeping whatever is left of this step's
		// budget after the compute above.
		if s.realTime {
			if remaining := pace - s.clock.Since(stepStart); remaining > 0 {
				select {
				case <-ctx.Done():
					return tel, ctx.Err()
				case <-s.clock.After(remaining):
				}
			}
		}
	}
	return tel, nil
}

func (s *Session) motionLog(tel *Telemetry, target r3.Vector) MotionLog {
	ml := MotionLog{Target: target}
	if len(tel.Joints) == 0 {
		return ml
	}
	ml.InitialEE = s.model.Transform(tel.Joints[0]).Point
	prev := ml.InitialEE
	for _, q := range tel.Joints[1:] {
		p := s.model.Transform(q).Point
		ml.TotalDistance += p.Sub(prev).Norm()
		prev = p
	}
	ml.FinalEE = prev
	ml.TargetReached = ml.FinalEE.Sub(target).Norm() < 0.05

	if len(tel.Objects) > 0 {
		om := ObjectMotion{
			Name:    physics.BodyObject,
			Initial: tel.Objects[0].Position,
			Final:   tel.Objects[len(tel.Objects)-1].Position,
		}
		for _, sample := range tel.Objects {
			if gain := sample.Position.Z - om.Initial.Z; gain > om.MaxLift {
				om.MaxLift = gain
			}
		}
		ml.Objects = append(ml.Objects, om)
	}
	return ml
}

func clampTo(v float64, lim armmodel.Limit) float64 {
	if v < lim.Min {
		return lim.Min
	}
	if v > lim.Max {
		return lim.Max
	}
	return v
}
