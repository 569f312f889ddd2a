// Package kinsim is the built-in minimal physics scene: a table top, one arm,
// and a free-body bottle. It exists so simulations still run when no external
// engine is installed. Dynamics are deliberately simple — semi-implicit Euler
// joint integration, gravity with inelastic table rest for the free body, and
// spring-penalty contact forces.
package kinsim

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/armkit/manipsim/armmodel"
	"github.com/armkit/manipsim/physics"
	"github.com/armkit/manipsim/spatialmath"
)

const (
	defaultTimestep = 0.002
	tableTop        = 0.17
	gravity         = 9.81
	jointDamping    = 2.0

	// Contact model constants: spring stiffness for table penetration and
	// finger-object proximity, and the radius inside which the gripper is
	// considered pressing on the object.
	tableStiffness  = 400.0
	objectStiffness = 150.0
	contactRadius   = 0.08

	velocityCeiling = 1e3
)

type sceneObject struct {
	name       string
	initial    r3.Vector
	halfHeight float64
	addr       physics.FreeJointAddress
}

// Engine is the built-in scene. It is not safe for concurrent use; a session
// owns it exclusively.
type Engine struct {
	model    *armmodel.Model
	logger   golog.Logger
	timestep float64

	qpos []float64
	qvel []float64
	ctrl []float64

	objects []sceneObject
	poses   map[string]spatialmath.Pose
	contact float64
}

// Option configures the built-in scene.
type Option func(*Engine)

// WithTimestep overrides the default 2 ms step.
func WithTimestep(dt float64) Option {
	return func(e *Engine) { e.timestep = dt }
}

// WithObjectPosition overrides the bottle's initial position.
func WithObjectPosition(pos r3.Vector) Option {
	return func(e *Engine) { e.objects[0].initial = pos }
}

// NewEngine builds the minimal scene for an arm model.
func NewEngine(model *armmodel.Model, logger golog.Logger, opts ...Option) (*Engine, error) {
	if model == nil {
		return nil, errors.New("kinsim: nil arm model")
	}
	e := &Engine{
		model:    model,
		logger:   logger,
		timestep: defaultTimestep,
		objects: []sceneObject{{
			name:       physics.BodyObject,
			initial:    r3.Vector{X: 0.05, Y: -0.20, Z: 0.23},
			halfHeight: 0.06,
		}},
		poses: map[string]spatialmath.Pose{},
	}
	for _, opt := range opts {
		opt(e)
	}

	nq := model.DOF
	nv := model.DOF
	for i := range e.objects {
		e.objects[i].addr = physics.FreeJointAddress{QPos: nq, DOF: nv}
		nq += 7
		nv += 6
	}
	e.qpos = make([]float64, nq)
	e.qvel = make([]float64, nv)
	e.ctrl = make([]float64, model.DOF)

	e.Reset()
	logger.Debugw("built-in scene ready", "model", model.Name, "dof", nq, "timestep", e.timestep)
	return e, nil
}

// Timestep returns the fixed step size in seconds.
func (e *Engine) Timestep() float64 { return e.timestep }

// DOF returns the length of the position buffer.
func (e *Engine) DOF() int { return len(e.qpos) }

// JointPositions returns a copy of the position buffer.
func (e *Engine) JointPositions() []float64 {
	out := make([]float64, len(e.qpos))
	copy(out, e.qpos)
	return out
}

// SetJointPositions overwrites the position buffer.
func (e *Engine) SetJointPositions(q []float64) error {
	if len(q) > len(e.qpos) {
		return errors.Errorf("kinsim: got %d joint positions, scene has %d", len(q), len(e.qpos))
	}
	copy(e.qpos, q)
	return nil
}

// JointVelocities returns a copy of the velocity buffer.
func (e *Engine) JointVelocities() []float64 {
	out := make([]float64, len(e.qvel))
	copy(out, e.qvel)
	return out
}

// SetControl sets actuator efforts for the arm joints.
func (e *Engine) SetControl(ctrl []float64) error {
	if len(ctrl) != e.model.DOF {
		return errors.Errorf("kinsim: got %d controls, arm has %d actuators", len(ctrl), e.model.DOF)
	}
	copy(e.ctrl, ctrl)
	return nil
}

// Step advances the world one timestep.
func (e *Engine) Step() error {
	dt := e.timestep

	// Arm joints: actuator effort acts as acceleration against viscous
	// damping, with hard stops at the limits.
	for i := 0; i < e.model.DOF; i++ {
		acc := e.ctrl[i] - jointDamping*e.qvel[i]
		e.qvel[i] += dt * acc
		e.qpos[i] += dt * e.qvel[i]
		lim := e.model.Limits[i]
		if e.qpos[i] < lim.Min {
			e.qpos[i] = lim.Min
			e.qvel[i] = 0
		} else if e.qpos[i] > lim.Max {
			e.qpos[i] = lim.Max
			e.qvel[i] = 0
		}
	}

	// Free bodies: gravity, then inelastic rest on the table.
	for _, obj := range e.objects {
		qa, da := obj.addr.QPos, obj.addr.DOF
		e.qvel[da+2] -= gravity * dt
		for k := 0; k < 3; k++ {
			e.qpos[qa+k] += dt * e.qvel[da+k]
		}
		if e.qpos[qa+2]-obj.halfHeight < tableTop {
			e.qpos[qa+2] = tableTop + obj.halfHeight
			for k := 0; k < 6; k++ {
				e.qvel[da+k] = 0
			}
		}
	}

	for i, v := range e.qpos {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("kinsim: non-finite position at index %d", i)
		}
	}
	for _, v := range e.qvel {
		if math.Abs(v) > velocityCeiling {
			return errors.New("kinsim: diverging velocity, aborting step")
		}
	}

	e.Forward()
	e.contact = e.contactForce()
	return nil
}

// Forward recomputes derived body poses from the current positions.
func (e *Engine) Forward() {
	e.poses[physics.BodyBase] = spatialmath.NewPoseFromPoint(e.model.Base)
	static, moving := e.model.FingerPoses(e.qpos)
	e.poses[physics.BodyStaticFinger] = static
	e.poses[physics.BodyMovingFinger] = moving
	for _, obj := range e.objects {
		qa := obj.addr.QPos
		e.poses[obj.name] = spatialmath.NewPose(
			r3.Vector{X: e.qpos[qa], Y: e.qpos[qa+1], Z: e.qpos[qa+2]},
			quatFromSlice(e.qpos[qa+3:qa+7]),
		)
	}
}

// Reset restores the initial scene: arm at home, bottle on the table.
func (e *Engine) Reset() {
	for i := range e.qpos {
		e.qpos[i] = 0
	}
	for i := range e.qvel {
		e.qvel[i] = 0
	}
	for i := range e.ctrl {
		e.ctrl[i] = 0
	}
	for _, obj := range e.objects {
		qa := obj.addr.QPos
		e.qpos[qa] = obj.initial.X
		e.qpos[qa+1] = obj.initial.Y
		e.qpos[qa+2] = obj.initial.Z
		e.qpos[qa+3] = 1 // identity quaternion
	}
	e.contact = 0
	e.Forward()
}

// BodyPose returns the world pose of a named body.
func (e *Engine) BodyPose(name string) (spatialmath.Pose, error) {
	p, ok := e.poses[name]
	if !ok {
		return spatialmath.Pose{}, errors.Wrap(physics.ErrUnknownBody, name)
	}
	return p, nil
}

// FreeJoint returns the buffer addresses of a named free body.
func (e *Engine) FreeJoint(name string) (physics.FreeJointAddress, bool) {
	for _, obj := range e.objects {
		if obj.name == name {
			return obj.addr, true
		}
	}
	return physics.FreeJointAddress{}, false
}

// SetFreeJointPose overwrites a free body's pose entries.
func (e *Engine) SetFreeJointPose(addr physics.FreeJointAddress, pose spatialmath.Pose) {
	qa := addr.QPos
	if qa+7 > len(e.qpos) {
		return
	}
	e.qpos[qa] = pose.Point.X
	e.qpos[qa+1] = pose.Point.Y
	e.qpos[qa+2] = pose.Point.Z
	o := spatialmath.Normalize(pose.Orientation)
	e.qpos[qa+3] = o.Real
	e.qpos[qa+4] = o.Imag
	e.qpos[qa+5] = o.Jmag
	e.qpos[qa+6] = o.Kmag
}

// ZeroFreeJointVelocity zeroes a free body's velocity entries.
func (e *Engine) ZeroFreeJointVelocity(addr physics.FreeJointAddress) {
	da := addr.DOF
	if da+6 > len(e.qvel) {
		return
	}
	for k := 0; k < 6; k++ {
		e.qvel[da+k] = 0
	}
}

// ContactForce is the total contact force magnitude from the last step.
func (e *Engine) ContactForce() float64 { return e.contact }

// Close releases engine resources.
func (e *Engine) Close() error { return nil }

func (e *Engine) contactForce() float64 {
	var f float64
	ee := e.poses[physics.BodyMovingFinger]
	if pen := tableTop - ee.Point.Z; pen > 0 {
		f += tableStiffness * pen
	}
	static := e.poses[physics.BodyStaticFinger]
	mid := static.Point.Add(ee.Point).Mul(0.5)
	for _, obj := range e.objects {
		if d := e.poses[obj.name].Point.Sub(mid).Norm(); d < contactRadius {
			f += objectStiffness * (contactRadius - d)
		}
	}
	return f
}

func quatFromSlice(s []float64) quat.Number {
	return quat.Number{Real: s[0], Imag: s[1], Jmag: s[2], Kmag: s[3]}
}
