// Package physics abstracts the engine that steps the simulated world. The
// simulator only needs forward kinematics recomputation, dynamic stepping,
// named-body lookup, joint state access, free-joint addressing, and a
// contact-force query; any engine providing those can be plugged in.
package physics

import (
	"github.com/pkg/errors"

	"github.com/armkit/manipsim/spatialmath"
)

// Well-known body names in a manipulation scene.
const (
	BodyEndEffector  = "gripper_moving_finger"
	BodyStaticFinger = "gripper_static_finger"
	BodyMovingFinger = "gripper_moving_finger"
	BodyObject       = "cleaning_bottle"
	BodyBase         = "base_link"
)

// ErrUnavailable is returned when a required engine capability is not
// installed. Callers fall back to the built-in minimal scene.
var ErrUnavailable = errors.New("physics engine unavailable")

// ErrUnknownBody is returned for lookups of bodies absent from the scene.
var ErrUnknownBody = errors.New("no such body in scene")

// FreeJointAddress locates a free body's state within the engine's
// position and velocity buffers.
type FreeJointAddress struct {
	// QPos is the index of the first of 7 position entries (3 translation,
	// 4 quaternion).
	QPos int
	// DOF is the index of the first of 6 velocity entries.
	DOF int
}

// Engine is a stepping physics engine owning the joint-space state buffers.
// Implementations are not required to be safe for concurrent use; a
// simulation session owns its engine exclusively.
type Engine interface {
	// Timestep is the fixed step size in seconds.
	Timestep() float64
	// DOF is the length of the position buffer, arm joints first and any
	// free-joint entries after them.
	DOF() int

	// JointPositions returns a copy of the position buffer.
	JointPositions() []float64
	// SetJointPositions overwrites the position buffer.
	SetJointPositions(q []float64) error
	// JointVelocities returns a copy of the velocity buffer.
	JointVelocities() []float64

	// SetControl sets the actuator efforts for the arm joints.
	SetControl(ctrl []float64) error
	// Step advances the world one timestep. A returned error is a fatal
	// simulation fault; the in-progress action must abort.
	Step() error
	// Forward recomputes derived body poses from the current positions
	// without advancing time.
	Forward()
	// Reset restores the initial scene.
	Reset()

	// BodyPose returns the world pose of a named body.
	BodyPose(name string) (spatialmath.Pose, error)
	// FreeJoint returns the buffer addresses of a named free body.
	FreeJoint(name string) (FreeJointAddress, bool)
	// SetFreeJointPose overwrites a free body's pose entries.
	SetFreeJointPose(addr FreeJointAddress, pose spatialmath.Pose)
	// ZeroFreeJointVelocity zeroes a free body's velocity entries.
	ZeroFreeJointVelocity(addr FreeJointAddress)

	// ContactForce is the total contact force magnitude, newtons, from the
	// most recent step.
	ContactForce() float64

	// Close releases engine resources.
	Close() error
}
