package sim

import (
	"math"

	"github.com/edaniels/golog"

	"github.com/armkit/manipsim/armmodel"
	"github.com/armkit/manipsim/physics"
	"github.com/armkit/manipsim/spatialmath"
)

// Gripper contact heuristic distances. These detect finger contact with the
// object before (and independent of) a full attachment.
const (
	gripContactMidpoint = 0.04
	gripContactFinger   = 0.02
)

// attachment welds a grasped object to the end effector. The physics engines
// we drive have no grasp constraint of their own, so once the gripper has
// closed around an object the object's free joint is repositioned after each
// step to follow the hand.
type attachment struct {
	model  *armmodel.Model
	engine physics.Engine
	logger golog.Logger

	held   string
	addr   physics.FreeJointAddress
	offset spatialmath.Pose
}

func newAttachment(model *armmodel.Model, engine physics.Engine, logger golog.Logger) *attachment {
	return &attachment{model: model, engine: engine, logger: logger}
}

func (a *attachment) active() bool { return a.held != "" }

// clear drops any attachment without touching the object.
func (a *attachment) clear() { a.held = "" }

// update runs once after every physics step. It repositions a held object,
// releases it when the gripper opens, and engages a new attachment when the
// closed gripper is near enough to the object. The calibration entry
// supplies the engagement distances for the current action class. opening
// reports that the controller's current setpoint commands the gripper open.
// The returned flags report an attach event, a release event, and the
// gripper contact heuristic for this step.
func (a *attachment) update(cal armmodel.Calibration, manipulates, opening bool) (attached, released, contact bool) {
	q := a.engine.JointPositions()
	static, moving := a.model.FingerPoses(q)
	mid := static.Point.Add(moving.Point).Mul(0.5)

	objPose, err := a.engine.BodyPose(physics.BodyObject)
	if err == nil {
		midDist := objPose.Point.Sub(mid).Norm()
		fingerDist := math.Min(
			objPose.Point.Sub(static.Point).Norm(),
			objPose.Point.Sub(moving.Point).Norm(),
		)
		contact = (a.model.GripperClosed(q) && midDist < gripContactMidpoint) ||
			fingerDist < gripContactFinger

		if !a.active() && manipulates && a.model.GripperClosed(q) &&
			midDist < cal.AttachMidpoint && fingerDist < cal.AttachFinger {
			ee := a.model.Transform(q)
			if addr, ok := a.engine.FreeJoint(physics.BodyObject); ok {
				a.held = physics.BodyObject
				a.addr = addr
				a.offset = spatialmath.PoseBetween(ee, objPose)
				a.logger.Debugw("object attached",
					"midpoint_dist", midDist, "finger_dist", fingerDist)
				attached = true
			}
		}
	}

	if !a.active() {
		return attached, false, contact
	}

	// An open gripper always releases, regardless of distance. The
	// commanded state counts too: the finger servo lags the open ramp by
	// more than the tail of a short release phase, so waiting for the
	// measured aperture would carry the object past the end of the action.
	if opening || a.model.GripperOpen(q) {
		a.logger.Debugw("object released", "object", a.held)
		a.held = ""
		return attached, true, contact
	}

	ee := a.model.Transform(q)
	a.engine.SetFreeJointPose(a.addr, spatialmath.Compose(ee, a.offset))
	a.engine.ZeroFreeJointVelocity(a.addr)
	a.engine.Forward()
	return attached, false, contact
}
