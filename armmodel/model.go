// Package armmodel describes the arm geometries the simulator can drive: link
// lengths, joint limits, gripper parameters, and per-action-class calibration
// data. Forward kinematics here is pure; probing a candidate configuration
// never touches engine state.
package armmodel

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/armkit/manipsim/action"
	"github.com/armkit/manipsim/spatialmath"
)

// ErrUnknownModel is returned when an arm model identifier is not registered.
var ErrUnknownModel = errors.New("unrecognized arm model")

// Limit is an inclusive joint range in radians.
type Limit struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// GripperParams describes the gripper joint of a model. Aperture values are
// joint positions: Open is fully open and Closed is the tight-grasp setpoint.
type GripperParams struct {
	Joint           int     // index of the gripper joint
	Open            float64 // aperture setpoint when open
	Closed          float64 // aperture setpoint for a tight grasp
	ClosedThreshold float64 // below this the gripper counts as closed
	OpenThreshold   float64 // above this the gripper counts as open
	SpanOpen        float64 // finger separation when fully open, meters
	SpanClosed      float64 // finger separation when fully closed, meters
}

// ControlParams are the tracking-controller gains and effort ceiling tuned
// for a model.
type ControlParams struct {
	P         float64
	D         float64
	MaxEffort float64
}

// Model is one arm geometry. L1 and L2 are the shoulder-elbow and
// elbow-wrist link lengths of the planar approximation; LW is the wrist to
// fingertip extension. MountYaw is the fixed yaw between the base joint angle
// and the fingertip bearing introduced by the gripper mounting.
type Model struct {
	Name     string
	DOF      int
	Base     r3.Vector
	L1       float64
	L2       float64
	LW       float64
	MountYaw float64
	Limits   []Limit
	Gripper  *GripperParams
	Control  ControlParams

	calibration Table
}

// SixDOF is the 6-DOF cleaning arm with a two-finger gripper.
const SixDOF = "cleaner6"

// ThreeDOF is the reduced 3-DOF arm used for controller tests.
const ThreeDOF = "test3"

// ByName returns a fresh copy of the named model.
func ByName(name string) (*Model, error) {
	switch name {
	case SixDOF:
		return &Model{
			Name:     SixDOF,
			DOF:      6,
			Base:     r3.Vector{Z: 0.17},
			L1:       0.12,
			L2:       0.18,
			LW:       0.05,
			MountYaw: 1.4,
			Limits: []Limit{
				{-2.2, 2.2},
				{-1.57, 0.6},
				{-1.57, 1.45},
				{-2.0, 2.0},
				{-3.14, 3.14},
				{-1.6, 0.032},
			},
			Gripper: &GripperParams{
				Joint:           5,
				Open:            0.0,
				Closed:          -1.4,
				ClosedThreshold: -0.7,
				OpenThreshold:   -0.35,
				SpanOpen:        0.10,
				SpanClosed:      0.02,
			},
			Control:     ControlParams{P: 80, D: 18, MaxEffort: 80},
			calibration: defaultSixDOFTable,
		}, nil
	case ThreeDOF:
		return &Model{
			Name: ThreeDOF,
			DOF:  3,
			Base: r3.Vector{Z: 0.05},
			L1:   0.20,
			L2:   0.25,
			Limits: []Limit{
				{-math.Pi, math.Pi},
				{-math.Pi / 2, math.Pi / 2},
				{-math.Pi / 2, math.Pi / 2},
			},
			Control:     ControlParams{P: 20, D: 5, MaxEffort: 50},
			calibration: defaultThreeDOFTable,
		}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownModel, "%q", name)
	}
}

// Transform computes the end-effector pose for a configuration. Only the
// first DOF entries of q are read; free-joint entries may trail them.
func (m *Model) Transform(q []float64) spatialmath.Pose {
	heading := -m.MountYaw
	if len(q) > 0 {
		heading += q[0]
	}
	var p1, p12, p123, roll float64
	if len(q) > 1 {
		p1 = q[1]
		p12 = q[1]
	}
	if len(q) > 2 {
		p12 = q[1] + q[2]
		p123 = p12
	}
	if len(q) > 3 {
		p123 = p12 + q[3]
	}
	if len(q) > 4 {
		roll = q[4]
	}

	r := m.L1*math.Cos(p1) + m.L2*math.Cos(p12) + m.LW*math.Cos(p123)
	z := m.Base.Z + m.L1*math.Sin(p1) + m.L2*math.Sin(p12) + m.LW*math.Sin(p123)

	pt := r3.Vector{
		X: m.Base.X + r*math.Cos(heading),
		Y: m.Base.Y + r*math.Sin(heading),
		Z: z,
	}
	o := quat.Mul(
		spatialmath.RotationAboutZ(heading),
		quat.Mul(spatialmath.RotationAboutY(-p123), spatialmath.RotationAboutX(roll)),
	)
	return spatialmath.NewPose(pt, o)
}

// ApproachVector returns the unit vector along which the gripper approaches,
// in world coordinates. A near-zero Z component means a horizontal (side)
// approach.
func (m *Model) ApproachVector(q []float64) r3.Vector {
	return spatialmath.QuatRotate(m.Transform(q).Orientation, r3.Vector{X: 1})
}

// FingerPoses returns the world poses of the static and moving gripper
// contact surfaces for a configuration. Models without a gripper report the
// end-effector pose for both.
func (m *Model) FingerPoses(q []float64) (spatialmath.Pose, spatialmath.Pose) {
	ee := m.Transform(q)
	if m.Gripper == nil {
		return ee, ee
	}
	half := m.fingerSpan(q) / 2
	static := spatialmath.Compose(ee, spatialmath.NewPoseFromPoint(r3.Vector{Y: half}))
	moving := spatialmath.Compose(ee, spatialmath.NewPoseFromPoint(r3.Vector{Y: -half}))
	return static, moving
}

func (m *Model) fingerSpan(q []float64) float64 {
	g := m.Gripper
	if g.Joint >= len(q) {
		return g.SpanOpen
	}
	lim := m.Limits[g.Joint]
	frac := (q[g.Joint] - lim.Min) / (lim.Max - lim.Min)
	frac = math.Max(0, math.Min(1, frac))
	return g.SpanClosed + frac*(g.SpanOpen-g.SpanClosed)
}

// ClampToLimits clamps the arm joints of q in place. Trailing free-joint
// entries are left untouched.
func (m *Model) ClampToLimits(q []float64) {
	n := m.DOF
	if len(q) < n {
		n = len(q)
	}
	for i := 0; i < n; i++ {
		if q[i] < m.Limits[i].Min {
			q[i] = m.Limits[i].Min
		} else if q[i] > m.Limits[i].Max {
			q[i] = m.Limits[i].Max
		}
	}
}

// Home returns the model's home configuration.
func (m *Model) Home() []float64 {
	return make([]float64, m.DOF)
}

// SetGripper writes the open or closed gripper setpoint into q.
func (m *Model) SetGripper(q []float64, open bool) {
	if m.Gripper == nil || m.Gripper.Joint >= len(q) {
		return
	}
	if open {
		q[m.Gripper.Joint] = m.Gripper.Open
	} else {
		q[m.Gripper.Joint] = m.Gripper.Closed
	}
}

// GripperClosed reports whether the gripper aperture in q counts as closed.
func (m *Model) GripperClosed(q []float64) bool {
	if m.Gripper == nil || m.Gripper.Joint >= len(q) {
		return false
	}
	return q[m.Gripper.Joint] < m.Gripper.ClosedThreshold
}

// GripperOpen reports whether the gripper aperture in q counts as open.
func (m *Model) GripperOpen(q []float64) bool {
	if m.Gripper == nil || m.Gripper.Joint >= len(q) {
		return true
	}
	return q[m.Gripper.Joint] > m.Gripper.OpenThreshold
}

// MaxPlanarReach is the full extension of the planar chain.
func (m *Model) MaxPlanarReach() float64 {
	return m.L1 + m.L2 + m.LW
}

// Calibration returns the calibration entry for an action class.
func (m *Model) Calibration(c action.Class) Calibration {
	return m.calibration.ForClass(c)
}

// ApplyCalibration replaces the model's calibration table, e.g. after
// loading retargeted values from a file.
func (m *Model) ApplyCalibration(t Table) {
	m.calibration = t
}
