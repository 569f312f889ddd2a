// Package spatialmath defines the spatial mathematical operations used to
// track rigid body poses during simulation.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// defaultEpsilon is the tolerance under which two poses are considered coincident.
const defaultEpsilon = 1e-8

// Pose represents a rigid transformation: a rotation followed by a translation.
type Pose struct {
	Point       r3.Vector
	Orientation quat.Number
}

// NewZeroPose returns an identity pose at the origin.
func NewZeroPose() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose with the given translation and orientation.
func NewPose(pt r3.Vector, o quat.Number) Pose {
	return Pose{Point: pt, Orientation: Normalize(o)}
}

// NewPoseFromPoint returns a pose at the given point with an identity orientation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return Pose{Point: pt, Orientation: quat.Number{Real: 1}}
}

// Compose returns the pose equivalent to applying a, then b, in a's frame.
func Compose(a, b Pose) Pose {
	return Pose{
		Point:       a.Point.Add(QuatRotate(a.Orientation, b.Point)),
		Orientation: Normalize(quat.Mul(a.Orientation, b.Orientation)),
	}
}

// PoseBetween returns the pose of b expressed in the frame of a, such that
// Compose(a, PoseBetween(a, b)) == b.
func PoseBetween(a, b Pose) Pose {
	inv := quat.Conj(Normalize(a.Orientation))
	return Pose{
		Point:       QuatRotate(inv, b.Point.Sub(a.Point)),
		Orientation: Normalize(quat.Mul(inv, b.Orientation)),
	}
}

// Invert returns the inverse transformation of p.
func Invert(p Pose) Pose {
	inv := quat.Conj(Normalize(p.Orientation))
	return Pose{
		Point:       QuatRotate(inv, p.Point.Mul(-1)),
		Orientation: inv,
	}
}

// Transform applies p to the point v.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	return p.Point.Add(QuatRotate(p.Orientation, v))
}

// QuatRotate rotates the vector v by the quaternion q.
func QuatRotate(q quat.Number, v r3.Vector) r3.Vector {
	qn := Normalize(q)
	vq := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	rq := quat.Mul(quat.Mul(qn, vq), quat.Conj(qn))
	return r3.Vector{X: rq.Imag, Y: rq.Jmag, Z: rq.Kmag}
}

// Normalize scales q to a unit quaternion, substituting identity for a
// degenerate input.
func Normalize(q quat.Number) quat.Number {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n < 1e-12 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// RotationAboutZ returns the quaternion for a rotation of theta radians about
// the world Z axis.
func RotationAboutZ(theta float64) quat.Number {
	return quat.Number{Real: math.Cos(theta / 2), Kmag: math.Sin(theta / 2)}
}

// RotationAboutY returns the quaternion for a rotation of theta radians about
// the world Y axis.
func RotationAboutY(theta float64) quat.Number {
	return quat.Number{Real: math.Cos(theta / 2), Jmag: math.Sin(theta / 2)}
}

// RotationAboutX returns the quaternion for a rotation of theta radians about
// the world X axis.
func RotationAboutX(theta float64) quat.Number {
	return quat.Number{Real: math.Cos(theta / 2), Imag: math.Sin(theta / 2)}
}

// AlmostCoincident returns whether two poses are within a small tolerance of
// one another. A quaternion and its negation represent the same rotation.
func AlmostCoincident(a, b Pose) bool {
	if a.Point.Sub(b.Point).Norm() > 1e-6 {
		return false
	}
	qa, qb := Normalize(a.Orientation), Normalize(b.Orientation)
	dot := qa.Real*qb.Real + qa.Imag*qb.Imag + qa.Jmag*qb.Jmag + qa.Kmag*qb.Kmag
	return 1-math.Abs(dot) < defaultEpsilon
}
