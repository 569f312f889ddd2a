// Package ik solves inverse kinematics for the bundled arm models with a
// closed-form planar seed followed by a bounded iterative refinement.
package ik

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/armkit/manipsim/action"
	"github.com/armkit/manipsim/armmodel"
)

const (
	// defaultIterations bounds the refinement loop. The analytic seed is
	// already close for most of the workspace, so the loop mostly cleans
	// up the wrist contribution and clamped elbow configurations.
	defaultIterations = 15
	preciseIterations = 30

	// defaultAccuracy is the position error at which refinement stops.
	defaultAccuracy = 0.02

	// warnResidual is the residual above which a solution is reported as
	// degraded. Solutions are still returned; downstream tolerances for
	// attachment and placement are far looser than this.
	warnResidual = 0.05

	minPlanarTarget = 0.05
)

// Solution is the outcome of a solve. Config is always populated with the
// best configuration seen, even when the residual exceeds the accuracy goal.
type Solution struct {
	Config []float64
	// Err is the Cartesian distance between the forward kinematics of
	// Config and Target.
	Err float64
	// Target is the position actually solved for. It differs from the
	// requested target when Rescaled is set.
	Target r3.Vector
	// Rescaled reports that the requested target was beyond the
	// calibrated reach and was pulled back toward the base.
	Rescaled bool
	Warnings []string
}

// Solver produces joint configurations reaching Cartesian targets.
type Solver struct {
	model      *armmodel.Model
	logger     golog.Logger
	iterations int
	accuracy   float64
}

// NewSolver returns a solver tuned for trajectory waypoints.
func NewSolver(model *armmodel.Model, logger golog.Logger) *Solver {
	return &Solver{model: model, logger: logger, iterations: defaultIterations, accuracy: defaultAccuracy}
}

// NewPreciseSolver returns a solver with a deeper refinement budget, used for
// grasp and release waypoints where residual error eats into the attachment
// tolerance.
func NewPreciseSolver(model *armmodel.Model, logger golog.Logger) *Solver {
	return &Solver{model: model, logger: logger, iterations: preciseIterations, accuracy: defaultAccuracy}
}

// Solve computes a configuration whose end effector reaches target. The seed
// provides the starting configuration and the length of the returned one;
// entries past the arm's DOF are carried through untouched. The action class
// selects the calibration entry, which fixes the heading offset and the reach
// envelope. Solve only fails on context cancellation; degraded solutions are
// returned with a warning attached.
func (s *Solver) Solve(ctx context.Context, target r3.Vector, seed []float64, class action.Class) (*Solution, error) {
	sol := &Solution{Target: target}
	cal := s.model.Calibration(class)

	rel := target.Sub(s.model.Base)
	if dist := rel.Norm(); dist > cal.MaxReach {
		reach := cal.MaxReach * cal.ReachScale
		horiz := math.Hypot(rel.X, rel.Y)
		if math.Abs(rel.Z) < reach && horiz > 1e-9 {
			// Pull in only the horizontal component so a clamped lift
			// or approach waypoint keeps its height.
			hs := math.Sqrt(reach*reach-rel.Z*rel.Z) / horiz
			rel = r3.Vector{X: rel.X * hs, Y: rel.Y * hs, Z: rel.Z}
		} else {
			rel = rel.Mul(reach / dist)
		}
		target = s.model.Base.Add(rel)
		sol.Target = target
		sol.Rescaled = true
		s.logger.Debugw("target beyond calibrated reach, rescaled",
			"requested", dist, "max_reach", cal.MaxReach, "target", target)
	}

	q := make([]float64, len(seed))
	copy(q, seed)
	s.seed(q, rel, cal.HeadingOffset)
	s.model.ClampToLimits(q)

	best := make([]float64, len(q))
	copy(best, q)
	bestErr := math.Inf(1)
	prevErr := math.Inf(1)
	lr := 1.0
	for i := 0; i < s.iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pose := s.model.Transform(q)
		errVec := target.Sub(pose.Point)
		e := errVec.Norm()
		if e < bestErr {
			bestErr = e
			copy(best, q)
		}
		if e < s.accuracy {
			break
		}
		if e > prevErr {
			lr *= 0.8
		} else {
			lr = math.Min(lr*1.1, 2.0)
		}
		prevErr = e
		s.refine(q, pose.Point, rel, errVec, lr, cal.HeadingOffset)
		s.model.ClampToLimits(q)
	}

	sol.Config = best
	sol.Err = bestErr
	if bestErr > warnResidual {
		sol.Warnings = append(sol.Warnings, "solution residual above tolerance")
		s.logger.Warnw("ik residual above tolerance",
			"residual", bestErr, "target", target, "class", class)
	}
	return sol, nil
}

// seed writes the closed-form two-link solution into q. The wrist length is
// folded into the forearm, which is exact when the wrist pitch is zero.
func (s *Solver) seed(q []float64, rel r3.Vector, headingOffset float64) {
	m := s.model
	l1 := m.L1
	l2 := m.L2 + m.LW

	if len(q) > 0 {
		q[0] = math.Atan2(rel.Y, rel.X) + headingOffset
	}

	d := rel.Norm()
	d = math.Max(minPlanarTarget, math.Min(d, 0.95*(l1+l2)))

	cosElbow := (l1*l1 + l2*l2 - d*d) / (2 * l1 * l2)
	cosElbow = math.Max(-1, math.Min(1, cosElbow))
	if len(q) > 2 {
		q[2] = math.Pi - math.Acos(cosElbow)
	}

	horiz := math.Hypot(rel.X, rel.Y)
	alpha := math.Atan2(rel.Z, horiz)
	cosBeta := (l1*l1 + d*d - l2*l2) / (2 * l1 * d)
	cosBeta = math.Max(-1, math.Min(1, cosBeta))
	if len(q) > 1 {
		q[1] = alpha - math.Acos(cosBeta)
	}

	if len(q) > 3 {
		q[3] = 0
	}
	if len(q) > 4 {
		q[4] = 0
	}
}

// refine nudges each joint proportionally to the error component it most
// directly affects. Steps are clamped so a bad gradient estimate near a
// joint limit cannot throw the configuration across the workspace.
func (s *Solver) refine(q []float64, actual, rel, errVec r3.Vector, lr, headingOffset float64) {
	m := s.model

	if len(q) > 0 {
		horizErr := math.Hypot(errVec.X, errVec.Y)
		if horizErr > 0.005 {
			desired := math.Atan2(rel.Y, rel.X) + headingOffset
			dy := wrapPi(desired - q[0])
			if math.Abs(dy) > 0.05 {
				q[0] += dy * 0.9
			} else {
				q[0] += clampAbs(dy*lr*0.5, 0.5)
			}
		}
	}

	if len(q) > 1 && math.Abs(errVec.Z) > 0.005 {
		q[1] += clampAbs(errVec.Z*lr*4.0, 0.3)
	}

	var dr float64
	if len(q) > 2 {
		actualR := math.Hypot(actual.X-m.Base.X, actual.Y-m.Base.Y)
		dr = math.Hypot(rel.X, rel.Y) - actualR
		if math.Abs(dr) > 0.005 {
			// The elbow is straight at zero, so extension means
			// moving toward it.
			q[2] -= clampAbs(dr*lr*3.0, 0.3)
		}
	}

	if len(q) > 3 && m.DOF > 3 {
		if math.Abs(errVec.Z) > 0.005 {
			q[3] += clampAbs(errVec.Z*lr*1.0, 0.1)
		}
		// With the elbow pinned at a limit the wrist is the only joint
		// left that can shorten the planar reach.
		elbowPinned := q[2] >= m.Limits[2].Max-1e-9 || q[2] <= m.Limits[2].Min+1e-9
		if elbowPinned && math.Abs(dr) > 0.005 {
			slope := -m.LW * math.Sin(q[1]+q[2]+q[3])
			if math.Abs(slope) > 1e-3 {
				q[3] += clampAbs(dr/slope*lr*0.5, 0.2)
			}
		}
	}
}

func clampAbs(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}

func wrapPi(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
