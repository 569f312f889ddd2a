package trajectory

import (
	"context"
	"math"

	"github.com/golang/geo/r3"

	"github.com/armkit/manipsim/action"
	"github.com/armkit/manipsim/spatialmath"
)

// graspConfig searches joint space for a configuration whose gripper lands on
// the target with a near-horizontal approach. Plain IK is not enough here:
// it ignores the approach direction, and a grasp that comes in from above
// pushes the object over instead of closing around it. The score is returned
// alongside the configuration; small means both close and level.
func (s *Synthesizer) graspConfig(ctx context.Context, target r3.Vector) ([]float64, float64, error) {
	m := s.model
	if m.DOF < 6 {
		sol, err := s.precise.Solve(ctx, target, m.Home(), action.ClassGrasp)
		if err != nil {
			return nil, 0, err
		}
		return sol.Config, sol.Err, nil
	}

	cal := m.Calibration(action.ClassGrasp)
	rel := target.Sub(m.Base)
	if dist := rel.Norm(); dist > cal.MaxReach {
		rel = rel.Mul(cal.MaxReach * cal.ReachScale / dist)
		target = m.Base.Add(rel)
	}

	bases := gridRange(m.Limits[0].Min, m.Limits[0].Max, 25)
	shoulders := gridRange(-1.2, 0.4, 12)
	elbows := gridRange(-0.2, 1.45, 12)
	wrists := []float64{-2.0, -1.5, -1.0, -0.5, 0, 0.5, 1.0}

	best := m.Home()
	bestScore := math.Inf(1)
	q := m.Home()
search:
	for _, b := range bases {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		q[0] = b
		for _, sh := range shoulders {
			q[1] = sh
			for _, el := range elbows {
				q[2] = el
				for _, w := range wrists {
					q[3] = w
					sc := s.graspScore(q, target)
					if sc < bestScore {
						bestScore = sc
						copy(best, q)
						if bestScore < 0.02 {
							break search
						}
					}
				}
			}
		}
	}

	if bestScore > 0.03 {
		refined := append([]float64(nil), best...)
		deltas := gridRange(-0.2, 0.2, 9)
		for _, db := range deltas {
			for _, ds := range deltas {
				for _, de := range deltas {
					copy(q, best)
					q[0] += db
					q[1] += ds
					q[2] += de
					m.ClampToLimits(q)
					if sc := s.graspScore(q, target); sc < bestScore {
						bestScore = sc
						copy(refined, q)
					}
				}
			}
		}
		copy(best, refined)
	}
	return best, bestScore, nil
}

// graspScore combines distance to the target with a penalty on the vertical
// component of the approach direction.
func (s *Synthesizer) graspScore(q []float64, target r3.Vector) float64 {
	pose := s.model.Transform(q)
	posErr := pose.Point.Sub(target).Norm()
	approach := spatialmath.QuatRotate(pose.Orientation, r3.Vector{X: 1})
	return posErr + 0.05*math.Abs(approach.Z)
}

func gridRange(min, max float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = min + (max-min)*float64(i)/float64(n-1)
	}
	return out
}
