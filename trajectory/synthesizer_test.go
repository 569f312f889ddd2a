package trajectory

import (
	"context"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/armkit/manipsim/action"
	"github.com/armkit/manipsim/armmodel"
)

const testTimestep = 0.002

func newTestSynthesizer(t *testing.T) (*Synthesizer, *armmodel.Model) {
	t.Helper()
	m, err := armmodel.ByName(armmodel.SixDOF)
	test.That(t, err, test.ShouldBeNil)
	return NewSynthesizer(m, testTimestep, golog.NewTestLogger(t)), m
}

func TestProfiles(t *testing.T) {
	for _, p := range []Profile{ProfileSmoothstep, ProfileEaseInOut, ProfileTrapezoidal} {
		test.That(t, p.Interpolate(-0.5), test.ShouldEqual, 0)
		test.That(t, p.Interpolate(0), test.ShouldEqual, 0)
		test.That(t, p.Interpolate(1), test.ShouldEqual, 1)
		test.That(t, p.Interpolate(1.5), test.ShouldEqual, 1)
		test.That(t, p.Interpolate(0.5), test.ShouldAlmostEqual, 0.5, 1e-9)

		prev := 0.0
		for u := 0.05; u < 1; u += 0.05 {
			v := p.Interpolate(u)
			test.That(t, v, test.ShouldBeGreaterThan, prev)
			prev = v
		}
	}
}

func TestSynthesizeWaitMovesThenHolds(t *testing.T) {
	s, m := newTestSynthesizer(t)
	target := r3.Vector{X: 0.28 * math.Cos(-0.3), Y: 0.28 * math.Sin(-0.3), Z: 0.2}

	traj, err := s.Synthesize(context.Background(), action.Spec{Type: action.TypeWait, Duration: 1}, m.Home(), target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(traj.Steps), test.ShouldEqual, 500)

	// reaches the target by the 30% mark and then never moves again
	move, ok := traj.PhaseByName("move")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, move.End, test.ShouldEqual, 150)
	test.That(t, m.Transform(traj.Steps[move.End-1]).Point.Sub(target).Norm(), test.ShouldBeLessThan, 0.02)
	for i := move.End; i < 500; i++ {
		test.That(t, traj.Steps[i], test.ShouldResemble, traj.Steps[move.End-1])
	}
	test.That(t, traj.PhaseAt(499), test.ShouldEqual, "hold")
}

func TestSynthesizeMoveAndHold(t *testing.T) {
	s, m := newTestSynthesizer(t)
	target := r3.Vector{X: 0.28 * math.Cos(-0.5), Y: 0.28 * math.Sin(-0.5), Z: 0.2}

	traj, err := s.Synthesize(context.Background(), action.Spec{Type: action.TypeMove, Duration: 2}, m.Home(), target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(traj.Steps), test.ShouldEqual, 1000)

	move, ok := traj.PhaseByName("move")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, move.End-move.Start, test.ShouldEqual, 300)
	hold, ok := traj.PhaseByName("hold")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, hold.End, test.ShouldEqual, 1000)

	// settled on the target and stays there
	final := traj.Steps[len(traj.Steps)-1]
	test.That(t, m.Transform(final).Point.Sub(target).Norm(), test.ShouldBeLessThan, 0.02)
	test.That(t, traj.Steps[move.End-1], test.ShouldResemble, final)

	for _, q := range traj.Steps {
		for j, lim := range m.Limits {
			test.That(t, q[j], test.ShouldBeBetweenOrEqual, lim.Min, lim.Max)
		}
	}
}

func TestSynthesizeRejectsNonPositiveDuration(t *testing.T) {
	s, m := newTestSynthesizer(t)
	_, err := s.Synthesize(context.Background(), action.Spec{Type: action.TypeMove, Duration: 0}, m.Home(), r3.Vector{X: 0.2})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "duration")
}

func TestSynthesizeScrubOscillates(t *testing.T) {
	s, m := newTestSynthesizer(t)
	spec := action.Spec{Type: action.TypeScrub, Duration: 3, Force: 5, Pattern: action.PatternCircular}
	target := r3.Vector{X: 0.15, Y: 0.05, Z: 0.17}

	traj, err := s.Synthesize(context.Background(), spec, m.Home(), target)
	test.That(t, err, test.ShouldBeNil)

	scrub, ok := traj.PhaseByName("scrub")
	test.That(t, ok, test.ShouldBeTrue)

	// the pattern actually moves the base joint around its set point
	minQ0, maxQ0 := math.Inf(1), math.Inf(-1)
	for i := scrub.Start; i < scrub.End; i++ {
		minQ0 = math.Min(minQ0, traj.Steps[i][0])
		maxQ0 = math.Max(maxQ0, traj.Steps[i][0])
	}
	test.That(t, maxQ0-minQ0, test.ShouldBeGreaterThan, 0.05)

	for _, q := range traj.Steps {
		for j, lim := range m.Limits {
			test.That(t, q[j], test.ShouldBeBetweenOrEqual, lim.Min, lim.Max)
		}
	}
}

func TestSynthesizeScrubAmplitudeFixed(t *testing.T) {
	s, m := newTestSynthesizer(t)
	target := r3.Vector{X: 0.15, Y: 0.05, Z: 0.17}

	// the force figure sets the contact expectation, never the pattern
	low, err := s.Synthesize(context.Background(),
		action.Spec{Type: action.TypeScrub, Duration: 2, Force: 1, Pattern: action.PatternCircular}, m.Home(), target)
	test.That(t, err, test.ShouldBeNil)
	high, err := s.Synthesize(context.Background(),
		action.Spec{Type: action.TypeScrub, Duration: 2, Force: 9, Pattern: action.PatternCircular}, m.Home(), target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high.Steps, test.ShouldResemble, low.Steps)
}

func TestSynthesizeDryMovesThenHolds(t *testing.T) {
	s, m := newTestSynthesizer(t)
	target := r3.Vector{X: 0.28 * math.Cos(-0.5), Y: 0.28 * math.Sin(-0.5), Z: 0.2}

	traj, err := s.Synthesize(context.Background(), action.Spec{Type: action.TypeDry, Duration: 1, Force: 4}, m.Home(), target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(traj.Phases), test.ShouldEqual, 2)

	move, ok := traj.PhaseByName("move")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, move.End, test.ShouldEqual, 150)
	for i := move.End; i < len(traj.Steps); i++ {
		test.That(t, traj.Steps[i], test.ShouldResemble, traj.Steps[move.End-1])
	}
}

func TestSynthesizePickPhases(t *testing.T) {
	s, m := newTestSynthesizer(t)
	target := r3.Vector{X: 0.05, Y: -0.20, Z: 0.23}

	traj, err := s.Synthesize(context.Background(), action.Spec{Type: action.TypePick, Duration: 5}, m.Home(), target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(traj.Steps), test.ShouldEqual, 2500)

	approach, ok := traj.PhaseByName("approach")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, approach.End-approach.Start, test.ShouldEqual, 1250)
	grasp, ok := traj.PhaseByName("grasp")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, grasp.End-grasp.Start, test.ShouldEqual, 625)
	lift, ok := traj.PhaseByName("lift")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, lift.End, test.ShouldEqual, 2500)

	// open through the approach and the move-in subphase, fully closed by
	// the settle subphase, held closed through the lift
	g := m.Gripper
	for i := approach.Start; i < approach.End; i++ {
		test.That(t, traj.Steps[i][g.Joint], test.ShouldEqual, g.Open)
	}
	moveIn := grasp.Start + int(0.35*float64(grasp.End-grasp.Start))
	for i := grasp.Start; i < moveIn; i++ {
		test.That(t, traj.Steps[i][g.Joint], test.ShouldEqual, g.Open)
	}
	test.That(t, traj.Steps[grasp.End-1][g.Joint], test.ShouldAlmostEqual, g.Closed, 1e-9)
	for i := lift.Start; i < lift.End; i++ {
		test.That(t, m.GripperClosed(traj.Steps[i]), test.ShouldBeTrue)
	}

	// the arm pose is pinned at the grasp configuration while closing
	closeStart := grasp.Start + int(0.35*float64(grasp.End-grasp.Start))
	for i := closeStart + 1; i < grasp.End; i++ {
		for j := 0; j < g.Joint; j++ {
			test.That(t, traj.Steps[i][j], test.ShouldEqual, traj.Steps[grasp.End-1][j])
		}
	}

	// the grasp-end pose is inside the attachment window and the lift
	// actually gains height
	graspEE := m.Transform(traj.Steps[grasp.End-1]).Point
	test.That(t, graspEE.Sub(target).Norm(), test.ShouldBeLessThan, 0.08)
	liftEE := m.Transform(traj.Steps[lift.End-1]).Point
	test.That(t, liftEE.Z-graspEE.Z, test.ShouldBeGreaterThan, 0.08)
}

func TestSynthesizePickDegenerateDuration(t *testing.T) {
	s, m := newTestSynthesizer(t)
	target := r3.Vector{X: 0.05, Y: -0.20, Z: 0.23}

	// phase floors must not push a short pick past its sample count
	for _, steps := range []int{1, 2, 4} {
		spec := action.Spec{Type: action.TypePick, Duration: float64(steps) * testTimestep}
		traj, err := s.Synthesize(context.Background(), spec, m.Home(), target)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(traj.Steps), test.ShouldEqual, steps)
	}
}

func TestSynthesizePlaceGripperTiming(t *testing.T) {
	s, m := newTestSynthesizer(t)
	start := m.Home()
	m.SetGripper(start, false)
	target := r3.Vector{X: 0.05, Y: -0.20, Z: 0.23}

	traj, err := s.Synthesize(context.Background(), action.Spec{Type: action.TypePlace, Duration: 4}, start, target)
	test.That(t, err, test.ShouldBeNil)
	n := len(traj.Steps)
	test.That(t, n, test.ShouldEqual, 2000)

	transport, ok := traj.PhaseByName("transport")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, transport.End-transport.Start, test.ShouldEqual, 1200)
	release, ok := traj.PhaseByName("release")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, release.End, test.ShouldEqual, n)

	// closed through transport and 85% of the release phase, then the open
	// command ramps in and lands fully open on the last step
	g := m.Gripper
	openAt := release.Start + int(0.85*float64(release.End-release.Start))
	for i := 0; i < openAt; i++ {
		test.That(t, traj.Steps[i][g.Joint], test.ShouldEqual, g.Closed)
	}
	prev := g.Closed
	for i := openAt; i < n; i++ {
		v := traj.Steps[i][g.Joint]
		test.That(t, v, test.ShouldBeGreaterThan, prev)
		prev = v
	}
	test.That(t, traj.Steps[n-1][g.Joint], test.ShouldEqual, g.Open)
	// the commanded aperture passes the open threshold with steps to spare
	test.That(t, traj.Steps[n-30][g.Joint], test.ShouldBeGreaterThan, g.OpenThreshold)
}

func TestSynthesizePlanarModelPick(t *testing.T) {
	m, err := armmodel.ByName(armmodel.ThreeDOF)
	test.That(t, err, test.ShouldBeNil)
	s := NewSynthesizer(m, testTimestep, golog.NewTestLogger(t))

	target := r3.Vector{X: 0.3, Y: 0.1, Z: 0.15}
	traj, err := s.Synthesize(context.Background(), action.Spec{Type: action.TypePick, Duration: 2}, m.Home(), target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(traj.Steps), test.ShouldEqual, 1000)
	for _, q := range traj.Steps {
		test.That(t, len(q), test.ShouldEqual, m.DOF)
	}
}
