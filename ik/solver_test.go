package ik

import (
	"context"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"

	"github.com/armkit/manipsim/action"
	"github.com/armkit/manipsim/armmodel"
)

func sixDOF(t *testing.T) *armmodel.Model {
	t.Helper()
	m, err := armmodel.ByName(armmodel.SixDOF)
	test.That(t, err, test.ShouldBeNil)
	return m
}

func TestSolveWithinEnvelope(t *testing.T) {
	m := sixDOF(t)
	solver := NewSolver(m, golog.NewTestLogger(t))

	targets := []r3.Vector{}
	for _, bearing := range []float64{0.5, -0.8, -2.0} {
		for _, z := range []float64{0.17, 0.22} {
			targets = append(targets, r3.Vector{
				X: 0.28 * math.Cos(bearing),
				Y: 0.28 * math.Sin(bearing),
				Z: z,
			})
		}
	}

	for _, target := range targets {
		sol, err := solver.Solve(context.Background(), target, m.Home(), action.ClassGrasp)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.Rescaled, test.ShouldBeFalse)
		test.That(t, sol.Warnings, test.ShouldBeEmpty)

		achieved := m.Transform(sol.Config).Point
		test.That(t, achieved.Sub(target).Norm(), test.ShouldBeLessThan, 0.02)
	}
}

func TestSolveBeyondReachRescales(t *testing.T) {
	m := sixDOF(t)
	solver := NewSolver(m, golog.NewTestLogger(t))
	cal := m.Calibration(action.ClassGrasp)

	target := r3.Vector{X: 0.5, Y: 0.2, Z: 0.3}
	sol, err := solver.Solve(context.Background(), target, m.Home(), action.ClassGrasp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Rescaled, test.ShouldBeTrue)

	clamped := cal.MaxReach * cal.ReachScale
	test.That(t, sol.Target.Sub(m.Base).Norm(), test.ShouldAlmostEqual, clamped, 1e-9)

	achieved := m.Transform(sol.Config).Point
	reach := achieved.Sub(m.Base).Norm()
	test.That(t, reach, test.ShouldBeLessThan, cal.MaxReach)
	test.That(t, reach, test.ShouldBeGreaterThan, clamped-0.02)
}

func TestSolveRescalePreservesHeight(t *testing.T) {
	// An overreaching lift waypoint must keep its height when pulled in,
	// or the lift loses most of its gain.
	m := sixDOF(t)
	solver := NewPreciseSolver(m, golog.NewTestLogger(t))
	cal := m.Calibration(action.ClassGrasp)

	bearing := -0.8
	target := r3.Vector{X: 0.26 * math.Cos(bearing), Y: 0.26 * math.Sin(bearing), Z: 0.35}
	sol, err := solver.Solve(context.Background(), target, m.Home(), action.ClassGrasp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Rescaled, test.ShouldBeTrue)

	clamped := cal.MaxReach * cal.ReachScale
	test.That(t, sol.Target.Z, test.ShouldAlmostEqual, 0.35, 1e-9)
	test.That(t, sol.Target.Sub(m.Base).Norm(), test.ShouldAlmostEqual, clamped, 1e-9)

	achieved := m.Transform(sol.Config).Point
	test.That(t, achieved.Sub(sol.Target).Norm(), test.ShouldBeLessThan, 0.02)
	test.That(t, achieved.Z, test.ShouldBeGreaterThan, 0.33)
}

func TestSolveClampedElbow(t *testing.T) {
	// A target close enough to pin the elbow at its limit; the wrist has
	// to fold to shed the remaining planar reach.
	m := sixDOF(t)
	solver := NewSolver(m, golog.NewTestLogger(t))

	bearing := -0.3
	target := r3.Vector{X: 0.25 * math.Cos(bearing), Y: 0.25 * math.Sin(bearing), Z: 0.17}
	sol, err := solver.Solve(context.Background(), target, m.Home(), action.ClassGrasp)
	test.That(t, err, test.ShouldBeNil)

	achieved := m.Transform(sol.Config).Point
	test.That(t, achieved.Sub(target).Norm(), test.ShouldBeLessThan, 0.02)
}

func TestSolveUnreachableWarns(t *testing.T) {
	m := sixDOF(t)
	core, logs := observer.New(zap.WarnLevel)
	solver := NewSolver(m, zap.New(core).Sugar())

	// Directly above the base, well inside the minimum fold radius.
	target := r3.Vector{X: 0, Y: 0, Z: 0.22}
	sol, err := solver.Solve(context.Background(), target, m.Home(), action.ClassFree)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Config, test.ShouldNotBeNil)
	test.That(t, sol.Err, test.ShouldBeGreaterThan, 0.05)
	test.That(t, len(sol.Warnings), test.ShouldBeGreaterThan, 0)
	test.That(t, logs.FilterMessageSnippet("residual").Len(), test.ShouldBeGreaterThan, 0)
}

func TestSolvePlanarModel(t *testing.T) {
	m, err := armmodel.ByName(armmodel.ThreeDOF)
	test.That(t, err, test.ShouldBeNil)
	solver := NewSolver(m, golog.NewTestLogger(t))

	horiz := 0.3666
	target := r3.Vector{X: horiz * math.Cos(0.4), Y: horiz * math.Sin(0.4), Z: 0.15}
	sol, err := solver.Solve(context.Background(), target, m.Home(), action.ClassFree)
	test.That(t, err, test.ShouldBeNil)

	achieved := m.Transform(sol.Config).Point
	test.That(t, achieved.Sub(target).Norm(), test.ShouldBeLessThan, 0.02)
}

func TestSolveCancelledContext(t *testing.T) {
	m := sixDOF(t)
	solver := NewSolver(m, golog.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := solver.Solve(ctx, r3.Vector{X: 0.28, Z: 0.17}, m.Home(), action.ClassFree)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestSolveKeepsSeedLength(t *testing.T) {
	m := sixDOF(t)
	solver := NewSolver(m, golog.NewTestLogger(t))

	seed := make([]float64, m.DOF+7)
	seed[m.DOF+2] = 0.42
	sol, err := solver.Solve(context.Background(), r3.Vector{X: 0.28, Z: 0.17}, seed, action.ClassFree)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(sol.Config), test.ShouldEqual, len(seed))
	test.That(t, sol.Config[m.DOF+2], test.ShouldEqual, 0.42)
}
