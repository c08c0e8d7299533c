// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// newPenaltySolver builds a single-variable, single-constraint state with no
// bounds and no sparse constraints, so every term of the projected merit
// derivative can be dialed in directly.
func newPenaltySolver(t *testing.T) *Solver {
	t.Helper()
	inf := 1e21
	prob := &denseTestProblem{
		h:       []float64{1},
		b:       []float64{0},
		a:       [][]float64{{1}},
		rhs:     []float64{0},
		x0:      []float64{0.5},
		lb:      []float64{-inf},
		ub:      []float64{inf},
		noLower: true,
		noUpper: true,
	}
	s, err := New(prob, nil, DefaultOptions(), nil, nil)
	require.NoError(t, err)
	s.initAndCheckDesignAndBounds()
	return s
}

// A direction with projected derivative +1 and infeasibility projection −2
// must push the penalty to at least 1/(2 − 0.3·max_x·infeas).
func TestPenaltyAutoTuning(t *testing.T) {
	s := newPenaltySolver(t)

	// numer = g·px = 1; c − s + t = 2 so infeas = 2;
	// infeas_proj = (c−s+t)(Ac·px − ps + pt)/infeas = 2·(−2)/2 = −2.
	s.g[0] = 1.0
	s.px[0] = 1.0
	s.ac[0][0] = -2.0
	s.c[0] = 2.0
	s.s[0] = 1.0
	s.t[0] = 1.0
	s.ps[0], s.pt[0] = 0, 0
	s.fobj = 0

	// With max_x·infeas = 1 the bound is 1/(2 − 0.3) = 0.58824.
	const maxX = 0.5
	_, pmerit := s.evalMeritInitDeriv(maxX)

	want := 1.0 / (2.0 - s.opts.PenaltyDescentFraction)
	require.GreaterOrEqual(t, s.rhoPenalty, want-1e-12)
	require.InDelta(t, want, s.rhoPenalty, 1e-12)

	// At the tuned penalty the direction is (weakly) descent.
	require.LessOrEqual(t, pmerit, 1e-12)
}

// When the direction already reduces the infeasibility fast enough, the
// penalty is damped toward its lower bound rather than raised.
func TestPenaltyDamping(t *testing.T) {
	s := newPenaltySolver(t)
	s.rhoPenalty = 8.0
	s.opts.MinRhoPenalty = 0.25

	s.g[0] = -1.0 // descent in the objective alone
	s.px[0] = 1.0
	s.ac[0][0] = -2.0
	s.c[0] = 2.0
	s.s[0] = 1.0
	s.t[0] = 1.0

	s.evalMeritInitDeriv(1.0)
	require.InDelta(t, 4.0, s.rhoPenalty, 1e-12)

	for i := 0; i < 10; i++ {
		s.evalMeritInitDeriv(1.0)
	}
	require.InDelta(t, s.opts.MinRhoPenalty, s.rhoPenalty, 1e-12)
}

// The merit function assembles objective, barrier, penalty and slack terms.
func TestMeritFunctionValue(t *testing.T) {
	s := newFactoredSolver(t, nil, 1.0)
	fobj, c, err := s.prob.EvalObjCon(s.x)
	require.NoError(t, err)
	s.fobj = fobj
	copy(s.c, c)
	s.rhoPenalty = 2.0
	s.barrierParam = 0.05

	got := s.evalMeritFunc(s.fobj, s.c, s.x, s.s, s.t, s.sw)

	barrier := 0.0
	for i := 0; i < s.nvars; i++ {
		if s.liveLower(i) {
			barrier += math.Log(s.x[i] - s.lb[i])
		}
		if s.liveUpper(i) {
			barrier += math.Log(s.ub[i] - s.x[i])
		}
	}
	barrier *= s.opts.RelBoundBarrier
	for i := 0; i < s.ncon; i++ {
		barrier += math.Log(s.s[i]) + math.Log(s.t[i])
	}
	for i := 0; i < s.nwcon; i++ {
		barrier += math.Log(s.sw[i])
	}

	dense := 0.0
	for i := 0; i < s.ncon; i++ {
		v := s.c[i] - s.s[i] + s.t[i]
		dense += v * v
	}
	cw := make([]float64, s.nwcon)
	s.prob.EvalSparseCon(s.x, cw)
	sparse := 0.0
	for i := range cw {
		v := cw[i] - s.sw[i]
		sparse += v * v
	}
	want := s.fobj - s.barrierParam*barrier +
		s.rhoPenalty*(math.Sqrt(dense)+math.Sqrt(sparse))
	for i := 0; i < s.ncon; i++ {
		want += s.penaltyGamma[i] * s.t[i]
	}

	require.InDelta(t, want, got, 1e-12)
}

// The merit directional derivative must match a finite difference of the
// merit function along the step.
func TestMeritDerivativeMatchesFiniteDifference(t *testing.T) {
	s := newFactoredSolver(t, nil, 1.0)
	fobj, c, err := s.prob.EvalObjCon(s.x)
	require.NoError(t, err)
	s.fobj = fobj
	copy(s.c, c)
	s.barrierParam = 0.05

	seededVec(s.px, 3.0)
	scale(0.01, s.px)
	for i := 0; i < s.ncon; i++ {
		s.ps[i] = 0.002 * float64(i+1)
		s.pt[i] = -0.001 * float64(i+1)
	}
	for i := 0; i < s.nwcon; i++ {
		s.psw[i] = 0.003
	}

	m0, dm0 := s.evalMeritInitDeriv(1.0)

	const h = 1e-7
	xt := make([]float64, s.nvars)
	st := make([]float64, s.ncon)
	tt := make([]float64, s.ncon)
	swt := make([]float64, s.nwcon)
	copy(xt, s.x)
	axpy(h, s.px, xt)
	copy(st, s.s)
	axpy(h, s.ps, st)
	copy(tt, s.t)
	axpy(h, s.pt, tt)
	copy(swt, s.sw)
	axpy(h, s.psw, swt)

	f1, c1, err := s.prob.EvalObjCon(xt)
	require.NoError(t, err)
	m1 := s.evalMeritFunc(f1, c1, xt, st, tt, swt)

	require.InDelta(t, dm0, (m1-m0)/h, 1e-5)
}

// The fraction-to-boundary rule keeps every positive quantity positive at
// the scaled step.
func TestMaxStepFractionToBoundary(t *testing.T) {
	s := newFactoredSolver(t, nil, 1.0)

	fill(s.px, -1.0)
	fill(s.ps, -1.0)
	fill(s.pt, -1.0)
	fill(s.psw, -1.0)
	fill(s.pz, -1.0)
	fill(s.pzt, -1.0)
	fill(s.pzw, -1.0)
	fill(s.pzl, -1.0)
	fill(s.pzu, -1.0)

	const tau = 0.9
	maxX, maxZ := s.computeMaxStep(tau)
	require.Greater(t, maxX, 0.0)
	require.Greater(t, maxZ, 0.0)
	require.LessOrEqual(t, maxX, 1.0)
	require.LessOrEqual(t, maxZ, 1.0)

	// The candidate primal step keeps x, s, t, sw strictly interior.
	for i := 0; i < s.nvars; i++ {
		if s.liveLower(i) {
			require.Greater(t, s.x[i]+maxX*s.px[i], s.lb[i])
		}
	}
	for i := 0; i < s.ncon; i++ {
		require.Greater(t, s.s[i]+maxX*s.ps[i], 0.0)
		require.Greater(t, s.t[i]+maxX*s.pt[i], 0.0)
	}
	for i := 0; i < s.nwcon; i++ {
		require.Greater(t, s.sw[i]+maxX*s.psw[i], 0.0)
		require.Greater(t, s.zw[i]+maxZ*s.pzw[i], 0.0)
	}
}

// The primal/dual step ratio is clamped to two orders of magnitude for
// quasi-Newton steps.
func TestScaleKKTStepRatioClamp(t *testing.T) {
	s := newFactoredSolver(t, nil, 1.0)

	// A negligible primal direction with a violent dual direction.
	fill(s.px, 1e-6)
	fill(s.pz, -1000.0)
	comp := s.computeComp()

	_, alphaX, alphaZ := s.scaleKKTStep(0.95, comp, false)
	ratio := alphaX / alphaZ
	require.LessOrEqual(t, ratio, 100.0+1e-9)
	require.GreaterOrEqual(t, ratio, 0.01-1e-9)
}

// Inexact Newton steps force equal primal and dual fractions.
func TestScaleKKTStepNewtonEqual(t *testing.T) {
	s := newFactoredSolver(t, nil, 1.0)
	fill(s.px, -0.4)
	fill(s.pz, -0.999)
	comp := s.computeComp()

	_, alphaX, alphaZ := s.scaleKKTStep(0.95, comp, true)
	require.Equal(t, alphaX, alphaZ)
}
