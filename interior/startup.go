// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"
)

// initLeastSquaresMultipliers initializes every multiplier and slack to one,
// then replaces the dense constraint multipliers with the solution of the
// least-squares stationarity system
//
//	(A Aᵀ) z = A (g − zl + zu).
//
// Multipliers outside a reasonable range fall back to one.
func (s *Solver) initLeastSquaresMultipliers() {
	fill(s.zl, 1.0)
	fill(s.zu, 1.0)
	fill(s.zw, 1.0)
	fill(s.sw, 1.0)
	for i := 0; i < s.ncon; i++ {
		s.z[i] = 1.0
		s.s[i] = 1.0
		s.zt[i] = 1.0
		s.t[i] = 1.0
	}
	s.zeroAbsentBoundMultipliers()

	// Right-hand side of the least-squares problem.
	xt := s.yqn
	copy(xt, s.g)
	axpy(-1.0, s.zl, xt)
	axpy(1.0, s.zu, xt)
	s.globalMdot(xt, s.ac, s.z)

	// Dmat = A*A^T.
	for i := 0; i < s.ncon; i++ {
		s.globalMdot(s.ac[i], s.ac, s.dmat[i*s.ncon:(i+1)*s.ncon])
	}

	if s.ncon == 0 {
		return
	}
	a := blas64.General{Rows: s.ncon, Cols: s.ncon, Stride: s.ncon, Data: s.dmat}
	if !lapack64.Getrf(a, s.dpiv) {
		for i := 0; i < s.ncon; i++ {
			s.z[i] = 1.0
		}
		return
	}
	b := blas64.General{Rows: s.ncon, Cols: 1, Stride: 1, Data: s.z}
	lapack64.Getrs(blas.NoTrans, a, b, s.dpiv)

	// Keep the multipliers only when they fall in a reasonable range.
	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			if s.z[i] < 0.01 || s.z[i] > s.penaltyGamma[i] {
				s.z[i] = 1.0
			}
		}
	} else {
		for i := 0; i < s.ncon; i++ {
			if s.z[i] < -s.penaltyGamma[i] || s.z[i] > s.penaltyGamma[i] {
				s.z[i] = 1.0
			}
		}
	}
}

// initAffineStep initializes the multipliers from an affine scaling step:
// the KKT step at a zero barrier parameter is computed and every multiplier
// and slack is set to |v + p| floored at the configured minimum. The barrier
// parameter starts from the resulting complementarity.
func (s *Solver) initAffineStep(useQN bool) bool {
	s.zeroAbsentBoundMultipliers()

	s.computeKKTRes(0.0)

	if !s.setUpKKTDiagSystem(useQN) {
		return false
	}
	if !s.setUpKKTSystem(useQN) {
		return false
	}
	s.computeKKTStep(useQN)

	floor := s.opts.StartAffineMultiplierMin
	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			s.z[i] = math.Max(floor, math.Abs(s.z[i]+s.pz[i]))
			s.s[i] = math.Max(floor, math.Abs(s.s[i]+s.ps[i]))
			s.t[i] = math.Max(floor, math.Abs(s.t[i]+s.pt[i]))
			s.zt[i] = math.Max(floor, math.Abs(s.zt[i]+s.pzt[i]))
		}
	} else {
		for i := 0; i < s.ncon; i++ {
			s.z[i] = math.Max(floor, math.Abs(s.z[i]+s.pz[i]))
		}
	}

	if s.nwcon > 0 {
		for i := 0; i < s.nwcon; i++ {
			s.zw[i] = math.Max(floor, math.Abs(s.zw[i]+s.pzw[i]))
		}
		if s.sparseInequality {
			for i := 0; i < s.nwcon; i++ {
				s.sw[i] = math.Max(floor, math.Abs(s.sw[i]+s.psw[i]))
			}
		}
	}
	if s.useLower {
		for i := 0; i < s.nvars; i++ {
			if s.liveLower(i) {
				s.zl[i] = math.Max(floor, math.Abs(s.zl[i]+s.pzl[i]))
			}
		}
	}
	if s.useUpper {
		for i := 0; i < s.nvars; i++ {
			if s.liveUpper(i) {
				s.zu[i] = math.Max(floor, math.Abs(s.zu[i]+s.pzu[i]))
			}
		}
	}

	s.barrierParam = s.computeComp()
	return true
}

// zeroAbsentBoundMultipliers forces the multipliers of absent bounds to
// zero so they are excluded from every residual and step computation.
func (s *Solver) zeroAbsentBoundMultipliers() {
	for i := 0; i < s.nvars; i++ {
		if !s.liveLower(i) {
			s.zl[i] = 0
		}
		if !s.liveUpper(i) {
			s.zu[i] = 0
		}
	}
}
