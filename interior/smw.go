// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"
)

// setUpKKTSystem factors the Schur complement that restores the compact
// low-rank quasi-Newton term on top of the diagonal system,
//
//	Ce = Zᵀ K_D⁻¹ Z − diag(d)⁻¹ M diag(d)⁻¹.
//
// Each column applies one diagonal solve and one set of global inner
// products. With an empty quasi-Newton store the correction is absent and
// the step falls through to the pure diagonal solve.
//
// It reports false if the Schur complement is singular.
func (s *Solver) setUpKKTSystem(useQN bool) bool {
	if s.qn == nil || !useQN {
		return true
	}
	_, d0, m0, zv, size := s.qn.CompactMat()
	if size == 0 {
		return true
	}

	ce := s.ce[:size*size]
	zero(ce)
	for i := 0; i < size; i++ {
		// K_D^{-1}*Z[i], then the dot products Z^T*K_D^{-1}*Z[i].
		s.solveKKTDiagX(zv[i], s.sqn, s.ztemp, s.yqn, s.wtemp)
		s.globalMdot(s.sqn, zv[:size], ce[i*size:(i+1)*size])
	}

	for j := 0; j < size; j++ {
		for i := 0; i < size; i++ {
			ce[i*size+j] -= m0[i*size+j] / (d0[i] * d0[j])
		}
	}

	a := blas64.General{Rows: size, Cols: size, Stride: size, Data: ce}
	return lapack64.Getrf(a, s.cpiv[:size])
}

// computeKKTStep solves the full KKT system for the step from the current
// residuals: a diagonal solve, followed by the Sherman–Morrison–Woodbury
// correction
//
//	p ← p − K_D⁻¹ Z Ce⁻¹ Zᵀ p_x.
func (s *Solver) computeKKTStep(useQN bool) {
	size := 0
	var zv [][]float64
	if s.qn != nil && useQN {
		_, _, _, zv, size = s.qn.CompactMat()
	}

	// The residuals are no longer needed once the step is formed.
	rhs := kktRHS{
		bx: s.rx, bt: s.rt, bc: s.rc, bcw: s.rcw,
		bs: s.rs, bsw: s.rsw, bzt: s.rzt, bzl: s.rzl, bzu: s.rzu,
	}
	sol := kktSol{
		yx: s.px, yt: s.pt, yz: s.pz, yzw: s.pzw,
		ys: s.ps, ysw: s.psw, yzt: s.pzt, yzl: s.pzl, yzu: s.pzu,
	}
	s.solveKKTDiag(&rhs, &sol, 1.0, s.sqn, s.wtemp)

	if size > 0 {
		s.applySMWCorrection(zv, size)
	}
}

// applySMWCorrection subtracts the low-rank correction from the current step
// vectors. The correction right-hand side Σᵢ (Ce⁻¹ Zᵀ p_x)ᵢ Z[i] is pushed
// through an x-only diagonal solve whose outputs land in the residual
// arrays, which are then subtracted from the step.
func (s *Solver) applySMWCorrection(zv [][]float64, size int) {
	r := s.ztemp[:size]
	s.globalMdot(s.px, zv[:size], r)

	ce := s.ce[:size*size]
	a := blas64.General{Rows: size, Cols: size, Stride: size, Data: ce}
	b := blas64.General{Rows: size, Cols: 1, Stride: 1, Data: r}
	lapack64.Getrs(blas.NoTrans, a, b, s.cpiv[:size])

	zero(s.sqn)
	for i := 0; i < size; i++ {
		axpy(r[i], zv[i], s.sqn)
	}

	rhs := kktRHS{bx: s.sqn}
	sol := kktSol{
		yx: s.rx, yt: s.rt, yz: s.rc, yzw: s.rcw,
		ys: s.rs, ysw: s.rsw, yzt: s.rzt, yzl: s.rzl, yzu: s.rzu,
	}
	s.solveKKTDiag(&rhs, &sol, 1.0, s.yqn, s.wtemp)

	axpy(-1.0, s.rx, s.px)
	axpy(-1.0, s.rcw, s.pzw)
	axpy(-1.0, s.rsw, s.psw)
	axpy(-1.0, s.rzl, s.pzl)
	axpy(-1.0, s.rzu, s.pzu)
	for i := 0; i < s.ncon; i++ {
		s.pz[i] -= s.rc[i]
		s.ps[i] -= s.rs[i]
		s.pt[i] -= s.rt[i]
		s.pzt[i] -= s.rzt[i]
	}
}
