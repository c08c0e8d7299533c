// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/lapack/lapack64"
)

// kktRHS is a right-hand side for the bordered diagonal KKT solve. A nil
// block is an implicit zero, so the same routine serves the full residual
// solve, the x-only solves used by the low-rank correction, and the scaled
// solve used by the Krylov step.
type kktRHS struct {
	bx       []float64 // design block, required
	bt       []float64 // ncon
	bc       []float64 // ncon
	bcw      []float64 // nwcon
	bs       []float64 // ncon
	bsw      []float64 // nwcon
	bzt      []float64 // ncon
	bzl, bzu []float64 // nvars
}

// kktSol receives the solution blocks. yx and yz are always produced; any
// other nil block is skipped. When yzw is nil the sparse multiplier step is
// still formed internally in the scratch vector.
type kktSol struct {
	yx       []float64
	yt       []float64
	yz       []float64
	yzw      []float64
	ys       []float64
	ysw      []float64
	yzt      []float64
	yzl, yzu []float64
}

// solveKKTDiag applies the inverse of the factored diagonal KKT matrix to a
// right-hand side by bordered elimination:
//
//	d   = C⁻¹ (bx + α(X−Lb)⁻¹ bzl − α(Ub−X)⁻¹ bzu)
//	w   = Cw⁻¹ (α bcw + α Zw⁻¹ bsw − Aw d)
//	ŷz  = α(bc + Z⁻¹bs − Zt⁻¹(bzt + T bt)) − Ac·d − Ewᵀ w
//	yz  = D⁻¹ ŷz                     (root solves, result broadcast)
//	ys  = (α bs − S yz)/z;  yzt = −α bt − yz;  yt = (α bzt − T yzt)/zt
//	yzw = Cw⁻¹ (α bcw + α Zw⁻¹bsw − Ew yz − Aw d)
//	ysw = (α bsw − Sw yzw)/zw
//	yx  = d + C⁻¹ (Acᵀ yz + Awᵀ yzw)
//	yzl = (α bzl − Zl yx)/(x − lb);  yzu = (α bzu + Zu yx)/(ub − x)
//
// alpha scales every right-hand side block except bx. The scratch vectors
// xtmp (design shaped) and wtmp (sparse shaped) must not alias any input or
// output. One reduce-broadcast pair on an ncon vector is issued per call.
//
// Divisions by the bound gaps, slacks and multipliers rely on the interior
// invariants; nothing is clipped here.
func (s *Solver) solveKKTDiag(rhs *kktRHS, sol *kktSol, alpha float64, xtmp, wtmp []float64) {
	// d = C^{-1}*(bx + (X - Lb)^{-1}*bzl - (Ub - X)^{-1}*bzu)
	d := xtmp
	for i := 0; i < s.nvars; i++ {
		d[i] = s.cvec[i] * rhs.bx[i]
	}
	if s.useLower && rhs.bzl != nil {
		for i := 0; i < s.nvars; i++ {
			if s.liveLower(i) {
				d[i] += alpha * s.cvec[i] * (rhs.bzl[i] / (s.x[i] - s.lb[i]))
			}
		}
	}
	if s.useUpper && rhs.bzu != nil {
		for i := 0; i < s.nvars; i++ {
			if s.liveUpper(i) {
				d[i] -= alpha * s.cvec[i] * (rhs.bzu[i] / (s.ub[i] - s.x[i]))
			}
		}
	}

	// w = Cw^{-1}*(bcw + Zw^{-1}*bsw - Aw*d)
	if s.nwcon > 0 {
		if rhs.bcw != nil {
			copy(wtmp, rhs.bcw)
			scale(alpha, wtmp)
		} else {
			zero(wtmp)
		}
		if s.sparseInequality && rhs.bsw != nil {
			for i := 0; i < s.nwcon; i++ {
				wtmp[i] += alpha * rhs.bsw[i] / s.zw[i]
			}
		}
		s.prob.AddSparseJacobian(-1.0, s.x, d, wtmp)
		s.applyCwFactor(wtmp)
	}

	// Partial sum for the bordered right-hand side.
	yz := sol.yz
	zero(yz)
	if s.nwcon > 0 {
		for i := 0; i < s.ncon; i++ {
			yz[i] = floats.Dot(wtmp, s.ew[i])
		}
	}
	for i := 0; i < s.ncon; i++ {
		yz[i] += floats.Dot(s.ac[i], d)
	}

	if s.ncon > 0 {
		s.com.ReduceSum(optRoot, yz)

		if s.onRoot() {
			if s.denseInequality {
				for i := 0; i < s.ncon; i++ {
					b := 0.0
					if rhs.bc != nil {
						b += rhs.bc[i]
					}
					if rhs.bs != nil {
						b += rhs.bs[i] / s.z[i]
					}
					bzt, bt := 0.0, 0.0
					if rhs.bzt != nil {
						bzt = rhs.bzt[i]
					}
					if rhs.bt != nil {
						bt = rhs.bt[i]
					}
					b -= (bzt + s.t[i]*bt) / s.zt[i]
					yz[i] = alpha*b - yz[i]
				}
			} else {
				for i := 0; i < s.ncon; i++ {
					b := 0.0
					if rhs.bc != nil {
						b = rhs.bc[i]
					}
					yz[i] = alpha*b - yz[i]
				}
			}

			a := blas64.General{
				Rows: s.ncon, Cols: s.ncon, Stride: s.ncon, Data: s.dmat,
			}
			b := blas64.General{
				Rows: s.ncon, Cols: 1, Stride: 1, Data: yz,
			}
			lapack64.Getrs(blas.NoTrans, a, b, s.dpiv)
		}
		s.com.Bcast(optRoot, yz)

		// Dense slack and multiplier updates.
		if s.denseInequality {
			for i := 0; i < s.ncon; i++ {
				bs, bt, bzt := 0.0, 0.0, 0.0
				if rhs.bs != nil {
					bs = rhs.bs[i]
				}
				if rhs.bt != nil {
					bt = rhs.bt[i]
				}
				if rhs.bzt != nil {
					bzt = rhs.bzt[i]
				}
				yzt := -alpha*bt - yz[i]
				if sol.ys != nil {
					sol.ys[i] = (alpha*bs - s.s[i]*yz[i]) / s.z[i]
				}
				if sol.yzt != nil {
					sol.yzt[i] = yzt
				}
				if sol.yt != nil {
					sol.yt[i] = (alpha*bzt - s.t[i]*yzt) / s.zt[i]
				}
			}
		}
	}

	// Sparse multiplier and slack updates.
	yzw := sol.yzw
	if yzw == nil {
		yzw = wtmp
	}
	if s.nwcon > 0 {
		if rhs.bcw != nil {
			copy(yzw, rhs.bcw)
			scale(alpha, yzw)
		} else {
			zero(yzw)
		}
		for i := 0; i < s.ncon; i++ {
			axpy(-yz[i], s.ew[i], yzw)
		}
		if s.sparseInequality && rhs.bsw != nil {
			for i := 0; i < s.nwcon; i++ {
				yzw[i] += alpha * rhs.bsw[i] / s.zw[i]
			}
		}
		s.prob.AddSparseJacobian(-1.0, s.x, d, yzw)
		s.applyCwFactor(yzw)

		if s.sparseInequality && sol.ysw != nil {
			for i := 0; i < s.nwcon; i++ {
				bsw := 0.0
				if rhs.bsw != nil {
					bsw = rhs.bsw[i]
				}
				sol.ysw[i] = (alpha*bsw - s.sw[i]*yzw[i]) / s.zw[i]
			}
		}
	}

	// yx = C^{-1}*(Ac^T*yz + Aw^T*yzw) + d
	yx := sol.yx
	zero(yx)
	for i := 0; i < s.ncon; i++ {
		axpy(yz[i], s.ac[i], yx)
	}
	if s.nwcon > 0 {
		s.prob.AddSparseJacobianTranspose(1.0, s.x, yzw, yx)
	}
	for i := 0; i < s.nvars; i++ {
		yx[i] = s.cvec[i]*yx[i] + d[i]
	}

	// Bound multiplier updates on the live bounds.
	if s.useLower && sol.yzl != nil {
		for i := 0; i < s.nvars; i++ {
			if s.liveLower(i) {
				bzl := 0.0
				if rhs.bzl != nil {
					bzl = rhs.bzl[i]
				}
				sol.yzl[i] = (alpha*bzl - s.zl[i]*yx[i]) / (s.x[i] - s.lb[i])
			} else {
				sol.yzl[i] = 0
			}
		}
	}
	if s.useUpper && sol.yzu != nil {
		for i := 0; i < s.nvars; i++ {
			if s.liveUpper(i) {
				bzu := 0.0
				if rhs.bzu != nil {
					bzu = rhs.bzu[i]
				}
				sol.yzu[i] = (alpha*bzu + s.zu[i]*yx[i]) / (s.ub[i] - s.x[i])
			} else {
				sol.yzu[i] = 0
			}
		}
	}
}

// solveKKTDiagX solves the diagonal system for an x-only right-hand side,
// producing just the design and dense multiplier blocks. Used while building
// the low-rank Schur complement.
func (s *Solver) solveKKTDiagX(bx, yx, yzScratch, xtmp, wtmp []float64) {
	rhs := kktRHS{bx: bx}
	sol := kktSol{yx: yx, yz: yzScratch[:s.ncon]}
	s.solveKKTDiag(&rhs, &sol, 1.0, xtmp, wtmp)
}
