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

// setUpKKTDiagSystem assembles and factors the approximate KKT matrix with
// the compact quasi-Newton term replaced by its diagonal b0. The pieces are
//
//	C  = diag( b̂ + zl/(x − lb) + zu/(ub − x) )        stored inverted in cvec
//	Cw = Zw⁻¹Sw + Aw C⁻¹ Awᵀ                           factored block-wise
//	Ew = Aw C⁻¹ Ac[k]                                  one vector per constraint
//	D  = Σ Acᵀ C⁻¹ Ac − Ewᵀ Cw⁻¹ Ew + diag(s/z + t/zt) LU-factored on every rank
//
// where b̂ is the user diagonal Hessian when enabled, otherwise the
// quasi-Newton b0, plus the diagonal regularization. D is reduced to the
// optimization root, which adds the slack diagonal and broadcasts the
// assembled matrix; every rank then LU-factors its identical copy. The
// factor and pivots are not computed once on the root and broadcast.
//
// It reports false when a factorization encounters a singular block; the
// driver treats this as a line-search failure.
func (s *Solver) setUpKKTDiagSystem(useQN bool) bool {
	b0 := 0.0
	var h []float64
	if s.hdiag != nil && s.opts.UseDiagHessian {
		h = s.hdiag
	} else if s.qn != nil && useQN {
		b0, _, _, _, _ = s.qn.CompactMat()
	}

	// Assemble C^{-1}.
	sigma := s.opts.QNSigma
	for i := 0; i < s.nvars; i++ {
		b := b0
		if h != nil {
			b = h[i]
		}
		d := b + sigma
		if s.useLower && s.liveLower(i) {
			d += s.zl[i] / (s.x[i] - s.lb[i])
		}
		if s.useUpper && s.liveUpper(i) {
			d += s.zu[i] / (s.ub[i] - s.x[i])
		}
		s.cvec[i] = 1.0 / d
	}

	if s.nwcon > 0 {
		// Cw = Zw^{-1}*Sw + Aw*C^{-1}*Aw^T
		zero(s.cw)
		if s.sparseInequality {
			if s.nwblock == 1 {
				for i := 0; i < s.nwcon; i++ {
					s.cw[i] = s.sw[i] / s.zw[i]
				}
			} else {
				nb := s.nwblock
				for i := 0; i < s.nwcon; i += nb {
					blk := s.cw[(i/nb)*nb*nb:]
					for j := 0; j < nb; j++ {
						blk[j*nb+j] = s.sw[i+j] / s.zw[i+j]
					}
				}
			}
		}
		s.prob.AddSparseInnerProduct(1.0, s.x, s.cvec, s.cw)

		if !s.factorCw() {
			return false
		}

		// Ew[k] = Aw*C^{-1}*Ac[k]
		for k := 0; k < s.ncon; k++ {
			for i := 0; i < s.nvars; i++ {
				s.xtemp[i] = s.cvec[i] * s.ac[k][i]
			}
			zero(s.ew[k])
			s.prob.AddSparseJacobian(1.0, s.x, s.xtemp, s.ew[k])
		}
	}

	// Assemble the local contribution to D.
	zero(s.dmat)
	if s.nwcon > 0 {
		// D -= Ew^T*Cw^{-1}*Ew
		for j := 0; j < s.ncon; j++ {
			copy(s.wtemp, s.ew[j])
			s.applyCwFactor(s.wtemp)
			for i := j; i < s.ncon; i++ {
				s.dmat[i+s.ncon*j] -= floats.Dot(s.ew[i], s.wtemp)
			}
		}
	}
	for j := 0; j < s.ncon; j++ {
		for i := j; i < s.ncon; i++ {
			d := 0.0
			for k := 0; k < s.nvars; k++ {
				d += s.ac[i][k] * s.ac[j][k] * s.cvec[k]
			}
			s.dmat[i+s.ncon*j] += d
		}
	}
	// Mirror the lower triangle.
	for j := 0; j < s.ncon; j++ {
		for i := j + 1; i < s.ncon; i++ {
			s.dmat[j+s.ncon*i] = s.dmat[i+s.ncon*j]
		}
	}

	if s.ncon > 0 {
		s.com.ReduceSum(optRoot, s.dmat)

		// The slack diagonal is added on the root only; the broadcast
		// then guarantees an identical factorization everywhere.
		if s.onRoot() && s.denseInequality {
			for i := 0; i < s.ncon; i++ {
				s.dmat[i*(s.ncon+1)] += s.s[i]/s.z[i] + s.t[i]/s.zt[i]
			}
		}
		s.com.Bcast(optRoot, s.dmat)

		a := blas64.General{
			Rows: s.ncon, Cols: s.ncon, Stride: s.ncon, Data: s.dmat,
		}
		if !lapack64.Getrf(a, s.dpiv) {
			return false
		}
	}
	return true
}

// factorCw factors the block-diagonal sparse constraint matrix in place.
// A unit block size stores plain reciprocals; larger blocks store their
// Cholesky factor. It reports false on a singular block.
func (s *Solver) factorCw() bool {
	if s.nwblock == 1 {
		for i := 0; i < s.nwcon; i++ {
			if s.cw[i] == 0 {
				return false
			}
			s.cw[i] = 1.0 / s.cw[i]
		}
		return true
	}
	nb := s.nwblock
	for i := 0; i < s.nwcon; i += nb {
		a := blas64.Symmetric{
			N: nb, Stride: nb, Uplo: blas.Upper,
			Data: s.cw[(i/nb)*nb*nb:],
		}
		if _, ok := lapack64.Potrf(a); !ok {
			return false
		}
	}
	return true
}

// applyCwFactor overwrites vec with Cw^{-1}*vec using the stored block
// factorization.
func (s *Solver) applyCwFactor(vec []float64) {
	if s.nwblock == 1 {
		for i := 0; i < s.nwcon; i++ {
			vec[i] *= s.cw[i]
		}
		return
	}
	nb := s.nwblock
	for i := 0; i < s.nwcon; i += nb {
		a := blas64.Triangular{
			N: nb, Stride: nb, Uplo: blas.Upper, Diag: blas.NonUnit,
			Data: s.cw[(i/nb)*nb*nb:],
		}
		b := blas64.General{
			Rows: nb, Cols: 1, Stride: 1, Data: vec[i : i+nb],
		}
		lapack64.Potrs(a, b)
	}
}
