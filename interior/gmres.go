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

// evalObjBarrierDeriv evaluates the derivative of the objective plus barrier
// terms along the current step direction,
//
//	∇fᵀp_x − μ Σ (barrier projections) + γᵀp_t,
//
// splitting positive and negative contributions to limit cancellation.
func (s *Solver) evalObjBarrierDeriv() float64 {
	beta := s.opts.RelBoundBarrier
	pos, neg := 0.0, 0.0

	if s.useLower {
		for i := 0; i < s.nvars; i++ {
			if s.liveLower(i) {
				v := beta * s.px[i] / (s.x[i] - s.lb[i])
				if s.px[i] > 0 {
					pos += v
				} else {
					neg += v
				}
			}
		}
	}
	if s.useUpper {
		for i := 0; i < s.nvars; i++ {
			if s.liveUpper(i) {
				v := beta * s.px[i] / (s.ub[i] - s.x[i])
				if s.px[i] > 0 {
					neg -= v
				} else {
					pos -= v
				}
			}
		}
	}
	if s.nwcon > 0 && s.sparseInequality {
		for i := 0; i < s.nwcon; i++ {
			v := s.psw[i] / s.sw[i]
			if s.psw[i] > 0 {
				pos += v
			} else {
				neg += v
			}
		}
	}

	in := [2]float64{pos, neg}
	s.com.AllreduceSum(in[:])
	pos, neg = in[0], in[1]

	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			if s.ps[i] > 0 {
				pos += s.ps[i] / s.s[i]
			} else {
				neg += s.ps[i] / s.s[i]
			}
			if s.pt[i] > 0 {
				pos += s.pt[i] / s.t[i]
			} else {
				neg += s.pt[i] / s.t[i]
			}
		}
	}

	pmerit := s.globalDot(s.g, s.px) - s.barrierParam*(pos+neg)
	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			pmerit += s.penaltyGamma[i] * s.pt[i]
		}
	}
	return pmerit
}

// computeKKTGMRESStep approximately solves the exact-Hessian KKT system with
// right-preconditioned GMRES. The preconditioner is the factored diagonal
// system plus the low-rank correction; the operator applies the user
// Hessian-vector product. The basis carries an augmented inner product with
// weight beta = ‖(rest of r)‖²/‖r‖² so the replicated blocks participate in
// the orthogonalization through a single scalar per vector.
//
// The iteration stops once the preconditioned residual satisfies the
// absolute or relative tolerance and the projected derivative tests indicate
// a descent direction. The returned count is negative when no descent
// direction was found; the step vectors then hold an unusable direction and
// the residuals are destroyed.
func (s *Solver) computeKKTGMRESStep(rtol, atol float64, useQN bool) int {
	if s.gmresSize <= 0 {
		if s.onRoot() {
			s.log.log("paropt error: gmres_subspace_size not set\n")
		}
		return 0
	}

	h := s.gmresH
	alpha := s.gmresAlpha
	res := s.gmresRes
	y := s.gmresY
	fproj := s.gmresFproj
	aproj := s.gmresAproj
	awproj := s.gmresAwproj
	qcos := s.gmresQ[:s.gmresSize]
	qsin := s.gmresQ[s.gmresSize:]
	w := s.gmresW

	// beta: the normalized product of the non-design residual blocks.
	beta := 0.0
	for i := 0; i < s.ncon; i++ {
		beta += s.rc[i] * s.rc[i]
	}
	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			beta += s.rs[i]*s.rs[i] + s.rt[i]*s.rt[i] + s.rzt[i]*s.rzt[i]
		}
	}
	if s.useLower {
		beta += s.globalDot(s.rzl, s.rzl)
	}
	if s.useUpper {
		beta += s.globalDot(s.rzu, s.rzu)
	}
	if s.nwcon > 0 {
		beta += s.globalDot(s.rcw, s.rcw)
		if s.sparseInequality {
			beta += s.globalDot(s.rsw, s.rsw)
		}
	}
	bnorm := math.Sqrt(s.globalDot(s.rx, s.rx) + beta)

	// Keep the scalars consistent across ranks.
	temp := [2]float64{bnorm, beta}
	s.com.Bcast(optRoot, temp[:])
	bnorm, beta = temp[0], temp[1]
	beta /= bnorm * bnorm

	// Scale for the dense infeasibility projection.
	cinfeas, cscale := 0.0, 0.0
	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			v := s.c[i] - s.s[i] + s.t[i]
			cinfeas += v * v
		}
	} else {
		for i := 0; i < s.ncon; i++ {
			cinfeas += s.c[i] * s.c[i]
		}
	}
	if cinfeas != 0 {
		cinfeas = math.Sqrt(cinfeas)
		cscale = 1.0 / cinfeas
	}

	// Scale for the sparse infeasibility projection.
	cwinfeas, cwscale := 0.0, 0.0
	if s.nwcon > 0 {
		cwinfeas = math.Sqrt(s.globalDot(s.rcw, s.rcw))
		if cwinfeas != 0 {
			cwscale = 1.0 / cwinfeas
		}
	}

	res[0] = bnorm
	copy(w[0], s.rx)
	scale(1.0/res[0], w[0])
	alpha[0] = 1.0

	niters := 0
	if s.onRoot() && s.log.enable(LogTrace) {
		s.log.log("%5s %4s %4s %7s %7s %8s %8s gmres rtol: %7.1e\n",
			"gmres", "nhvc", "iter", "res", "rel", "fproj", "cproj", rtol)
		s.log.log("      %4d %4d %7.1e %7.1e\n", s.nhvec, 0, math.Abs(res[0]), 1.0)
	}

	size := 0
	var zv [][]float64
	if s.qn != nil && useQN {
		_, _, _, zv, size = s.qn.CompactMat()
	}

	for i := 0; i < s.gmresSize; i++ {
		// Apply the preconditioner to [W[i]; alpha[i]*(rest of r)/bnorm].
		rhs := kktRHS{
			bx: w[i], bt: s.rt, bc: s.rc, bcw: s.rcw,
			bs: s.rs, bsw: s.rsw, bzt: s.rzt, bzl: s.rzl, bzu: s.rzu,
		}
		sol := kktSol{yx: s.px, yt: s.pt, yz: s.pz, ys: s.ps, ysw: s.psw}
		s.solveKKTDiag(&rhs, &sol, alpha[i]/bnorm, s.xtemp, s.wtemp)

		if size > 0 {
			r := s.ztemp[:size]
			s.globalMdot(s.px, zv[:size], r)
			a := blas64.General{Rows: size, Cols: size, Stride: size, Data: s.ce[:size*size]}
			b := blas64.General{Rows: size, Cols: 1, Stride: 1, Data: r}
			lapack64.Getrs(blas.NoTrans, a, b, s.cpiv[:size])

			zero(s.sqn)
			for k := 0; k < size; k++ {
				axpy(r[k], zv[k], s.sqn)
			}
			// This call uses W[i+1] as a scratch vector; it is
			// overwritten by the operator application below.
			s.solveKKTDiagX(s.sqn, s.yqn, s.ztemp, w[i+1], s.wtemp)
			axpy(-1.0, s.yqn, s.px)
		}

		// px holds the current estimate of the design step.
		fproj[i] = s.evalObjBarrierDeriv()

		// Directional derivative of the dense infeasibility along px.
		aproj[i] = 0
		if s.denseInequality {
			for j := 0; j < s.ncon; j++ {
				deriv := s.globalDot(s.ac[j], s.px) - s.ps[j] + s.pt[j]
				aproj[i] -= cscale * s.rc[j] * deriv
			}
		} else {
			for j := 0; j < s.ncon; j++ {
				aproj[i] -= cscale * s.rc[j] * s.globalDot(s.ac[j], s.px)
			}
		}

		// Directional derivative of the sparse infeasibility.
		awproj[i] = 0
		if s.nwcon > 0 {
			zero(s.yqn)
			s.prob.AddSparseJacobianTranspose(1.0, s.x, s.rcw, s.yqn)
			awproj[i] = -cwscale * s.globalDot(s.px, s.yqn)
			if s.sparseInequality {
				awproj[i] += cwscale * s.globalDot(s.rcw, s.psw)
			}
		}

		// Operator application: exact Hessian product minus the
		// approximate Hessian, plus the diagonal identity term.
		hv, ok := s.prob.(HvecProducer)
		if !ok {
			return -niters
		}
		if err := hv.EvalHvecProduct(s.x, s.z, s.zw, s.px, w[i+1]); err != nil {
			return -niters
		}
		s.nhvec++
		if s.qn != nil && useQN {
			s.qn.MultAdd(-1.0, s.px, w[i+1])
		}
		axpy(1.0, w[i], w[i+1])
		alpha[i+1] = alpha[i]

		// Modified Gram-Schmidt with the augmented inner product.
		hptr := (i+1)*(i+2)/2 - 1
		for j := i; j >= 0; j-- {
			h[j+hptr] = s.globalDot(w[i+1], w[j]) + beta*alpha[i+1]*alpha[j]
			axpy(-h[j+hptr], w[j], w[i+1])
			alpha[i+1] -= h[j+hptr] * alpha[j]
		}
		h[i+1+hptr] = math.Sqrt(s.globalDot(w[i+1], w[i+1]) + beta*alpha[i+1]*alpha[i+1])
		scale(1.0/h[i+1+hptr], w[i+1])
		alpha[i+1] /= h[i+1+hptr]

		// Apply the accumulated rotations, then form the new one.
		for k := 0; k < i; k++ {
			h1, h2 := h[k+hptr], h[k+1+hptr]
			h[k+hptr] = h1*qcos[k] + h2*qsin[k]
			h[k+1+hptr] = -h1*qsin[k] + h2*qcos[k]
		}
		h1, h2 := h[i+hptr], h[i+1+hptr]
		sq := math.Sqrt(h1*h1 + h2*h2)
		qcos[i], qsin[i] = h1/sq, h2/sq
		h[i+hptr] = h1*qcos[i] + h2*qsin[i]
		h[i+1+hptr] = -h1*qsin[i] + h2*qcos[i]

		h1 = res[i]
		res[i] = h1 * qcos[i]
		res[i+1] = -h1 * qsin[i]
		niters++

		// Current least-squares weights for the projected tests.
		for j := niters - 1; j >= 0; j-- {
			y[j] = res[j]
			for k := j + 1; k < niters; k++ {
				kptr := (k+1)*(k+2)/2 - 1
				y[j] -= h[j+kptr] * y[k]
			}
			jptr := (j+1)*(j+2)/2 - 1
			y[j] /= h[j+jptr]
		}

		fpr, cpr := 0.0, 0.0
		for j := 0; j < niters; j++ {
			fpr += y[j] * fproj[j]
			cpr += y[j] * (aproj[j] + awproj[j])
		}

		if s.onRoot() && s.log.enable(LogTrace) {
			s.log.log("      %4d %4d %7.1e %7.1e %8.1e %8.1e\n",
				s.nhvec, i+1, math.Abs(res[i+1]), math.Abs(res[i+1]/bnorm), fpr, cpr)
		}

		// Accept only candidate descent directions.
		constraintDescent := cpr <= -0.01*(cinfeas+cwinfeas)
		if fpr < 0 || constraintDescent {
			if math.Abs(res[i+1]) < atol || math.Abs(res[i+1]) < rtol*bnorm {
				break
			}
		}
	}

	// Back-substitute through the triangular Hessenberg factor.
	for i := niters - 1; i >= 0; i-- {
		for j := i + 1; j < niters; j++ {
			jptr := (j+1)*(j+2)/2 - 1
			res[i] -= h[i+jptr] * res[j]
		}
		iptr := (i+1)*(i+2)/2 - 1
		res[i] /= h[i+iptr]
	}

	// Linear combination of the basis vectors and the residual scaling.
	scale(res[0], w[0])
	gamma := res[0] * alpha[0]
	for i := 1; i < niters; i++ {
		axpy(res[i], w[i], w[0])
		gamma += res[i] * alpha[i]
	}
	gamma /= bnorm

	for i := 0; i < s.ncon; i++ {
		s.rc[i] *= gamma
		s.rs[i] *= gamma
		s.rt[i] *= gamma
		s.rzt[i] *= gamma
	}
	scale(gamma, s.rzl)
	scale(gamma, s.rzu)
	if s.nwcon > 0 {
		scale(gamma, s.rcw)
		scale(gamma, s.rsw)
	}

	// Recover the primal-dual step in the original coordinates.
	rhs := kktRHS{
		bx: w[0], bt: s.rt, bc: s.rc, bcw: s.rcw,
		bs: s.rs, bsw: s.rsw, bzt: s.rzt, bzl: s.rzl, bzu: s.rzu,
	}
	sol := kktSol{
		yx: s.px, yt: s.pt, yz: s.pz, yzw: s.pzw,
		ys: s.ps, ysw: s.psw, yzt: s.pzt, yzl: s.pzl, yzu: s.pzu,
	}
	s.solveKKTDiag(&rhs, &sol, 1.0, s.xtemp, s.wtemp)
	if size > 0 {
		s.applySMWCorrection(zv, size)
	}

	// Final descent verification at the recovered step.
	fpr := s.evalObjBarrierDeriv()
	cpr := 0.0
	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			deriv := s.globalDot(s.ac[i], s.px) - s.ps[i] + s.pt[i]
			cpr += cscale * (s.c[i] - s.s[i] + s.t[i]) * deriv
		}
	} else {
		for i := 0; i < s.ncon; i++ {
			cpr += cscale * s.c[i] * s.globalDot(s.ac[i], s.px)
		}
	}
	if s.nwcon > 0 {
		s.prob.EvalSparseCon(s.x, s.rcw)
		if s.sparseInequality {
			axpy(-1.0, s.sw, s.rcw)
		}
		zero(s.yqn)
		s.prob.AddSparseJacobianTranspose(1.0, s.x, s.rcw, s.yqn)
		cpr += cwscale * s.globalDot(s.px, s.yqn)
		if s.sparseInequality {
			cpr += cwscale * s.globalDot(s.psw, s.rcw)
		}
	}

	if s.onRoot() && s.log.enable(LogTrace) {
		s.log.log("      %9s %7s %7s %8.1e %8.1e\n", "final", " ", " ", fpr, cpr)
	}

	if fpr < 0 || cpr < -0.01*(cinfeas+cwinfeas) {
		return niters
	}
	return -niters
}
