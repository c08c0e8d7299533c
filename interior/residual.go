// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import "math"

// liveLower reports whether the lower bound at a local index is active.
// Bounds at or beyond the maximum bound magnitude are treated as absent.
func (s *Solver) liveLower(i int) bool {
	return s.lb[i] > -s.opts.MaxBoundValue
}

// liveUpper reports whether the upper bound at a local index is active.
func (s *Solver) liveUpper(i int) bool {
	return s.ub[i] < s.opts.MaxBoundValue
}

// computeKKTRes assembles the negative KKT residuals at the given barrier
// parameter and returns the primal, dual and infeasibility norms in the
// configured norm. The overall residual norm is the maximum of the three.
//
// The residual blocks are
//
//	rx  = −(g − Acᵀz − Awᵀzw − zl + zu)
//	rc  = −(c − s + t)
//	rs  = −(S z − μ e)
//	rt  = −(γ − zt − z)
//	rzt = −(T zt − μ e)
//	rcw = −(cw − sw)
//	rsw = −(Sw zw − μ e)
//	rzl = −((X − Lb) zl − β μ e)   on live lower bounds
//	rzu = −((Ub − X) zu − β μ e)   on live upper bounds
func (s *Solver) computeKKTRes(barrier float64) (maxPrime, maxDual, maxInfeas float64) {
	norm := s.opts.NormType

	// rx = -(g - Ac^T*z - Aw^T*zw - zl + zu)
	if s.useLower {
		copy(s.rx, s.zl)
	} else {
		zero(s.rx)
	}
	if s.useUpper {
		axpy(-1.0, s.zu, s.rx)
	}
	axpy(-1.0, s.g, s.rx)
	for i := 0; i < s.ncon; i++ {
		axpy(s.z[i], s.ac[i], s.rx)
	}
	if s.nwcon > 0 {
		s.prob.AddSparseJacobianTranspose(1.0, s.x, s.zw, s.rx)

		// Residuals of the sparse constraints.
		s.prob.EvalSparseCon(s.x, s.rcw)
		if s.sparseInequality {
			axpy(-1.0, s.sw, s.rcw)
		}
		scale(-1.0, s.rcw)
	}

	switch norm {
	case NormInfinity:
		maxPrime = s.globalMaxAbs(s.rx)
		maxInfeas = s.globalMaxAbs(s.rcw)
	case NormL1:
		maxPrime = s.globalL1(s.rx)
		maxInfeas = s.globalL1(s.rcw)
	default: // NormL2: accumulate squares, root at the end.
		p := s.globalNorm(s.rx)
		w := s.globalNorm(s.rcw)
		maxPrime = p * p
		maxInfeas = w * w
	}

	// Dense constraint residuals. Equality rows zero the slack blocks.
	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			s.rc[i] = -(s.c[i] - s.s[i] + s.t[i])
			s.rs[i] = -(s.s[i]*s.z[i] - barrier)
			s.rt[i] = -(s.penaltyGamma[i] - s.zt[i] - s.z[i])
			s.rzt[i] = -(s.t[i]*s.zt[i] - barrier)
		}
	} else {
		for i := 0; i < s.ncon; i++ {
			s.rc[i] = -s.c[i]
			s.rs[i] = 0
			s.rt[i] = 0
			s.rzt[i] = 0
		}
	}

	switch norm {
	case NormInfinity:
		for i := 0; i < s.ncon; i++ {
			maxPrime = math.Max(maxPrime, math.Abs(s.rt[i]))
			maxInfeas = math.Max(maxInfeas, math.Abs(s.rc[i]))
			maxDual = math.Max(maxDual, math.Abs(s.rs[i]))
			maxDual = math.Max(maxDual, math.Abs(s.rzt[i]))
		}
	case NormL1:
		for i := 0; i < s.ncon; i++ {
			maxPrime += math.Abs(s.rt[i])
			maxInfeas += math.Abs(s.rc[i])
			maxDual += math.Abs(s.rs[i]) + math.Abs(s.rzt[i])
		}
	default:
		for i := 0; i < s.ncon; i++ {
			maxPrime += s.rt[i] * s.rt[i]
			maxInfeas += s.rc[i] * s.rc[i]
			maxDual += s.rs[i]*s.rs[i] + s.rzt[i]*s.rzt[i]
		}
	}

	// Bound multiplier residuals on the live bounds only.
	beta := s.opts.RelBoundBarrier
	if s.useLower {
		for i := 0; i < s.nvars; i++ {
			if s.liveLower(i) {
				s.rzl[i] = -((s.x[i]-s.lb[i])*s.zl[i] - beta*barrier)
			} else {
				s.rzl[i] = 0
			}
		}
		switch norm {
		case NormInfinity:
			maxDual = math.Max(maxDual, s.globalMaxAbs(s.rzl))
		case NormL1:
			maxDual += s.globalL1(s.rzl)
		default:
			n := s.globalNorm(s.rzl)
			maxDual += n * n
		}
	}
	if s.useUpper {
		for i := 0; i < s.nvars; i++ {
			if s.liveUpper(i) {
				s.rzu[i] = -((s.ub[i]-s.x[i])*s.zu[i] - beta*barrier)
			} else {
				s.rzu[i] = 0
			}
		}
		switch norm {
		case NormInfinity:
			maxDual = math.Max(maxDual, s.globalMaxAbs(s.rzu))
		case NormL1:
			maxDual += s.globalL1(s.rzu)
		default:
			n := s.globalNorm(s.rzu)
			maxDual += n * n
		}
	}

	// Perturbed complementarity of the sparse slacks.
	if s.nwcon > 0 && s.sparseInequality {
		for i := 0; i < s.nwcon; i++ {
			s.rsw[i] = -(s.sw[i]*s.zw[i] - barrier)
		}
		switch norm {
		case NormInfinity:
			maxDual = math.Max(maxDual, s.globalMaxAbs(s.rsw))
		case NormL1:
			maxDual += s.globalL1(s.rsw)
		default:
			n := s.globalNorm(s.rsw)
			maxDual += n * n
		}
	}

	if norm == NormL2 {
		maxPrime = math.Sqrt(maxPrime)
		maxDual = math.Sqrt(maxDual)
		maxInfeas = math.Sqrt(maxInfeas)
	}
	return maxPrime, maxDual, maxInfeas
}

// resNorm returns the overall residual norm from the three component norms.
func resNorm(maxPrime, maxDual, maxInfeas float64) float64 {
	return math.Max(maxPrime, math.Max(maxDual, maxInfeas))
}

// computeStepNorm returns the norm of the design step in the configured norm.
func (s *Solver) computeStepNorm() float64 {
	switch s.opts.NormType {
	case NormL1:
		return s.globalL1(s.px)
	case NormL2:
		return s.globalNorm(s.px)
	default:
		return s.globalMaxAbs(s.px)
	}
}

// computeComp returns the average complementarity over all live bounds and
// inequality slack pairs,
//
//	( Σ zl(x−lb)/β + Σ zu(ub−x)/β + Σ (s z + t zt) + Σ sw zw ) / count.
func (s *Solver) computeComp() float64 {
	product, count := 0.0, 0.0
	if s.useLower {
		for i := 0; i < s.nvars; i++ {
			if s.liveLower(i) {
				product += s.zl[i] * (s.x[i] - s.lb[i])
				count += 1.0
			}
		}
	}
	if s.useUpper {
		for i := 0; i < s.nvars; i++ {
			if s.liveUpper(i) {
				product += s.zu[i] * (s.ub[i] - s.x[i])
				count += 1.0
			}
		}
	}
	product /= s.opts.RelBoundBarrier

	if s.nwcon > 0 && s.sparseInequality {
		for i := 0; i < s.nwcon; i++ {
			product += s.sw[i] * s.zw[i]
			count += 1.0
		}
	}

	in := [2]float64{product, count}
	s.com.ReduceSum(optRoot, in[:])

	comp := [1]float64{}
	if s.onRoot() {
		product, count = in[0], in[1]
		if s.denseInequality {
			for i := 0; i < s.ncon; i++ {
				product += s.s[i]*s.z[i] + s.t[i]*s.zt[i]
				count += 2.0
			}
		}
		if count != 0 {
			comp[0] = product / count
		}
	}
	s.com.Bcast(optRoot, comp[:])
	return comp[0]
}

// computeCompStep returns the average complementarity evaluated at the trial
// point (x + alphaX*px, z + alphaZ*pz, ...) without mutating the state.
func (s *Solver) computeCompStep(alphaX, alphaZ float64) float64 {
	product, count := 0.0, 0.0
	if s.useLower {
		for i := 0; i < s.nvars; i++ {
			if s.liveLower(i) {
				xnew := s.x[i] + alphaX*s.px[i]
				product += (s.zl[i] + alphaZ*s.pzl[i]) * (xnew - s.lb[i])
				count += 1.0
			}
		}
	}
	if s.useUpper {
		for i := 0; i < s.nvars; i++ {
			if s.liveUpper(i) {
				xnew := s.x[i] + alphaX*s.px[i]
				product += (s.zu[i] + alphaZ*s.pzu[i]) * (s.ub[i] - xnew)
				count += 1.0
			}
		}
	}
	product /= s.opts.RelBoundBarrier

	if s.nwcon > 0 && s.sparseInequality {
		for i := 0; i < s.nwcon; i++ {
			product += (s.sw[i] + alphaX*s.psw[i]) * (s.zw[i] + alphaZ*s.pzw[i])
			count += 1.0
		}
	}

	in := [2]float64{product, count}
	s.com.ReduceSum(optRoot, in[:])

	comp := [1]float64{}
	if s.onRoot() {
		product, count = in[0], in[1]
		if s.denseInequality {
			for i := 0; i < s.ncon; i++ {
				product += (s.s[i] + alphaX*s.ps[i]) * (s.z[i] + alphaZ*s.pz[i])
				product += (s.t[i] + alphaX*s.pt[i]) * (s.zt[i] + alphaZ*s.pzt[i])
				count += 2.0
			}
		}
		if count != 0 {
			comp[0] = product / count
		}
	}
	s.com.Bcast(optRoot, comp[:])
	return comp[0]
}
