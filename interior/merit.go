// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import "math"

// evalMeritFunc evaluates the l1-penalty barrier merit function
//
//	φ = f − μ·B(x, s, t, sw) + ρ·(‖c − s + t‖₂ + ‖cw − sw‖₂) + γᵀt
//
// at a trial point. B sums the logs of the live bound gaps (weighted by the
// relative bound barrier) and of all inequality slacks. Positive and
// negative log contributions accumulate separately to limit cancellation;
// the difference is taken once at the end.
func (s *Solver) evalMeritFunc(fk float64, ck []float64, xk, sk, tk, swk []float64) float64 {
	pos, neg := 0.0, 0.0

	if s.useLower {
		for i := 0; i < s.nvars; i++ {
			if s.liveLower(i) {
				if xk[i]-s.lb[i] > 1.0 {
					pos += math.Log(xk[i] - s.lb[i])
				} else {
					neg += math.Log(xk[i] - s.lb[i])
				}
			}
		}
	}
	if s.useUpper {
		for i := 0; i < s.nvars; i++ {
			if s.liveUpper(i) {
				if s.ub[i]-xk[i] > 1.0 {
					pos += math.Log(s.ub[i] - xk[i])
				} else {
					neg += math.Log(s.ub[i] - xk[i])
				}
			}
		}
	}
	pos *= s.opts.RelBoundBarrier
	neg *= s.opts.RelBoundBarrier

	if s.nwcon > 0 && s.sparseInequality {
		for i := 0; i < s.nwcon; i++ {
			if swk[i] > 1.0 {
				pos += math.Log(swk[i])
			} else {
				neg += math.Log(swk[i])
			}
		}
	}

	// Sparse constraint infeasibility at the trial point.
	weightInfeas := 0.0
	if s.nwcon > 0 {
		s.prob.EvalSparseCon(xk, s.wtemp)
		if s.sparseInequality {
			axpy(-1.0, swk, s.wtemp)
		}
		weightInfeas = s.globalNorm(s.wtemp)
	}

	in := [2]float64{pos, neg}
	s.com.ReduceSum(optRoot, in[:])

	out := [1]float64{}
	if s.onRoot() {
		pos, neg = in[0], in[1]
		if s.denseInequality {
			for i := 0; i < s.ncon; i++ {
				if sk[i] > 1.0 {
					pos += math.Log(sk[i])
				} else {
					neg += math.Log(sk[i])
				}
				if tk[i] > 1.0 {
					pos += math.Log(tk[i])
				} else {
					neg += math.Log(tk[i])
				}
			}
		}

		denseInfeas := 0.0
		if s.denseInequality {
			for i := 0; i < s.ncon; i++ {
				v := ck[i] - sk[i] + tk[i]
				denseInfeas += v * v
			}
		} else {
			for i := 0; i < s.ncon; i++ {
				denseInfeas += ck[i] * ck[i]
			}
		}
		infeas := math.Sqrt(denseInfeas) + weightInfeas

		merit := fk - s.barrierParam*(pos+neg) + s.rhoPenalty*infeas
		if s.denseInequality {
			for i := 0; i < s.ncon; i++ {
				merit += s.penaltyGamma[i] * tk[i]
			}
		}
		out[0] = merit
	}
	s.com.Bcast(optRoot, out[:])
	return out[0]
}

// evalMeritInitDeriv evaluates the merit function and its directional
// derivative at alpha = 0, first raising or damping the penalty so the
// direction is a descent direction:
//
//	numer + ρ·infeas_proj ≤ −penalty_descent_fraction·ρ·max_x·infeas
//
// is solved for the smallest admissible ρ̂; the penalty rises to ρ̂ when
// larger than the current value and is otherwise damped toward it, floored
// at the configured minimum.
func (s *Solver) evalMeritInitDeriv(maxX float64) (merit, pmerit float64) {
	beta := s.opts.RelBoundBarrier
	pos, neg := 0.0, 0.0
	posP, negP := 0.0, 0.0

	if s.useLower {
		for i := 0; i < s.nvars; i++ {
			if s.liveLower(i) {
				if s.x[i]-s.lb[i] > 1.0 {
					pos += math.Log(s.x[i] - s.lb[i])
				} else {
					neg += math.Log(s.x[i] - s.lb[i])
				}
				if s.px[i] > 0 {
					posP += s.px[i] / (s.x[i] - s.lb[i])
				} else {
					negP += s.px[i] / (s.x[i] - s.lb[i])
				}
			}
		}
	}
	if s.useUpper {
		for i := 0; i < s.nvars; i++ {
			if s.liveUpper(i) {
				if s.ub[i]-s.x[i] > 1.0 {
					pos += math.Log(s.ub[i] - s.x[i])
				} else {
					neg += math.Log(s.ub[i] - s.x[i])
				}
				if s.px[i] > 0 {
					negP -= s.px[i] / (s.ub[i] - s.x[i])
				} else {
					posP -= s.px[i] / (s.ub[i] - s.x[i])
				}
			}
		}
	}
	pos *= beta
	neg *= beta
	posP *= beta
	negP *= beta

	if s.nwcon > 0 && s.sparseInequality {
		for i := 0; i < s.nwcon; i++ {
			if s.sw[i] > 1.0 {
				pos += math.Log(s.sw[i])
			} else {
				neg += math.Log(s.sw[i])
			}
			if s.psw[i] > 0 {
				posP += s.psw[i] / s.sw[i]
			} else {
				negP += s.psw[i] / s.sw[i]
			}
		}
	}

	// Sparse infeasibility and its projection onto the step,
	// (cw − sw)ᵀ(Aw·px − psw)/‖cw − sw‖.
	weightInfeas, weightProj := 0.0, 0.0
	if s.nwcon > 0 {
		s.prob.EvalSparseCon(s.x, s.wtemp)
		if s.sparseInequality {
			axpy(-1.0, s.sw, s.wtemp)
		}
		weightInfeas = s.globalNorm(s.wtemp)

		zero(s.rcw)
		s.prob.AddSparseJacobian(1.0, s.x, s.px, s.rcw)
		if s.sparseInequality {
			weightProj = s.globalDot(s.wtemp, s.rcw) - s.globalDot(s.wtemp, s.psw)
		} else {
			weightProj = s.globalDot(s.wtemp, s.rcw)
		}
		if weightInfeas > 0 {
			weightProj /= weightInfeas
		}
	}

	in := [4]float64{pos, neg, posP, negP}
	s.com.ReduceSum(optRoot, in[:])
	pos, neg, posP, negP = in[0], in[1], in[2], in[3]

	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			if s.s[i] > 1.0 {
				pos += math.Log(s.s[i])
			} else {
				neg += math.Log(s.s[i])
			}
			if s.ps[i] > 0 {
				posP += s.ps[i] / s.s[i]
			} else {
				negP += s.ps[i] / s.s[i]
			}
			if s.t[i] > 1.0 {
				pos += math.Log(s.t[i])
			} else {
				neg += math.Log(s.t[i])
			}
			if s.pt[i] > 0 {
				posP += s.pt[i] / s.t[i]
			} else {
				negP += s.pt[i] / s.t[i]
			}
		}
	}

	// Projected objective derivative with the violation penalty.
	proj := s.globalDot(s.g, s.px)
	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			proj += s.penaltyGamma[i] * s.pt[i]
		}
	}

	// Dense infeasibility and its projection.
	denseInfeas, denseProj := 0.0, 0.0
	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			v := s.c[i] - s.s[i] + s.t[i]
			denseInfeas += v * v
		}
	} else {
		for i := 0; i < s.ncon; i++ {
			denseInfeas += s.c[i] * s.c[i]
		}
	}
	denseInfeas = math.Sqrt(denseInfeas)

	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			denseProj += (s.c[i] - s.s[i] + s.t[i]) *
				(s.globalDot(s.ac[i], s.px) - s.ps[i] + s.pt[i])
		}
	} else {
		for i := 0; i < s.ncon; i++ {
			denseProj += s.c[i] * s.globalDot(s.ac[i], s.px)
		}
	}
	if denseInfeas > 0 {
		denseProj /= denseInfeas
	}

	// Curvature along the step from the Hessian approximation.
	pTBp := 0.0
	if s.opts.UseDiagHessian && s.hdiag != nil {
		local := 0.0
		for i := 0; i < s.nvars; i++ {
			local += s.px[i] * s.px[i] * s.hdiag[i]
		}
		v := [1]float64{local}
		s.com.AllreduceSum(v[:])
		pTBp = v[0]
	} else if s.qn != nil {
		s.qn.Mult(s.px, s.xtemp)
		pTBp = 0.5 * s.globalDot(s.xtemp, s.px)
	}

	out := [3]float64{}
	if s.onRoot() {
		infeas := denseInfeas + weightInfeas
		infeasProj := denseProj + weightProj

		numer := proj - s.barrierParam*(posP+negP)
		if pTBp > 0 {
			numer += 0.5 * pTBp
		}

		// Smallest penalty guaranteeing descent. An exact step gives
		// infeas_proj = -max_x*infeas, so the denominator stays negative.
		rhoHat := 0.0
		if infeas > 0.01*s.opts.AbsResTol {
			rhoHat = -numer / (infeasProj + s.opts.PenaltyDescentFraction*maxX*infeas)
		}
		if rhoHat > s.rhoPenalty {
			s.rhoPenalty = rhoHat
		} else {
			s.rhoPenalty *= 0.5
			if s.rhoPenalty < rhoHat {
				s.rhoPenalty = rhoHat
			}
		}
		if s.rhoPenalty < s.opts.MinRhoPenalty {
			s.rhoPenalty = s.opts.MinRhoPenalty
		}

		merit = s.fobj - s.barrierParam*(pos+neg) + s.rhoPenalty*infeas
		pmerit = proj - s.barrierParam*(posP+negP) + s.rhoPenalty*infeasProj
		if s.denseInequality {
			for i := 0; i < s.ncon; i++ {
				merit += s.penaltyGamma[i] * s.t[i]
			}
		}
		out = [3]float64{merit, pmerit, s.rhoPenalty}
	}
	s.com.Bcast(optRoot, out[:])
	s.rhoPenalty = out[2]
	return out[0], out[1]
}

// checkMeritFuncGradient verifies the merit directional derivative against a
// forward finite difference with step dh and logs both values. The penalty
// parameter is updated as a side effect, exactly as in the line search path.
func (s *Solver) checkMeritFuncGradient(dh float64) {
	m0, dm0 := s.evalMeritInitDeriv(1.0)

	// Trial point x + dh*px with the slack updates applied.
	copy(s.rx, s.x)
	s.applyStepClipped(s.rx, dh, s.px, s.lb, s.ub)
	if s.nwcon > 0 && s.sparseInequality {
		copy(s.rsw, s.sw)
		s.applyStepFloor(s.rsw, dh, s.psw, 0)
	}
	if s.denseInequality {
		copy(s.rs, s.s)
		s.applyStepFloor(s.rs, dh, s.ps, 0)
		copy(s.rt, s.t)
		s.applyStepFloor(s.rt, dh, s.pt, 0)
	}

	fobj, c, err := s.prob.EvalObjCon(s.rx)
	s.neval++
	if err != nil {
		s.log.log("paropt: function evaluation failed in merit check\n")
		return
	}
	m1 := s.evalMeritFunc(fobj, c, s.rx, s.rs, s.rt, s.rsw)
	fd := (m1 - m0) / dh

	if s.onRoot() {
		s.log.log("Merit function test\n")
		s.log.log("dm FD: %15.8e  Actual: %15.8e  Err: %8.2e  Rel err: %8.2e\n",
			fd, dm0, math.Abs(fd-dm0), math.Abs((fd-dm0)/dm0))
	}
}
