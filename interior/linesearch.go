// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import "math"

// lineResult is a bit-set of line search outcomes.
type lineResult int

const (
	lineSuccess lineResult = 1 << iota
	lineFailure
	lineMinStep
	lineMaxIters
	lineNoImprovement
)

// lineSearch performs a backtracking line search from the current point
// along the scaled step. The sufficient decrease test is relaxed by the
// function precision so that steps indistinguishable from the current point
// at evaluation precision are accepted. Without backtracking, the next step
// comes from quadratic interpolation clipped into [0.01α, α/2].
//
// On exit the trial point is held in (rx, rs, rt, rsw) and the objective and
// constraints are evaluated there.
func (s *Solver) lineSearch(alphaMin float64, alpha *float64, m0, dm0 float64) lineResult {
	fail := lineFailure
	a := *alpha

	bestMerit := 0.0
	bestAlpha := -1.0

	// Computed on every rank; logging is root-only.
	pxNorm := s.globalMaxAbs(s.px)
	if s.onRoot() && s.log.enable(LogTrace) {
		s.log.log("%5s %7s %25s %12s %12s %12s\n",
			"iter", "alpha", "merit", "dmerit", "||px||", "min(alpha)")
		s.log.log("%5d %7s %25.16e %12.5e %12.5e %12.5e\n",
			0, " ", m0, dm0, pxNorm, alphaMin)
	}

	merit := 0.0
	j := 0
	for ; j < s.opts.MaxLineIters; j++ {
		s.evalTrialPoint(a)

		fobj, c, err := s.prob.EvalObjCon(s.rx)
		s.neval++
		if err != nil {
			// Retreat from the undefined region and try again.
			s.log.log("paropt: evaluation failed during line search, trying new point\n")
			a *= 0.1
			continue
		}
		s.fobj = fobj
		copy(s.c, c)

		merit = s.evalMeritFunc(s.fobj, s.c, s.rx, s.rs, s.rt, s.rsw)

		if s.onRoot() && s.log.enable(LogTrace) {
			s.log.log("%5d %7.1e %25.16e %12.5e\n", j+1, a, merit, (merit-m0)/a)
		}

		if bestAlpha < 0 || merit < bestMerit {
			bestAlpha = a
			bestMerit = merit
		}

		// Armijo condition with the function precision relaxation.
		if merit-s.opts.ArmijoConstant*a*dm0 < m0+s.opts.FunctionPrecision {
			if fail&lineMinStep != 0 {
				fail = lineSuccess | lineMinStep
			} else {
				fail = lineSuccess
			}
			break
		} else if fail&lineMinStep != 0 {
			break
		}

		if j < s.opts.MaxLineIters-1 {
			if s.opts.UseBacktracking {
				a = 0.5 * a
				if a <= alphaMin {
					a = alphaMin
					fail |= lineMinStep
				}
			} else {
				alphaNew := -0.5 * dm0 * a * a / (merit - m0 - dm0*a)
				if alphaNew <= alphaMin {
					a = alphaMin
					fail |= lineMinStep
				} else if alphaNew < 0.01*a {
					a = 0.01 * a
				} else if alphaNew > 0.5*a {
					a = 0.5 * a
				} else {
					a = alphaNew
				}
			}
		}
	}

	if j == s.opts.MaxLineIters {
		fail |= lineMaxIters
	}

	if fail&lineSuccess == 0 {
		// A simple decrease within the function precision still counts.
		if bestMerit <= m0+s.opts.FunctionPrecision {
			fail |= lineSuccess
			fail &^= lineFailure
		} else if math.Abs(merit-m0) <= s.opts.FunctionPrecision {
			// No change in the merit function to evaluation precision.
			fail |= lineNoImprovement
		}

		// Return to the best point seen; the gradient is evaluated there
		// next, and the function must be evaluated before the gradient.
		if bestAlpha > 0 && a != bestAlpha {
			a = bestAlpha
			s.evalTrialPoint(a)
			fobj, c, err := s.prob.EvalObjCon(s.rx)
			s.neval++
			if err != nil {
				s.log.log("paropt: evaluation failed during line search\n")
				fail = lineFailure
			} else {
				s.fobj = fobj
				copy(s.c, c)
			}
		}
	}

	*alpha = a
	return fail
}

// evalTrialPoint fills (rx, rs, rt, rsw) with the trial point at step a.
func (s *Solver) evalTrialPoint(a float64) {
	copy(s.rx, s.x)
	s.applyStepClipped(s.rx, a, s.px, s.lb, s.ub)
	if s.nwcon > 0 && s.sparseInequality {
		copy(s.rsw, s.sw)
		s.applyStepFloor(s.rsw, a, s.psw, 0)
	}
	if s.denseInequality {
		copy(s.rs, s.s)
		s.applyStepFloor(s.rs, a, s.ps, 0)
		copy(s.rt, s.t)
		s.applyStepFloor(s.rt, a, s.pt, 0)
	}
}

// computeStepAndUpdate applies the accepted step to every primal and dual
// variable, evaluates the objective and gradient at the new point and
// performs the quasi-Newton update. The update pair is the design step and
// the difference of Lagrangian gradients at fixed new multipliers.
func (s *Solver) computeStepAndUpdate(alpha float64, evalObjCon, performQNUpdate bool) (UpdateType, error) {
	// Multipliers of equality rows are free; only inequality multipliers
	// and slacks are floored away from zero.
	if s.nwcon > 0 {
		if s.sparseInequality {
			s.applyStepFloor(s.zw, alpha, s.pzw, 0)
			s.applyStepFloor(s.sw, alpha, s.psw, 0)
		} else {
			axpy(alpha, s.pzw, s.zw)
		}
	}
	if s.useLower {
		s.applyStepFloor(s.zl, alpha, s.pzl, 0)
	}
	if s.useUpper {
		s.applyStepFloor(s.zu, alpha, s.pzu, 0)
	}
	if s.denseInequality {
		s.applyStepFloor(s.z, alpha, s.pz, 0)
		s.applyStepFloor(s.s, alpha, s.ps, 0)
		s.applyStepFloor(s.t, alpha, s.pt, 0)
		s.applyStepFloor(s.zt, alpha, s.pzt, 0)
	} else {
		axpy(alpha, s.pz, s.z)
	}

	// Negative Lagrangian gradient with the old design point but the new
	// multiplier estimates.
	doQNUpdate := s.qn != nil && performQNUpdate && s.opts.UseQuasiNewtonUpdate
	if doQNUpdate {
		copy(s.yqn, s.g)
		scale(-1.0, s.yqn)
		for i := 0; i < s.ncon; i++ {
			axpy(s.z[i], s.ac[i], s.yqn)
		}
		if s.nwcon > 0 {
			s.prob.AddSparseJacobianTranspose(1.0, s.x, s.zw, s.yqn)
		}
	}

	s.applyStepClipped(s.x, alpha, s.px, s.lb, s.ub)

	if evalObjCon {
		fobj, c, err := s.prob.EvalObjCon(s.x)
		s.neval++
		if err != nil {
			s.log.log("paropt: function and constraint evaluation failed\n")
			return UpdateApplied, err
		}
		s.fobj = fobj
		copy(s.c, c)
	}

	if err := s.prob.EvalObjConGradient(s.x, s.g, s.ac); err != nil {
		s.log.log("paropt: gradient evaluation failed at final line search\n")
		return UpdateApplied, err
	}
	s.ngeval++

	update := UpdateApplied
	if s.qn != nil && performQNUpdate {
		if s.opts.UseQuasiNewtonUpdate {
			copy(s.sqn, s.px)
			scale(alpha, s.sqn)

			// Complete the Lagrangian gradient difference.
			axpy(1.0, s.g, s.yqn)
			for i := 0; i < s.ncon; i++ {
				axpy(-s.z[i], s.ac[i], s.yqn)
			}
			if s.nwcon > 0 {
				s.prob.AddSparseJacobianTranspose(-1.0, s.x, s.zw, s.yqn)
			}

			if qc, ok := s.prob.(QuasiNewtonCorrector); ok {
				qc.ComputeQuasiNewtonUpdateCorrection(s.x, s.z, s.zw, s.sqn, s.yqn)
			}
			update = s.qn.Update(s.x, s.z, s.zw, s.sqn, s.yqn)
		} else {
			update = s.qn.Update(s.x, s.z, s.zw, nil, nil)
		}
	}
	return update, nil
}

// alphaMinForStep returns the smallest allowed line search step, derived
// from the function precision and the design step norm.
func (s *Solver) alphaMinForStep() float64 {
	pxNorm := s.globalMaxAbs(s.px)
	alphaMin := 1.0
	if pxNorm != 0 {
		alphaMin = s.opts.FunctionPrecision / pxNorm
	}
	return math.Min(alphaMin, 0.5)
}
