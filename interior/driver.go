// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import (
	"fmt"
	"math"
)

// Warning bits reported by the design and bound consistency check.
const (
	warnInconsistentBounds = 1 << iota
	warnNearLowerBound
	warnNearUpperBound
)

// initAndCheckDesignAndBounds loads the design point and bounds from the
// problem and repairs anything inconsistent: bounds with lb ≥ ub are split
// around their midpoint, and variables within 0.001·μ·(ub − lb) of a live
// bound are moved inside. Warnings are OR-reduced across the group and
// logged on the root. Multipliers of absent bounds are zeroed.
func (s *Solver) initAndCheckDesignAndBounds() int {
	if s.started {
		// A resumed solve keeps its design point; only the bounds are
		// refreshed from the problem.
		copy(s.xtemp, s.x)
		s.prob.VarsAndBounds(s.x, s.lb, s.ub)
		copy(s.x, s.xtemp)
	} else {
		s.prob.VarsAndBounds(s.x, s.lb, s.ub)
	}

	relBound := 0.001 * s.barrierParam
	check := 0
	if s.useLower && s.useUpper {
		for i := 0; i < s.nvars; i++ {
			delta := 1.0
			if s.liveLower(i) && s.liveUpper(i) {
				if s.lb[i] >= s.ub[i] {
					check |= warnInconsistentBounds
					s.lb[i] = 0.5*(s.lb[i]+s.ub[i]) - 0.5*relBound
					s.ub[i] = s.lb[i] + relBound
				}
				delta = s.ub[i] - s.lb[i]
			}
			if s.liveLower(i) && s.x[i] < s.lb[i]+relBound*delta {
				check |= warnNearLowerBound
				s.x[i] = s.lb[i] + relBound*delta
			}
			if s.liveUpper(i) && s.x[i] > s.ub[i]-relBound*delta {
				check |= warnNearUpperBound
				s.x[i] = s.ub[i] - relBound*delta
			}
		}
	}

	check = s.com.BorInt(check)
	if s.onRoot() {
		if check&warnInconsistentBounds != 0 {
			s.log.log("paropt warning: variable bounds are inconsistent\n")
		}
		if check&warnNearLowerBound != 0 {
			s.log.log("paropt warning: variables may be too close to lower bound\n")
		}
		if check&warnNearUpperBound != 0 {
			s.log.log("paropt warning: variables may be too close to upper bound\n")
		}
	}

	s.zeroAbsentBoundMultipliers()
	return check
}

// Optimize runs the interior-point iteration until convergence or the major
// iteration limit. When checkpoint is non-empty the primal-dual state is
// written there at the output frequency. The returned error propagates a
// failed problem evaluation; line search and factorization difficulties are
// handled internally.
func (s *Solver) Optimize(checkpoint string) error {
	// Without a quasi-Newton approximation this is a sequential linear method.
	seqLinear := s.opts.SequentialLinearMethod || s.qn == nil

	s.niter, s.neval, s.ngeval, s.nhvec = 0, 0, 0, 0

	s.initAndCheckDesignAndBounds()

	fobj, c, err := s.prob.EvalObjCon(s.x)
	s.neval++
	if err != nil {
		s.log.log("paropt: initial function and constraint evaluation failed\n")
		return err
	}
	s.fobj = fobj
	copy(s.c, c)
	if err := s.prob.EvalObjConGradient(s.x, s.g, s.ac); err != nil {
		s.log.log("paropt: initial gradient evaluation failed\n")
		return err
	}
	s.ngeval++

	// Initialize the multiplier and slack estimates on the first call;
	// resumed calls keep the current state.
	if !s.started {
		switch s.opts.StartStrategy {
		case StartAffineStep:
			useQN := !seqLinear && s.opts.UseQNGMRESPrecon
			if !s.initAffineStep(useQN) {
				s.initLeastSquaresMultipliers()
			}
		case StartLeastSquares:
			s.initLeastSquaresMultipliers()
		default:
			s.zeroAbsentBoundMultipliers()
		}
		s.started = true
	}

	if s.qn != nil && !s.opts.UseQuasiNewtonUpdate {
		s.qn.Update(s.x, s.z, s.zw, nil, nil)
	}

	fobjPrev := 0.0
	alphaPrev, alphaXPrev, alphaZPrev := 0.0, 0.0, 0.0
	dm0Prev := 0.0
	resNormPrev := 0.0
	stepNormPrev := math.Inf(1)

	// Two consecutive line searches without a merit improvement declare
	// the barrier subproblem converged.
	noMeritImprovement := false
	lineSearchTest := 0
	lineSearchFailed := false

	info := ""

	for k := 0; k < s.opts.MaxMajorIters; k++ {
		s.niter = k
		if s.qn != nil && !seqLinear && s.opts.UseQuasiNewtonUpdate &&
			k > 0 && k%s.opts.HessianResetFreq == 0 {
			s.qn.Reset()
			if s.onRoot() {
				info += "resetH "
			}
		}

		if s.opts.OutputFrequency > 0 && k%s.opts.OutputFrequency == 0 {
			if checkpoint != "" {
				if err := s.WriteSolution(checkpoint); err != nil {
					s.log.log("paropt: checkpoint file %s creation failed\n", checkpoint)
					checkpoint = ""
				}
			}
			if ow, ok := s.prob.(OutputWriter); ok {
				ow.WriteOutput(k, s.x)
			}
		}

		relFunctionTest := alphaXPrev == 1.0 && alphaZPrev == 1.0 &&
			math.Abs(s.fobj-fobjPrev) < s.opts.RelFuncTol*math.Abs(fobjPrev)

		if noMeritImprovement {
			lineSearchTest++
		} else {
			lineSearchTest = 0
		}

		comp := s.computeComp()

		var maxPrime, maxDual, maxInfeas float64
		norm := 0.0

		switch s.opts.BarrierStrategy {
		case BarrierMonotone:
			maxPrime, maxDual, maxInfeas = s.computeKKTRes(s.barrierParam)
			norm = resNorm(maxPrime, maxDual, maxInfeas)
			if k == 0 {
				resNormPrev = norm
			}

			barrierConverged := k > 0 && (norm < 10.0*s.barrierParam ||
				relFunctionTest || lineSearchTest >= 2)
			if barrierConverged {
				// Take the smaller of the fixed fraction and the
				// superlinear power rule, floored near the target
				// tolerance.
				muFrac := s.opts.MonotoneBarrierFraction * s.barrierParam
				muPow := math.Pow(s.barrierParam, s.opts.MonotoneBarrierPower)
				newBarrier := math.Min(muFrac, muPow)
				if newBarrier < 0.1*s.opts.AbsResTol {
					newBarrier = 0.09999 * s.opts.AbsResTol
				}

				maxPrime, maxDual, maxInfeas = s.computeKKTRes(newBarrier)
				norm = resNorm(maxPrime, maxDual, maxInfeas)
				s.rhoPenalty = s.opts.MinRhoPenalty
				s.barrierParam = newBarrier
			}

		case BarrierMehrotra:
			maxPrime, maxDual, maxInfeas = s.computeKKTRes(s.barrierParam)
			norm = resNorm(maxPrime, maxDual, maxInfeas)
			if k == 0 {
				resNormPrev = norm
			}

		case BarrierComplementarityFraction:
			s.barrierParam = s.opts.MonotoneBarrierFraction * comp
			if s.barrierParam < 0.1*s.opts.AbsResTol {
				s.barrierParam = 0.1 * s.opts.AbsResTol
			}
			maxPrime, maxDual, maxInfeas = s.computeKKTRes(s.barrierParam)
			norm = resNorm(maxPrime, maxDual, maxInfeas)
			if k == 0 {
				resNormPrev = norm
			}
		}

		s.printIterLine(k, alphaPrev, alphaXPrev, alphaZPrev,
			maxPrime, maxDual, maxInfeas, comp, dm0Prev, info)
		info = ""

		// Global convergence gate.
		stepTest := s.opts.AbsStepTol > 0 && stepNormPrev < s.opts.AbsStepTol
		converged := 0
		if k > 0 && s.barrierParam <= 0.1*s.opts.AbsResTol &&
			(norm < s.opts.AbsResTol || relFunctionTest || stepTest ||
				lineSearchTest >= 2) {
			converged = 1
			if s.onRoot() {
				switch {
				case relFunctionTest:
					s.log.log("\nparopt: successfully converged on relative function test\n")
				case lineSearchTest >= 2:
					s.log.log("\nparopt warning: current design point could not be improved; " +
						"no barrier function decrease in previous two iterations\n")
				default:
					s.log.log("\nparopt: successfully converged to requested tolerance\n")
				}
			}
		}
		// All ranks agree through the root's decision.
		converged = s.com.BorInt(boolToInt(s.onRoot() && converged == 1))
		if converged != 0 {
			break
		}

		gmresIters := 0
		inexactNewton := false

		// Newton-Krylov branch with Eisenstat-Walker forcing.
		_, hasHvec := s.prob.(HvecProducer)
		if s.opts.UseHvecProduct && hasHvec && s.gmresSize > 0 {
			gmresRtol := s.opts.EisenstatWalkerGamma *
				math.Pow(norm/resNormPrev, s.opts.EisenstatWalkerAlpha)

			if maxPrime < s.opts.NKSwitchTol && maxDual < s.opts.NKSwitchTol &&
				maxInfeas < s.opts.NKSwitchTol && gmresRtol < s.opts.MaxGMRESRtol {
				useQN := !seqLinear && s.opts.UseQNGMRESPrecon
				if s.setUpKKTDiagSystem(useQN) && s.setUpKKTSystem(useQN) {
					gmresIters = s.computeKKTGMRESStep(gmresRtol, s.opts.GMRESAtol, useQN)
					if s.opts.AbsStepTol > 0 {
						stepNormPrev = s.computeStepNorm()
					}

					if gmresIters < 0 {
						if s.onRoot() && s.log.enable(LogTrace) {
							s.log.log("      %9s\n", "step failed")
						}
						// The residuals were destroyed during the
						// failed iteration.
						s.computeKKTRes(s.barrierParam)
					} else {
						inexactNewton = true
					}
				}
			}
		}

		fobjPrev = s.fobj
		resNormPrev = norm

		seqLinearStep := false

		// Quasi-Newton (or diagonal) step branch.
		if !inexactNewton {
			useQN := true
			if seqLinear || (lineSearchFailed && !s.opts.UseQuasiNewtonUpdate) {
				useQN = false
				seqLinearStep = true
			} else if s.opts.UseDiagHessian {
				useQN = false
				if hd, ok := s.prob.(HessianDiagEvaluator); ok {
					if err := hd.EvalHessianDiag(s.x, s.z, s.zw, s.hdiag); err != nil {
						s.log.log("paropt: Hessian diagonal evaluation failed\n")
						return err
					}
				}
			}

			if s.opts.BarrierStrategy == BarrierMehrotra {
				s.computeKKTRes(0.0)
			}

			singular := !s.setUpKKTDiagSystem(useQN) || !s.setUpKKTSystem(useQN)
			if singular {
				// Retreat to a sequential linear step with a fresh
				// quasi-Newton store.
				if s.qn != nil {
					s.qn.Reset()
				}
				useQN = false
				seqLinearStep = true
				s.computeKKTRes(s.barrierParam)
				if !s.setUpKKTDiagSystem(useQN) || !s.setUpKKTSystem(useQN) {
					lineSearchFailed = true
					noMeritImprovement = true
					continue
				}
			}
			s.computeKKTStep(useQN)
			if s.opts.AbsStepTol > 0 {
				stepNormPrev = s.computeStepNorm()
			}

			if s.opts.BarrierStrategy == BarrierMehrotra {
				// Probe the affine step right to the boundary, then
				// re-solve with the adaptive barrier.
				maxX, maxZ := s.computeMaxStep(1.0)
				compAffine := s.computeCompStep(maxX, maxZ)

				s1 := compAffine / comp
				sigma := s1 * s1 * s1

				s.barrierParam = sigma * comp
				if s.barrierParam < 0.09999*s.opts.AbsResTol {
					s.barrierParam = 0.09999 * s.opts.AbsResTol
				}

				s.computeKKTRes(s.barrierParam)
				s.computeKKTStep(useQN)
			}
		}

		tau := s.fractionToBoundary()
		ceqStep, alphaX, alphaZ := s.scaleKKTStep(tau, comp, inexactNewton)

		alpha := 1.0
		lineFail := lineFailure
		update := UpdateApplied
		lineSearchSkipped := false
		noMeritImprovement = false

		if s.opts.UseLineSearch {
			m0, dm0 := s.evalMeritInitDeriv(alphaX)
			dm0Prev = dm0

			if dm0 >= 0 && dm0 <= s.opts.FunctionPrecision {
				// Flat to within evaluation precision: take the step.
				lineSearchSkipped = true
				lineFail = lineSuccess
				update, err = s.computeStepAndUpdate(alpha, true, true)
				if err != nil {
					return err
				}
				if math.Abs(s.fobj-fobjPrev) <= s.opts.FunctionPrecision {
					lineFail = lineNoImprovement
				}
			} else {
				if dm0 >= 0 {
					// Not a descent direction. Discard the quasi-Newton
					// approximation and retry with a plain linear step.
					seqLinearStep = true
					inexactNewton = false

					s.computeKKTRes(s.barrierParam)
					if !s.setUpKKTDiagSystem(false) || !s.setUpKKTSystem(false) {
						lineSearchFailed = true
						noMeritImprovement = true
						continue
					}
					s.computeKKTStep(false)
					ceqStep, alphaX, alphaZ = s.scaleKKTStep(tau, comp, false)

					m0, dm0 = s.evalMeritInitDeriv(alphaX)
					dm0Prev = dm0
				}

				if s.opts.MajorIterStepCheck > 0 && k%s.opts.MajorIterStepCheck == 0 {
					s.checkMeritFuncGradient(s.opts.MeritFuncCheckEpsilon)
				}

				if dm0 >= 0 {
					lineFail = lineFailure
				} else {
					alphaMin := s.alphaMinForStep()
					lineFail = s.lineSearch(alphaMin, &alpha, m0, dm0)

					if lineFail&lineFailure == 0 {
						// The objective is already evaluated at the
						// accepted point.
						update, err = s.computeStepAndUpdate(alpha, false, true)
						if err != nil {
							return err
						}
					}
				}
			}
		} else {
			update, err = s.computeStepAndUpdate(alpha, true, true)
			if err != nil {
				return err
			}
			lineFail = lineSuccess
		}

		noMeritImprovement = lineFail&(lineNoImprovement|lineMinStep|lineFailure) != 0
		lineSearchFailed = lineFail&lineFailure != 0

		alphaPrev = alpha
		alphaXPrev = alphaX
		alphaZPrev = alphaZ

		if s.qn != nil && s.opts.UseQuasiNewtonUpdate && lineFail&lineFailure != 0 {
			s.qn.Reset()
		}

		if s.onRoot() {
			info = iterInfo(gmresIters, update, lineFail, seqLinearStep,
				lineSearchSkipped, ceqStep)
		}

		if s.opts.GradientCheckFrequency > 0 && k > 0 &&
			k%s.opts.GradientCheckFrequency == 0 {
			s.checkMeritFuncGradient(s.opts.GradientCheckStep)
		}
	}

	return nil
}

// printIterLine writes one line of the major iteration table on the root.
func (s *Solver) printIterLine(k int, alpha, alphaX, alphaZ,
	maxPrime, maxDual, maxInfeas, comp, dm0 float64, info string) {
	if !s.onRoot() || !s.log.enable(LogIter) {
		return
	}
	if k%10 == 0 || s.log.Level > LogIter {
		s.log.log("\n%4s %4s %4s %4s %7s %7s %7s %12s %7s %7s %7s "+
			"%7s %7s %8s %7s info\n",
			"iter", "nobj", "ngrd", "nhvc", "alpha", "alphx", "alphz",
			"fobj", "|opt|", "|infes|", "|dual|", "mu", "comp", "dmerit", "rho")
	}
	if k == 0 {
		s.log.log("%4d %4d %4d %4d %7s %7s %7s %12.5e %7.1e %7.1e "+
			"%7.1e %7.1e %7.1e %8s %7s %s\n",
			k, s.neval, s.ngeval, s.nhvec, "--", "--", "--",
			s.fobj, maxPrime, maxInfeas, maxDual,
			s.barrierParam, comp, "--", "--", info)
	} else {
		s.log.log("%4d %4d %4d %4d %7.1e %7.1e %7.1e %12.5e %7.1e "+
			"%7.1e %7.1e %7.1e %7.1e %8.1e %7.1e %s\n",
			k, s.neval, s.ngeval, s.nhvec, alpha, alphaX, alphaZ,
			s.fobj, maxPrime, maxInfeas, maxDual,
			s.barrierParam, comp, dm0, s.rhoPenalty, info)
	}
}

// iterInfo builds the event code string for the iteration table.
func iterInfo(gmresIters int, update UpdateType, lineFail lineResult,
	seqLinearStep, lineSearchSkipped, ceqStep bool) string {
	info := ""
	if gmresIters != 0 {
		info += fmt.Sprintf("iNK%d ", gmresIters)
	}
	switch update {
	case UpdateDamped:
		info += "dampH "
	case UpdateSkipped:
		info += "skipH "
	}
	if lineFail&lineFailure != 0 {
		info += "LFail "
	}
	if lineFail&lineMinStep != 0 {
		info += "LMnStp "
	}
	if lineFail&lineMaxIters != 0 {
		info += "LMxItr "
	}
	if lineFail&lineNoImprovement != 0 {
		info += "LNoImprv "
	}
	if seqLinearStep {
		info += "SLP "
	}
	if lineSearchSkipped {
		info += "LSkip "
	}
	if ceqStep {
		info += "cmpEq "
	}
	return info
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
