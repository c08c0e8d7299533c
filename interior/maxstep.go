// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import "math"

// computeMaxStep returns the maximum primal and dual step fractions along
// the current direction under the fraction-to-boundary rule with factor tau:
// positive quantities must retain at least (1 − tau) of their distance to
// zero (or to their bound). The minima are reduced across the group.
func (s *Solver) computeMaxStep(tau float64) (maxX, maxZ float64) {
	maxX, maxZ = 1.0, 1.0

	if s.useLower {
		for i := 0; i < s.nvars; i++ {
			if s.px[i] < 0 {
				if alpha := -tau * (s.x[i] - s.lb[i]) / s.px[i]; alpha < maxX {
					maxX = alpha
				}
			}
		}
	}
	if s.useUpper {
		for i := 0; i < s.nvars; i++ {
			if s.px[i] > 0 {
				if alpha := tau * (s.ub[i] - s.x[i]) / s.px[i]; alpha < maxX {
					maxX = alpha
				}
			}
		}
	}

	if s.denseInequality {
		for i := 0; i < s.ncon; i++ {
			if s.ps[i] < 0 {
				if alpha := -tau * s.s[i] / s.ps[i]; alpha < maxX {
					maxX = alpha
				}
			}
			if s.pt[i] < 0 {
				if alpha := -tau * s.t[i] / s.pt[i]; alpha < maxX {
					maxX = alpha
				}
			}
			if s.pz[i] < 0 {
				if alpha := -tau * s.z[i] / s.pz[i]; alpha < maxZ {
					maxZ = alpha
				}
			}
			if s.pzt[i] < 0 {
				if alpha := -tau * s.zt[i] / s.pzt[i]; alpha < maxZ {
					maxZ = alpha
				}
			}
		}
	}

	if s.nwcon > 0 && s.sparseInequality {
		for i := 0; i < s.nwcon; i++ {
			if s.pzw[i] < 0 {
				if alpha := -tau * s.zw[i] / s.pzw[i]; alpha < maxZ {
					maxZ = alpha
				}
			}
			if s.psw[i] < 0 {
				if alpha := -tau * s.sw[i] / s.psw[i]; alpha < maxX {
					maxX = alpha
				}
			}
		}
	}

	if s.useLower {
		for i := 0; i < s.nvars; i++ {
			if s.liveLower(i) && s.pzl[i] < 0 {
				if alpha := -tau * s.zl[i] / s.pzl[i]; alpha < maxZ {
					maxZ = alpha
				}
			}
		}
	}
	if s.useUpper {
		for i := 0; i < s.nvars; i++ {
			if s.liveUpper(i) && s.pzu[i] < 0 {
				if alpha := -tau * s.zu[i] / s.pzu[i]; alpha < maxZ {
					maxZ = alpha
				}
			}
		}
	}

	in := [2]float64{maxX, maxZ}
	s.com.AllreduceMin(in[:])
	return in[0], in[1]
}

// scaleKKTStep scales the step vectors by the maximum permissible step
// fractions. For quasi-Newton steps the primal/dual ratio is clamped to a
// factor of 100 and the steps are equalized if the complementarity at the
// scaled step would grow by more than a factor of ten; inexact Newton steps
// always use equal fractions. It reports whether the steps were equalized
// by the complementarity guard.
func (s *Solver) scaleKKTStep(tau, comp float64, inexactNewton bool) (ceqStep bool, alphaX, alphaZ float64) {
	alphaX, alphaZ = s.computeMaxStep(tau)

	if !inexactNewton {
		const maxBnd = 100.0
		if alphaX > alphaZ {
			if alphaX > maxBnd*alphaZ {
				alphaX = maxBnd * alphaZ
			} else if alphaX < alphaZ/maxBnd {
				alphaX = alphaZ / maxBnd
			}
		} else {
			if alphaZ > maxBnd*alphaX {
				alphaZ = maxBnd * alphaX
			} else if alphaZ < alphaX/maxBnd {
				alphaZ = alphaX / maxBnd
			}
		}

		// If the complementarity grows at the full scaled step, fall
		// back to equal fractions.
		compNew := s.computeCompStep(alphaX, alphaZ)
		if compNew > 10.0*comp {
			ceqStep = true
			if alphaX > alphaZ {
				alphaX = alphaZ
			} else {
				alphaZ = alphaX
			}
		}
	} else {
		if alphaX > alphaZ {
			alphaX = alphaZ
		} else {
			alphaZ = alphaX
		}
	}

	scale(alphaX, s.px)
	if s.nwcon > 0 {
		scale(alphaZ, s.pzw)
		if s.sparseInequality {
			scale(alphaX, s.psw)
		}
	}
	if s.useLower {
		scale(alphaZ, s.pzl)
	}
	if s.useUpper {
		scale(alphaZ, s.pzu)
	}
	scale(alphaZ, s.pz)
	if s.denseInequality {
		scale(alphaX, s.ps)
		scale(alphaX, s.pt)
		scale(alphaZ, s.pzt)
	}
	return ceqStep, alphaX, alphaZ
}

// applyStepClipped sets x = x + alpha*p and clips the result to lie at least
// the design precision inside the live bounds.
func (s *Solver) applyStepClipped(x []float64, alpha float64, p, lb, ub []float64) {
	eps := s.opts.DesignPrecision
	for i := range x {
		x[i] += alpha * p[i]
	}
	for i := range x {
		if s.liveLower(i) && x[i] <= lb[i]+eps {
			x[i] = lb[i] + eps
		}
		if s.liveUpper(i) && x[i]+eps >= ub[i] {
			x[i] = ub[i] - eps
		}
	}
}

// applyStepFloor sets v = v + alpha*p with a scalar lower floor held at
// least the design precision away.
func (s *Solver) applyStepFloor(v []float64, alpha float64, p []float64, floor float64) {
	eps := s.opts.DesignPrecision
	for i := range v {
		v[i] += alpha * p[i]
		if v[i] <= floor+eps {
			v[i] = floor + eps
		}
	}
}

// fractionToBoundary returns the fraction-to-boundary factor for the current
// barrier parameter, tau = max(min_fraction_to_boundary, 1 − mu).
func (s *Solver) fractionToBoundary() float64 {
	return math.Max(s.opts.MinFractionToBoundary, 1.0-s.barrierParam)
}
