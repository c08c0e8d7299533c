// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package numdiff verifies the derivatives supplied by an optimization
// problem against finite-difference approximations.
package numdiff

import (
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/eirikurj/paropt/interior"
)

// Method selects the finite-difference scheme.
type Method int

const (
	// Forward uses first order forward differences.
	Forward Method = iota
	// Central uses second order central differences.
	Central
)

// CheckSpec drives a derivative check of an interior.Problem along a
// caller-supplied direction. The projected gradients of the objective and
// of every dense constraint are compared against difference quotients of the
// corresponding values.
type CheckSpec struct {
	// Problem supplies the values and derivatives under test.
	Problem interior.Problem
	// Method is the difference scheme; Forward when unset.
	Method Method
	// Step is the difference step size; a scaled square root of the
	// machine precision when zero.
	Step float64
	// Out receives the report. No report is written when nil.
	Out io.Writer
}

// Result reports one projected-derivative comparison.
type Result struct {
	Name     string  // "objective" or "constraint[i]"
	Analytic float64 // ∇f^T p from the problem gradients
	Approx   float64 // finite-difference quotient
	RelErr   float64
}

// Check evaluates the problem at x, perturbs along p and returns one Result
// per function. The design point is restored before returning.
func (cs *CheckSpec) Check(x, p []float64) ([]Result, error) {
	prob := cs.Problem
	if prob == nil {
		return nil, errors.New("numdiff: problem is required")
	}
	nvars, ncon, _, _ := prob.Sizes()
	if len(x) != nvars || len(p) != nvars {
		return nil, errors.New("numdiff: dimension mismatch")
	}

	h := cs.Step
	if h == 0 {
		h = math.Sqrt(math.Nextafter(1, 2) - 1)
		if nrm := floats.Norm(x, math.Inf(1)); nrm > 1 {
			h *= nrm
		}
	}

	g := make([]float64, nvars)
	ac := make([][]float64, ncon)
	for i := range ac {
		ac[i] = make([]float64, nvars)
	}
	if _, _, err := prob.EvalObjCon(x); err != nil {
		return nil, fmt.Errorf("numdiff: evaluation failed: %w", err)
	}
	if err := prob.EvalObjConGradient(x, g, ac); err != nil {
		return nil, fmt.Errorf("numdiff: gradient evaluation failed: %w", err)
	}

	// Difference quotients of f and c along p.
	xt := make([]float64, nvars)
	eval := func(alpha float64) (float64, []float64, error) {
		copy(xt, x)
		floats.AddScaled(xt, alpha, p)
		f, c, err := prob.EvalObjCon(xt)
		if err != nil {
			return 0, nil, fmt.Errorf("numdiff: evaluation failed: %w", err)
		}
		cc := make([]float64, ncon)
		copy(cc, c)
		return f, cc, nil
	}

	var df float64
	dc := make([]float64, ncon)
	if cs.Method == Central {
		f1, c1, err := eval(h)
		if err != nil {
			return nil, err
		}
		f2, c2, err := eval(-h)
		if err != nil {
			return nil, err
		}
		df = (f1 - f2) / (2 * h)
		for i := range dc {
			dc[i] = (c1[i] - c2[i]) / (2 * h)
		}
	} else {
		f0, c0, err := eval(0)
		if err != nil {
			return nil, err
		}
		f1, c1, err := eval(h)
		if err != nil {
			return nil, err
		}
		df = (f1 - f0) / h
		for i := range dc {
			dc[i] = (c1[i] - c0[i]) / h
		}
	}
	// Restore the problem-side state at x.
	if _, _, err := prob.EvalObjCon(x); err != nil {
		return nil, fmt.Errorf("numdiff: evaluation failed: %w", err)
	}

	results := make([]Result, 0, ncon+1)
	results = append(results, result("objective", floats.Dot(g, p), df))
	for i := 0; i < ncon; i++ {
		results = append(results,
			result(fmt.Sprintf("constraint[%d]", i), floats.Dot(ac[i], p), dc[i]))
	}

	if cs.Out != nil {
		fmt.Fprintf(cs.Out, "%-16s %15s %15s %10s\n",
			"function", "analytic", "approximate", "rel err")
		for _, r := range results {
			fmt.Fprintf(cs.Out, "%-16s %15.8e %15.8e %10.2e\n",
				r.Name, r.Analytic, r.Approx, r.RelErr)
		}
	}
	return results, nil
}

func result(name string, analytic, approx float64) Result {
	denom := math.Max(math.Abs(analytic), math.Abs(approx))
	rel := 0.0
	if denom > 0 {
		rel = math.Abs(analytic-approx) / denom
	}
	return Result{Name: name, Analytic: analytic, Approx: approx, RelErr: rel}
}
