// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/eirikurj/paropt/comm"
	"github.com/eirikurj/paropt/interior"
)

func buildProblem(name string, c *comm.Comm) (interior.Problem, error) {
	switch name {
	case "quadratic":
		return newQuadratic(c, 8), nil
	case "hs71":
		if c.Size() != 1 {
			return nil, fmt.Errorf("problem hs71 runs on a single rank")
		}
		return &hs71{}, nil
	}
	return nil, fmt.Errorf("unknown problem %q", name)
}

// quadratic is the separable convex program
//
//	minimize  Σ ½(i+1)xᵢ² − xᵢ   subject to  Σ xᵢ = 1,  0 ≤ x ≤ 1
//
// with the design variables distributed across the ranks.
type quadratic struct {
	com    *comm.Comm
	local  int
	offset int
}

func newQuadratic(c *comm.Comm, n int) *quadratic {
	size, rank := c.Size(), c.Rank()
	local := n / size
	offset := rank * local
	if rank == size-1 {
		local = n - offset
	}
	return &quadratic{com: c, local: local, offset: offset}
}

func (q *quadratic) Sizes() (int, int, int, int) { return q.local, 1, 0, 0 }

func (q *quadratic) VarsAndBounds(x, lb, ub []float64) {
	for i := range x {
		x[i] = 0.5
		lb[i] = 0.0
		ub[i] = 1.0
	}
}

func (q *quadratic) EvalObjCon(x []float64) (float64, []float64, error) {
	vals := [2]float64{}
	for i, v := range x {
		h := float64(q.offset + i + 1)
		vals[0] += 0.5*h*v*v - v
		vals[1] += v
	}
	q.com.AllreduceSum(vals[:])
	return vals[0], []float64{vals[1] - 1.0}, nil
}

func (q *quadratic) EvalObjConGradient(x []float64, g []float64, ac [][]float64) error {
	for i, v := range x {
		g[i] = float64(q.offset+i+1)*v - 1.0
		ac[0][i] = 1.0
	}
	return nil
}

func (q *quadratic) EvalSparseCon(x, out []float64)                          {}
func (q *quadratic) AddSparseJacobian(a float64, x, px, out []float64)       {}
func (q *quadratic) AddSparseJacobianTranspose(a float64, x, p, o []float64) {}
func (q *quadratic) AddSparseInnerProduct(a float64, x, c, o []float64)      {}
func (q *quadratic) IsSparseInequality() bool                                { return false }
func (q *quadratic) IsDenseInequality() bool                                 { return false }
func (q *quadratic) UseLowerBounds() bool                                    { return true }
func (q *quadratic) UseUpperBounds() bool                                    { return true }

// hs71 is the Hock-Schittkowski test problem 71,
//
//	minimize  x₁x₄(x₁+x₂+x₃) + x₃
//	subject to x₁x₂x₃x₄ ≥ 25,  Σ xᵢ² = 40,  1 ≤ x ≤ 5.
//
// The equality is posed as a pair of opposing inequalities so both dense
// constraints share the inequality slack formulation.
type hs71 struct{}

func (*hs71) Sizes() (int, int, int, int) { return 4, 3, 0, 0 }

func (*hs71) VarsAndBounds(x, lb, ub []float64) {
	copy(x, []float64{1, 5, 5, 1})
	for i := range lb {
		lb[i] = 1.0
		ub[i] = 5.0
	}
}

func (*hs71) EvalObjCon(x []float64) (float64, []float64, error) {
	f := x[0]*x[3]*(x[0]+x[1]+x[2]) + x[2]
	sq := x[0]*x[0] + x[1]*x[1] + x[2]*x[2] + x[3]*x[3]
	c := []float64{
		x[0]*x[1]*x[2]*x[3] - 25.0,
		sq - 40.0,
		40.0 - sq,
	}
	return f, c, nil
}

func (*hs71) EvalObjConGradient(x []float64, g []float64, ac [][]float64) error {
	g[0] = x[3]*(2*x[0]+x[1]+x[2])
	g[1] = x[0] * x[3]
	g[2] = x[0]*x[3] + 1.0
	g[3] = x[0] * (x[0] + x[1] + x[2])

	ac[0][0] = x[1] * x[2] * x[3]
	ac[0][1] = x[0] * x[2] * x[3]
	ac[0][2] = x[0] * x[1] * x[3]
	ac[0][3] = x[0] * x[1] * x[2]
	for i := 0; i < 4; i++ {
		ac[1][i] = 2 * x[i]
		ac[2][i] = -2 * x[i]
	}
	return nil
}

func (*hs71) EvalSparseCon(x, out []float64)                          {}
func (*hs71) AddSparseJacobian(a float64, x, px, out []float64)       {}
func (*hs71) AddSparseJacobianTranspose(a float64, x, p, o []float64) {}
func (*hs71) AddSparseInnerProduct(a float64, x, c, o []float64)      {}
func (*hs71) IsSparseInequality() bool                                { return false }
func (*hs71) IsDenseInequality() bool                                 { return true }
func (*hs71) UseLowerBounds() bool                                    { return true }
func (*hs71) UseUpperBounds() bool                                    { return true }
