// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lmqn provides limited-memory quasi-Newton Hessian approximations
// in the compact form consumed by the interior-point engine,
//
//	B = b0·I − Z·diag(d)·M⁻¹·diag(d)·Zᵀ,
//
// with global inner products over a process group so the stored pairs stay
// consistent across distributed design vectors.
package lmqn

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/lapack/lapack64"

	"github.com/eirikurj/paropt/comm"
)

// pairs holds the correction history shared by the L-BFGS and L-SR1
// approximations: up to m (s, y) pairs of local design shards, oldest first,
// and their pairwise global inner products.
type pairs struct {
	com  *comm.Comm
	n, m int

	b0    float64
	s, y  [][]float64
	count int

	sts []float64 // m×m, SᵀS
	sty []float64 // m×m, SᵀY (row i: sᵢᵀyⱼ)
}

func newPairs(c *comm.Comm, n, m int) *pairs {
	if c == nil {
		c = comm.Single()
	}
	p := &pairs{
		com: c, n: n, m: m,
		b0:  1.0,
		s:   make([][]float64, 0, m),
		y:   make([][]float64, 0, m),
		sts: make([]float64, m*m),
		sty: make([]float64, m*m),
	}
	return p
}

func (p *pairs) reset() {
	p.s = p.s[:0]
	p.y = p.y[:0]
	p.count = 0
	p.b0 = 1.0
}

func (p *pairs) dot(a, b []float64) float64 {
	v := [1]float64{floats.Dot(a, b)}
	p.com.AllreduceSum(v[:])
	return v[0]
}

// push stores a new pair, discarding the oldest when the history is full,
// and refreshes the inner product tables.
func (p *pairs) push(s, y []float64) {
	var sv, yv []float64
	if p.count == p.m {
		sv, yv = p.s[0], p.y[0]
		copy(p.s, p.s[1:])
		copy(p.y, p.y[1:])
		p.s = p.s[:p.m-1]
		p.y = p.y[:p.m-1]
		p.count--
	} else {
		sv = make([]float64, p.n)
		yv = make([]float64, p.n)
	}
	copy(sv, s)
	copy(yv, y)
	p.s = append(p.s, sv)
	p.y = append(p.y, yv)
	p.count++

	k := p.count
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			p.sts[i*p.m+j] = p.dot(p.s[i], p.s[j])
			p.sty[i*p.m+j] = p.dot(p.s[i], p.y[j])
		}
	}
}

// factorM copies m0 (size k×k, stride k) and LU-factors it for Mult.
// It reports false when the matrix is singular.
func factorM(m0 []float64, k int, fac []float64, piv []int) bool {
	copy(fac[:k*k], m0[:k*k])
	a := blas64.General{Rows: k, Cols: k, Stride: k, Data: fac}
	return lapack64.Getrf(a, piv[:k])
}

// applyCompact computes out = b0*v − Z diag(d) M⁻¹ diag(d) Zᵀ v using the
// factored middle matrix.
func (p *pairs) applyCompact(b0 float64, d []float64, z [][]float64, k int,
	fac []float64, piv []int, v, out, work []float64) {

	for i := range out {
		out[i] = b0 * v[i]
	}
	if k == 0 {
		return
	}

	r := work[:k]
	for i := 0; i < k; i++ {
		r[i] = floats.Dot(z[i], v)
	}
	p.com.AllreduceSum(r)
	for i := 0; i < k; i++ {
		r[i] *= d[i]
	}

	a := blas64.General{Rows: k, Cols: k, Stride: k, Data: fac[:k*k]}
	b := blas64.General{Rows: k, Cols: 1, Stride: 1, Data: r}
	lapack64.Getrs(blas.NoTrans, a, b, piv[:k])

	for i := 0; i < k; i++ {
		floats.AddScaled(out, -d[i]*r[i], z[i])
	}
}
