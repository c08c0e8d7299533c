// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/lapack/lapack64"
)

// denseTestProblem is a separable quadratic with dense constraints, optional
// sparse block constraints and box bounds:
//
//	minimize ½ Σ hᵢxᵢ² − bᵢxᵢ  s.t.  A x − rhs (=|≥) 0,  Aw x − rhsW (=|≥) 0
type denseTestProblem struct {
	h, b     []float64
	a        [][]float64
	rhs      []float64
	aw       [][]float64
	rhsW     []float64
	nwblock  int
	x0       []float64
	lb, ub   []float64
	denseEq  bool
	sparseEq bool
	noLower  bool
	noUpper  bool
}

func (p *denseTestProblem) Sizes() (int, int, int, int) {
	return len(p.h), len(p.a), len(p.aw), p.nwblock
}

func (p *denseTestProblem) VarsAndBounds(x, lb, ub []float64) {
	copy(x, p.x0)
	copy(lb, p.lb)
	copy(ub, p.ub)
}

func (p *denseTestProblem) EvalObjCon(x []float64) (float64, []float64, error) {
	f := 0.0
	for i, v := range x {
		f += 0.5*p.h[i]*v*v - p.b[i]*v
	}
	c := make([]float64, len(p.a))
	for k, row := range p.a {
		c[k] = floats.Dot(row, x) - p.rhs[k]
	}
	return f, c, nil
}

func (p *denseTestProblem) EvalObjConGradient(x []float64, g []float64, ac [][]float64) error {
	for i, v := range x {
		g[i] = p.h[i]*v - p.b[i]
	}
	for k, row := range p.a {
		copy(ac[k], row)
	}
	return nil
}

func (p *denseTestProblem) EvalSparseCon(x, out []float64) {
	for r, row := range p.aw {
		out[r] = floats.Dot(row, x) - p.rhsW[r]
	}
}

func (p *denseTestProblem) AddSparseJacobian(alpha float64, x, px, out []float64) {
	for r, row := range p.aw {
		out[r] += alpha * floats.Dot(row, px)
	}
}

func (p *denseTestProblem) AddSparseJacobianTranspose(alpha float64, x, pzw, out []float64) {
	for r, row := range p.aw {
		for i, v := range row {
			out[i] += alpha * pzw[r] * v
		}
	}
}

func (p *denseTestProblem) AddSparseInnerProduct(alpha float64, x, cvec, out []float64) {
	nb := p.nwblock
	if nb == 1 {
		for r, row := range p.aw {
			sum := 0.0
			for i, v := range row {
				sum += v * v * cvec[i]
			}
			out[r] += alpha * sum
		}
		return
	}
	for blk := 0; blk*nb < len(p.aw); blk++ {
		lo := blk * nb
		for r1 := 0; r1 < nb; r1++ {
			for r2 := 0; r2 < nb; r2++ {
				sum := 0.0
				for i := range p.aw[lo+r1] {
					sum += p.aw[lo+r1][i] * cvec[i] * p.aw[lo+r2][i]
				}
				out[blk*nb*nb+r1*nb+r2] += alpha * sum
			}
		}
	}
}

func (p *denseTestProblem) IsSparseInequality() bool { return !p.sparseEq }
func (p *denseTestProblem) IsDenseInequality() bool  { return !p.denseEq }
func (p *denseTestProblem) UseLowerBounds() bool     { return !p.noLower }
func (p *denseTestProblem) UseUpperBounds() bool     { return !p.noUpper }

// newSparseTestProblem builds a problem with two dense constraints and four
// sparse rows in two blocks over disjoint column groups, so the sparse
// normal matrix is exactly block diagonal.
func newSparseTestProblem() *denseTestProblem {
	inf := 1e21
	return &denseTestProblem{
		h:   []float64{4, 3, 2, 1, 2, 3},
		b:   []float64{1, 1, 1, 1, 1, 1},
		a:   [][]float64{{1, 1, 1, 1, 1, 1}, {1, -1, 0.5, 0, 2, 0}},
		rhs: []float64{1, 0.25},
		aw: [][]float64{
			{1, 0.5, 0.25, 0, 0, 0},
			{0.2, 1, 0.3, 0, 0, 0},
			{0, 0, 0, 1, 0.4, 0.1},
			{0, 0, 0, 0.3, 1, 0.2},
		},
		rhsW:    []float64{0.1, 0.2, 0.1, 0.3},
		nwblock: 2,
		x0:      []float64{0.4, 0.5, 0.6, 0.5, 0.4, 0.5},
		lb:      []float64{0, 0, 0, 0, -inf, 0},
		ub:      []float64{1, 1, 1, 1, 1, inf},
	}
}

// stubQN is a fixed compact quasi-Newton object with hand-chosen factors,
// used to exercise the low-rank correction without a real update history.
type stubQN struct {
	b0   float64
	d    []float64
	m    []float64
	z    [][]float64
	mfac []float64
	piv  []int
}

func newStubQN(b0 float64, d []float64, m []float64, z [][]float64) *stubQN {
	k := len(d)
	q := &stubQN{b0: b0, d: d, m: m, z: z,
		mfac: make([]float64, k*k), piv: make([]int, k)}
	copy(q.mfac, m)
	a := blas64.General{Rows: k, Cols: k, Stride: k, Data: q.mfac}
	if !lapack64.Getrf(a, q.piv) {
		panic("stub quasi-Newton matrix is singular")
	}
	return q
}

func (q *stubQN) Update(x, z, zw, s, y []float64) UpdateType { return UpdateApplied }
func (q *stubQN) Reset()                                     {}
func (q *stubQN) MaxSize() int                               { return len(q.d) }

func (q *stubQN) Mult(v, out []float64) {
	k := len(q.d)
	r := make([]float64, k)
	for i := 0; i < k; i++ {
		r[i] = q.d[i] * floats.Dot(q.z[i], v)
	}
	a := blas64.General{Rows: k, Cols: k, Stride: k, Data: q.mfac}
	b := blas64.General{Rows: k, Cols: 1, Stride: 1, Data: r}
	lapack64.Getrs(blas.NoTrans, a, b, q.piv)
	for i := range out {
		out[i] = q.b0 * v[i]
	}
	for i := 0; i < k; i++ {
		floats.AddScaled(out, -q.d[i]*r[i], q.z[i])
	}
}

func (q *stubQN) MultAdd(alpha float64, v, out []float64) {
	tmp := make([]float64, len(v))
	q.Mult(v, tmp)
	floats.AddScaled(out, alpha, tmp)
}

func (q *stubQN) CompactMat() (float64, []float64, []float64, [][]float64, int) {
	return q.b0, q.d, q.m, q.z, len(q.d)
}

// seededVec fills out with a deterministic, well-scaled pattern.
func seededVec(out []float64, seed float64) {
	for i := range out {
		out[i] = 0.1 + 0.5*math.Abs(math.Sin(seed+1.7*float64(i)))
	}
}
