// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmqn

import (
	"math"

	"github.com/eirikurj/paropt/comm"
	"github.com/eirikurj/paropt/interior"
)

// skip threshold for the SR1 update: |sᵀ(y − Bs)| ≥ sr1Skip·‖s‖·‖y − Bs‖.
const sr1Skip = 1e-8

// LSR1 is a limited-memory symmetric rank-one approximation with up to
// maxPairs stored corrections. Its compact form uses
//
//	Z = Y − b0·S,  d = 1,  M = −(D + L + Lᵀ − b0·SᵀS)
//
// where L is the strictly lower triangle of SᵀY and D its diagonal. Unlike
// BFGS the approximation is not forced positive definite; the engine's
// diagonal regularization covers indefinite curvature.
type LSR1 struct {
	*pairs

	d    []float64
	mmat []float64
	mfac []float64
	mpiv []int
	z    [][]float64
	work []float64
	bs   []float64
}

var _ interior.CompactQuasiNewton = (*LSR1)(nil)

// NewLSR1 creates an L-SR1 approximation for local design shards of length
// n with at most maxPairs stored corrections.
func NewLSR1(c *comm.Comm, n, maxPairs int) *LSR1 {
	if maxPairs < 1 {
		panic("lmqn: max pairs must be positive")
	}
	l := &LSR1{
		pairs: newPairs(c, n, maxPairs),
		d:     make([]float64, maxPairs),
		mmat:  make([]float64, maxPairs*maxPairs),
		mfac:  make([]float64, maxPairs*maxPairs),
		mpiv:  make([]int, maxPairs),
		z:     make([][]float64, 0, maxPairs),
		work:  make([]float64, maxPairs),
		bs:    make([]float64, n),
	}
	fill(l.d, 1.0)
	return l
}

func fill(x []float64, v float64) {
	for i := range x {
		x[i] = v
	}
}

// MaxSize returns the maximum number of compact columns.
func (l *LSR1) MaxSize() int { return l.m }

// Reset discards the correction history.
func (l *LSR1) Reset() {
	l.reset()
	l.z = l.z[:0]
}

// Update absorbs the correction pair (s, y), skipping it when the update
// denominator is too small for the rank-one term to be reliable.
func (l *LSR1) Update(x, z, zw, s, y []float64) interior.UpdateType {
	if s == nil || y == nil {
		return interior.UpdateApplied
	}

	l.Mult(s, l.bs)
	num := l.dot(s, y) - l.dot(s, l.bs)
	ymbs := 0.0
	{
		diff := make([]float64, l.n)
		for i := range diff {
			diff[i] = y[i] - l.bs[i]
		}
		ymbs = math.Sqrt(l.dot(diff, diff))
	}
	snorm := math.Sqrt(l.dot(s, s))
	if math.Abs(num) < sr1Skip*snorm*ymbs {
		return interior.UpdateSkipped
	}

	sy := l.dot(s, y)
	yy := l.dot(y, y)
	if sy > 0 {
		l.b0 = yy / sy
	}

	l.push(s, y)
	if !l.rebuild() {
		l.Reset()
		return interior.UpdateSkipped
	}
	return interior.UpdateApplied
}

// rebuild refreshes the compact factors from the stored pairs.
func (l *LSR1) rebuild() bool {
	k := l.count

	// Z = Y - b0*S.
	for len(l.z) < k {
		l.z = append(l.z, make([]float64, l.n))
	}
	l.z = l.z[:k]
	for i := 0; i < k; i++ {
		for j := 0; j < l.n; j++ {
			l.z[i][j] = l.y[i][j] - l.b0*l.s[i][j]
		}
	}

	// M = -(D + L + L^T - b0*S^T*S).
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			v := -l.b0 * l.sts[i*l.m+j]
			if i == j {
				v += l.sty[i*l.m+i]
			} else if i > j {
				v += l.sty[i*l.m+j]
			} else {
				v += l.sty[j*l.m+i]
			}
			l.mmat[i*k+j] = -v
		}
	}

	return factorM(l.mmat, k, l.mfac, l.mpiv)
}

// Mult computes out = B*v.
func (l *LSR1) Mult(v, out []float64) {
	k := l.count
	l.applyCompact(l.b0, l.d[:k], l.z, k, l.mfac, l.mpiv, v, out, l.work)
}

// MultAdd computes out += alpha*B*v.
func (l *LSR1) MultAdd(alpha float64, v, out []float64) {
	tmp := make([]float64, l.n)
	l.Mult(v, tmp)
	for i := range out {
		out[i] += alpha * tmp[i]
	}
}

// CompactMat returns the compact factors of the current approximation.
func (l *LSR1) CompactMat() (b0 float64, d, m []float64, z [][]float64, size int) {
	k := l.count
	return l.b0, l.d[:k], l.mmat[:k*k], l.z[:k], k
}
