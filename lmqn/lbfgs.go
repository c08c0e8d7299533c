// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmqn

import (
	"math"

	"github.com/eirikurj/paropt/comm"
	"github.com/eirikurj/paropt/interior"
)

// damping threshold for the curvature condition s·y ≥ dampEps·s·B·s.
const dampEps = 0.2

// LBFGS is a damped limited-memory BFGS approximation with up to maxPairs
// stored corrections. Its compact form uses
//
//	Z = [S Y],  d = (b0,…,b0, 1,…,1),  M = [ b0·SᵀS  L ; Lᵀ  −D ]
//
// where L is the strictly lower triangle of SᵀY and D its diagonal.
type LBFGS struct {
	*pairs

	d    []float64
	mmat []float64
	mfac []float64
	mpiv []int
	z    [][]float64
	work []float64
	bs   []float64
}

var _ interior.CompactQuasiNewton = (*LBFGS)(nil)

// NewLBFGS creates an L-BFGS approximation for local design shards of
// length n with at most maxPairs stored corrections.
func NewLBFGS(c *comm.Comm, n, maxPairs int) *LBFGS {
	if maxPairs < 1 {
		panic("lmqn: max pairs must be positive")
	}
	m2 := 2 * maxPairs
	return &LBFGS{
		pairs: newPairs(c, n, maxPairs),
		d:     make([]float64, m2),
		mmat:  make([]float64, m2*m2),
		mfac:  make([]float64, m2*m2),
		mpiv:  make([]int, m2),
		z:     make([][]float64, 0, m2),
		work:  make([]float64, m2),
		bs:    make([]float64, n),
	}
}

// MaxSize returns the maximum number of compact columns, twice the number
// of stored pairs.
func (l *LBFGS) MaxSize() int { return 2 * l.m }

// Reset discards the correction history.
func (l *LBFGS) Reset() {
	l.reset()
	l.z = l.z[:0]
}

// Update absorbs the correction pair (s, y). The update is damped when the
// curvature s·y falls below a fraction of s·B·s and skipped entirely when
// the damped curvature is still not positive. Updates with a nil pair only
// refresh the multiplier estimates and keep the stored history.
func (l *LBFGS) Update(x, z, zw, s, y []float64) interior.UpdateType {
	if s == nil || y == nil {
		return interior.UpdateApplied
	}

	update := interior.UpdateApplied

	sy := l.dot(s, y)
	l.Mult(s, l.bs)
	sbs := l.dot(s, l.bs)

	yv := y
	if sy < dampEps*sbs {
		// Powell damping toward B*s keeps the approximation positive
		// definite.
		theta := (1.0 - dampEps) * sbs / (sbs - sy)
		yv = make([]float64, l.n)
		for i := range yv {
			yv[i] = theta*y[i] + (1.0-theta)*l.bs[i]
		}
		sy = l.dot(s, yv)
		update = interior.UpdateDamped
	}

	yy := l.dot(yv, yv)
	if sy <= math.Sqrt(macheps)*yy || sy <= 0.0 {
		return interior.UpdateSkipped
	}

	l.push(s, yv)
	l.b0 = yy / sy
	if !l.rebuild() {
		// A singular middle matrix means the stored pairs have
		// degenerated; drop the history and keep the diagonal.
		l.Reset()
		l.b0 = yy / sy
		return interior.UpdateSkipped
	}
	return update
}

var macheps = math.Nextafter(1, 2) - 1

// rebuild refreshes the compact factors from the stored pairs.
func (l *LBFGS) rebuild() bool {
	k := l.count
	m2 := 2 * k

	l.z = l.z[:0]
	l.z = append(l.z, l.s[:k]...)
	l.z = append(l.z, l.y[:k]...)

	for i := 0; i < k; i++ {
		l.d[i] = l.b0
		l.d[k+i] = 1.0
	}

	// M = [ b0*S^T*S  L ; L^T  -D ]
	mm := l.mmat
	for i := 0; i < m2*m2; i++ {
		mm[i] = 0
	}
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			mm[i*m2+j] = l.b0 * l.sts[i*l.m+j]
		}
	}
	for i := 0; i < k; i++ {
		for j := 0; j < i; j++ {
			mm[i*m2+(k+j)] = l.sty[i*l.m+j]
			mm[(k+j)*m2+i] = l.sty[i*l.m+j]
		}
		mm[(k+i)*m2+(k+i)] = -l.sty[i*l.m+i]
	}

	return factorM(mm, m2, l.mfac, l.mpiv)
}

// Mult computes out = B*v.
func (l *LBFGS) Mult(v, out []float64) {
	k := 2 * l.count
	l.applyCompact(l.b0, l.d[:k], l.z, k, l.mfac, l.mpiv, v, out, l.work)
}

// MultAdd computes out += alpha*B*v.
func (l *LBFGS) MultAdd(alpha float64, v, out []float64) {
	tmp := make([]float64, l.n)
	l.Mult(v, tmp)
	for i := range out {
		out[i] += alpha * tmp[i]
	}
}

// CompactMat returns the compact factors of the current approximation.
func (l *LBFGS) CompactMat() (b0 float64, d, m []float64, z [][]float64, size int) {
	k := 2 * l.count
	return l.b0, l.d[:k], l.mmat[:k*k], l.z[:k], k
}
