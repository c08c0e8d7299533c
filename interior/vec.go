// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Local shard kernels. Global reductions live on the Solver because they
// need the process group.

func axpy(alpha float64, x, y []float64) {
	floats.AddScaled(y, alpha, x)
}

func scale(alpha float64, x []float64) {
	floats.Scale(alpha, x)
}

func zero(x []float64) {
	for i := range x {
		x[i] = 0
	}
}

func fill(x []float64, v float64) {
	for i := range x {
		x[i] = v
	}
}

func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

func l1Norm(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += math.Abs(v)
	}
	return sum
}

// globalDot computes the dot product of two distributed vectors.
func (s *Solver) globalDot(a, b []float64) float64 {
	v := [1]float64{floats.Dot(a, b)}
	s.com.AllreduceSum(v[:])
	return v[0]
}

// globalMdot computes the dot products of a distributed vector with each of
// the given distributed vectors, writing them into out.
func (s *Solver) globalMdot(a []float64, vs [][]float64, out []float64) {
	for i, v := range vs {
		out[i] = floats.Dot(a, v)
	}
	s.com.AllreduceSum(out[:len(vs)])
}

// globalNorm computes the Euclidean norm of a distributed vector.
func (s *Solver) globalNorm(a []float64) float64 {
	return math.Sqrt(s.globalDot(a, a))
}

// globalMaxAbs computes the max-absolute-value norm of a distributed vector.
func (s *Solver) globalMaxAbs(a []float64) float64 {
	v := [1]float64{-maxAbs(a)}
	s.com.AllreduceMin(v[:])
	return -v[0]
}

// globalL1 computes the sum-of-absolute-values norm of a distributed vector.
func (s *Solver) globalL1(a []float64) float64 {
	v := [1]float64{l1Norm(a)}
	s.com.AllreduceSum(v[:])
	return v[0]
}
