// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmqn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eirikurj/paropt/comm"
	"github.com/eirikurj/paropt/interior"
)

func TestLBFGSSecant(t *testing.T) {
	qn := NewLBFGS(comm.Single(), 3, 5)

	s := []float64{1, 0, 0.5}
	y := []float64{2, 1, 0.25}
	require.Equal(t, interior.UpdateApplied, qn.Update(nil, nil, nil, s, y))

	// A BFGS update satisfies the secant condition B*s = y exactly.
	bs := make([]float64, 3)
	qn.Mult(s, bs)
	for i := range s {
		require.InDelta(t, y[i], bs[i], 1e-12)
	}

	// A second pair keeps the newest secant condition.
	s2 := []float64{0, 1, -0.5}
	y2 := []float64{0.5, 3, -0.25}
	require.Equal(t, interior.UpdateApplied, qn.Update(nil, nil, nil, s2, y2))
	qn.Mult(s2, bs)
	for i := range s2 {
		require.InDelta(t, y2[i], bs[i], 1e-10)
	}

	b0, d, m, z, size := qn.CompactMat()
	require.Equal(t, 4, size)
	require.Len(t, d, 4)
	require.Len(t, m, 16)
	require.Len(t, z, 4)
	require.Greater(t, b0, 0.0)
}

func TestLBFGSDampedAndMultiplierOnly(t *testing.T) {
	qn := NewLBFGS(comm.Single(), 2, 3)

	// Negative curvature triggers damping toward B*s.
	s := []float64{1, 0}
	y := []float64{-1, 0}
	require.Equal(t, interior.UpdateDamped, qn.Update(nil, nil, nil, s, y))

	// Multiplier-only updates leave the history alone.
	_, _, _, _, before := qn.CompactMat()
	require.Equal(t, interior.UpdateApplied, qn.Update(nil, nil, nil, nil, nil))
	_, _, _, _, after := qn.CompactMat()
	require.Equal(t, before, after)

	qn.Reset()
	_, _, _, _, size := qn.CompactMat()
	require.Equal(t, 0, size)
}

func TestLBFGSHistoryLimit(t *testing.T) {
	qn := NewLBFGS(comm.Single(), 4, 2)

	pairs := [][2][]float64{
		{{1, 0, 0, 0}, {2, 0, 0, 0}},
		{{0, 1, 0, 0}, {0, 3, 0, 0}},
		{{0, 0, 1, 0}, {0, 0, 4, 0}},
	}
	for _, p := range pairs {
		qn.Update(nil, nil, nil, p[0], p[1])
	}
	_, _, _, _, size := qn.CompactMat()
	require.Equal(t, 4, size) // 2 pairs, 2 columns each
}

func TestLSR1Secant(t *testing.T) {
	qn := NewLSR1(comm.Single(), 3, 4)

	s := []float64{1, 1, 0}
	y := []float64{3, 1, 1}
	require.Equal(t, interior.UpdateApplied, qn.Update(nil, nil, nil, s, y))

	bs := make([]float64, 3)
	qn.Mult(s, bs)
	for i := range s {
		require.InDelta(t, y[i], bs[i], 1e-10)
	}
}

func TestLSR1Skip(t *testing.T) {
	qn := NewLSR1(comm.Single(), 2, 4)

	s := []float64{1, 0}
	y := []float64{2, 1}
	require.Equal(t, interior.UpdateApplied, qn.Update(nil, nil, nil, s, y))

	// Re-applying the same pair gives y = B*s and must be skipped.
	require.Equal(t, interior.UpdateSkipped, qn.Update(nil, nil, nil, s, y))
}

func TestDistributedDotsMatchSerial(t *testing.T) {
	// The same pairs split over two ranks must produce the same compact
	// factors as a serial run.
	serial := NewLBFGS(comm.Single(), 4, 3)
	serial.Update(nil, nil, nil, []float64{1, 2, 3, 4}, []float64{2, 3, 5, 7})
	b0Want, _, mWant, _, _ := serial.CompactMat()

	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		qn := NewLBFGS(c, 2, 3)
		var s, y []float64
		if c.Rank() == 0 {
			s, y = []float64{1, 2}, []float64{2, 3}
		} else {
			s, y = []float64{3, 4}, []float64{5, 7}
		}
		qn.Update(nil, nil, nil, s, y)
		b0, _, m, _, _ := qn.CompactMat()
		require.InDelta(t, b0Want, b0, 1e-14)
		for i := range mWant {
			require.InDelta(t, mWant[i], m[i], 1e-14)
		}
		return nil
	})
	require.NoError(t, err)
}
