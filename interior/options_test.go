// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.validate())

	assert.Equal(t, NormInfinity, opts.NormType)
	assert.Equal(t, BarrierMonotone, opts.BarrierStrategy)
	assert.Equal(t, StartLeastSquares, opts.StartStrategy)
	assert.Equal(t, 1e-5, opts.AbsResTol)
	assert.Equal(t, 0.1, opts.InitBarrierParam)
	assert.Equal(t, 0.25, opts.MonotoneBarrierFraction)
	assert.Equal(t, 1.1, opts.MonotoneBarrierPower)
	assert.Equal(t, 1.0, opts.RelBoundBarrier)
	assert.Equal(t, 10, opts.MaxLineIters)
	assert.Equal(t, 1e-5, opts.ArmijoConstant)
	assert.Equal(t, 0.3, opts.PenaltyDescentFraction)
	assert.Equal(t, 0.95, opts.MinFractionToBoundary)
	assert.Equal(t, 1e-10, opts.FunctionPrecision)
	assert.Equal(t, 1e-15, opts.DesignPrecision)
	assert.Equal(t, 1e-3, opts.NKSwitchTol)
	assert.Equal(t, 1.5, opts.EisenstatWalkerAlpha)
	assert.Equal(t, 1.0, opts.EisenstatWalkerGamma)
	assert.Equal(t, 0.1, opts.MaxGMRESRtol)
	assert.Equal(t, 1e-30, opts.GMRESAtol)
	assert.True(t, opts.UseLineSearch)
	assert.False(t, opts.UseBacktracking)
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opts.yaml")
	data := []byte(`
norm_type: l2
barrier_strategy: mehrotra
abs_res_tol: 1.0e-7
max_line_iters: 5
use_backtracking_alpha: true
gmres_subspace_size: 25
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	require.NoError(t, opts.validate())

	assert.Equal(t, NormL2, opts.NormType)
	assert.Equal(t, BarrierMehrotra, opts.BarrierStrategy)
	assert.Equal(t, 1e-7, opts.AbsResTol)
	assert.Equal(t, 5, opts.MaxLineIters)
	assert.True(t, opts.UseBacktracking)
	assert.Equal(t, 25, opts.GMRESSubspaceSize)

	// Unset fields keep their defaults.
	assert.Equal(t, 0.25, opts.MonotoneBarrierFraction)
	assert.Equal(t, StartLeastSquares, opts.StartStrategy)
}

func TestOptionsValidation(t *testing.T) {
	cases := map[string]func(*Options){
		"max iters":         func(o *Options) { o.MaxMajorIters = 0 },
		"res tol":           func(o *Options) { o.AbsResTol = 0 },
		"barrier":           func(o *Options) { o.InitBarrierParam = -1 },
		"fraction":          func(o *Options) { o.MonotoneBarrierFraction = 1.5 },
		"tau":               func(o *Options) { o.MinFractionToBoundary = 0 },
		"armijo":            func(o *Options) { o.ArmijoConstant = 0.7 },
		"unknown norm":      func(o *Options) { o.NormType = "l3" },
		"unknown strategy":  func(o *Options) { o.BarrierStrategy = "adaptive" },
		"unknown start":     func(o *Options) { o.StartStrategy = "warm" },
		"negative subspace": func(o *Options) { o.GMRESSubspaceSize = -1 },
	}
	for name, mutate := range cases {
		opts := DefaultOptions()
		mutate(opts)
		assert.Error(t, opts.validate(), name)
	}
}

func TestNewRejectsBadSizes(t *testing.T) {
	prob := newSparseTestProblem()
	prob.nwblock = 3 // 4 rows are not divisible into blocks of 3
	_, err := New(prob, nil, DefaultOptions(), nil, nil)
	require.Error(t, err)
}
