// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NormType selects the norm used for the KKT residual convergence test.
type NormType string

const (
	// NormInfinity uses the max-absolute-value norm.
	NormInfinity NormType = "infinity"
	// NormL1 uses the sum-of-absolute-values norm.
	NormL1 NormType = "l1"
	// NormL2 uses the Euclidean norm. Squares are accumulated locally,
	// reduced across the group, and rooted once.
	NormL2 NormType = "l2"
)

// BarrierStrategy selects how the barrier parameter is reduced.
type BarrierStrategy string

const (
	// BarrierMonotone solves a sequence of barrier subproblems, reducing
	// the barrier parameter when each subproblem converges.
	BarrierMonotone BarrierStrategy = "monotone"
	// BarrierMehrotra probes an affine step and sets the barrier from the
	// cubed complementarity ratio.
	BarrierMehrotra BarrierStrategy = "mehrotra"
	// BarrierComplementarityFraction sets the barrier to a fixed fraction
	// of the current complementarity at each iteration.
	BarrierComplementarityFraction BarrierStrategy = "complementarity fraction"
)

// StartStrategy selects how multipliers and slacks are initialized.
type StartStrategy string

const (
	// StartNone keeps the caller-supplied multiplier values.
	StartNone StartStrategy = "none"
	// StartLeastSquares solves a least-squares problem for the initial
	// dense constraint multipliers.
	StartLeastSquares StartStrategy = "least squares multipliers"
	// StartAffineStep computes an affine scaling step with a zero barrier
	// and initializes all multipliers from it.
	StartAffineStep StartStrategy = "affine step"
)

// Options holds all configurable behavior of the optimizer.
// DefaultOptions returns the values used when a field is not set explicitly.
type Options struct {
	MaxMajorIters int `yaml:"max_major_iters"`

	NormType        NormType        `yaml:"norm_type"`
	BarrierStrategy BarrierStrategy `yaml:"barrier_strategy"`
	StartStrategy   StartStrategy   `yaml:"starting_point_strategy"`

	// Tolerances.
	AbsResTol             float64 `yaml:"abs_res_tol"`
	RelFuncTol            float64 `yaml:"rel_func_tol"`
	AbsStepTol            float64 `yaml:"abs_step_tol"`
	FunctionPrecision     float64 `yaml:"function_precision"`
	DesignPrecision       float64 `yaml:"design_precision"`
	MeritFuncCheckEpsilon float64 `yaml:"merit_func_check_epsilon"`

	// Barrier parameters.
	InitBarrierParam        float64 `yaml:"barrier_param"`
	MonotoneBarrierFraction float64 `yaml:"monotone_barrier_fraction"`
	MonotoneBarrierPower    float64 `yaml:"monotone_barrier_power"`
	RelBoundBarrier         float64 `yaml:"rel_bound_barrier"`

	// Line search.
	UseLineSearch          bool    `yaml:"use_line_search"`
	UseBacktracking        bool    `yaml:"use_backtracking_alpha"`
	MaxLineIters           int     `yaml:"max_line_iters"`
	ArmijoConstant         float64 `yaml:"armijo_constant"`
	PenaltyDescentFraction float64 `yaml:"penalty_descent_fraction"`
	MinRhoPenalty          float64 `yaml:"min_rho_penalty_search"`
	MinFractionToBoundary  float64 `yaml:"min_fraction_to_boundary"`

	// Quasi-Newton.
	HessianResetFreq       int     `yaml:"hessian_reset_freq"`
	QNSigma                float64 `yaml:"qn_sigma"`
	UseQuasiNewtonUpdate   bool    `yaml:"use_quasi_newton_update"`
	SequentialLinearMethod bool    `yaml:"sequential_linear_method"`

	// Inexact Newton.
	UseHvecProduct       bool    `yaml:"use_hvec_product"`
	UseDiagHessian       bool    `yaml:"use_diag_hessian"`
	UseQNGMRESPrecon     bool    `yaml:"use_qn_gmres_precon"`
	NKSwitchTol          float64 `yaml:"nk_switch_tol"`
	EisenstatWalkerAlpha float64 `yaml:"eisenstat_walker_alpha"`
	EisenstatWalkerGamma float64 `yaml:"eisenstat_walker_gamma"`
	GMRESSubspaceSize    int     `yaml:"gmres_subspace_size"`
	MaxGMRESRtol         float64 `yaml:"max_gmres_rtol"`
	GMRESAtol            float64 `yaml:"gmres_atol"`

	// Bounds and penalties.
	MaxBoundValue            float64 `yaml:"max_bound_value"`
	PenaltyGamma             float64 `yaml:"penalty_gamma"`
	StartAffineMultiplierMin float64 `yaml:"start_affine_multiplier_min"`

	// Output and checking.
	OutputFrequency        int     `yaml:"output_frequency"`
	OutputLevel            int     `yaml:"output_level"`
	MajorIterStepCheck     int     `yaml:"major_iter_step_check"`
	GradientCheckFrequency int     `yaml:"gradient_check_frequency"`
	GradientCheckStep      float64 `yaml:"gradient_check_step"`
}

// DefaultOptions returns the default optimizer configuration.
func DefaultOptions() *Options {
	return &Options{
		MaxMajorIters: 1000,

		NormType:        NormInfinity,
		BarrierStrategy: BarrierMonotone,
		StartStrategy:   StartLeastSquares,

		AbsResTol:             1e-5,
		RelFuncTol:            0.0,
		AbsStepTol:            0.0,
		FunctionPrecision:     1e-10,
		DesignPrecision:       1e-15,
		MeritFuncCheckEpsilon: 5e-8,

		InitBarrierParam:        0.1,
		MonotoneBarrierFraction: 0.25,
		MonotoneBarrierPower:    1.1,
		RelBoundBarrier:         1.0,

		UseLineSearch:          true,
		UseBacktracking:        false,
		MaxLineIters:           10,
		ArmijoConstant:         1e-5,
		PenaltyDescentFraction: 0.3,
		MinRhoPenalty:          0.0,
		MinFractionToBoundary:  0.95,

		HessianResetFreq:     100000000,
		QNSigma:              0.0,
		UseQuasiNewtonUpdate: true,

		UseQNGMRESPrecon:     true,
		NKSwitchTol:          1e-3,
		EisenstatWalkerAlpha: 1.5,
		EisenstatWalkerGamma: 1.0,
		MaxGMRESRtol:         0.1,
		GMRESAtol:            1e-30,

		MaxBoundValue:            1e20,
		PenaltyGamma:             1000.0,
		StartAffineMultiplierMin: 1e-3,

		OutputFrequency:   10,
		GradientCheckStep: 1e-6,
	}
}

// LoadOptions reads options from a YAML file, applying the defaults for
// every field the file does not set.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("interior: read options: %w", err)
	}
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("interior: parse options: %w", err)
	}
	return opts, nil
}

func (o *Options) validate() error {
	switch {
	case o.MaxMajorIters <= 0:
		return errors.New("max major iterations must be greater than 0")
	case o.AbsResTol <= 0:
		return errors.New("absolute residual tolerance must be greater than 0")
	case o.InitBarrierParam <= 0:
		return errors.New("initial barrier parameter must be greater than 0")
	case o.MonotoneBarrierFraction <= 0 || o.MonotoneBarrierFraction >= 1:
		return errors.New("monotone barrier fraction must lie in (0, 1)")
	case o.MonotoneBarrierPower < 1:
		return errors.New("monotone barrier power must not be less than 1")
	case o.MinFractionToBoundary <= 0 || o.MinFractionToBoundary >= 1:
		return errors.New("fraction to boundary must lie in (0, 1)")
	case o.MaxLineIters <= 0:
		return errors.New("max line search iterations must be greater than 0")
	case o.ArmijoConstant <= 0 || o.ArmijoConstant >= 0.5:
		return errors.New("armijo constant must lie in (0, 0.5)")
	case o.PenaltyDescentFraction <= 0 || o.PenaltyDescentFraction > 1:
		return errors.New("penalty descent fraction must lie in (0, 1]")
	case o.MaxBoundValue <= 0:
		return errors.New("max bound value must be greater than 0")
	case o.PenaltyGamma < 0:
		return errors.New("penalty gamma must not be negative")
	case o.GMRESSubspaceSize < 0:
		return errors.New("gmres subspace size must not be negative")
	}
	switch o.NormType {
	case NormInfinity, NormL1, NormL2:
	default:
		return fmt.Errorf("unknown norm type %q", o.NormType)
	}
	switch o.BarrierStrategy {
	case BarrierMonotone, BarrierMehrotra, BarrierComplementarityFraction:
	default:
		return fmt.Errorf("unknown barrier strategy %q", o.BarrierStrategy)
	}
	switch o.StartStrategy {
	case StartNone, StartLeastSquares, StartAffineStep:
	default:
		return fmt.Errorf("unknown starting point strategy %q", o.StartStrategy)
	}
	return nil
}
