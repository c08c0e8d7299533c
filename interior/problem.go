// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

// Problem supplies the objective, constraints and derivatives of a nonlinear
// program of the form
//
//	minimize   f(x)
//	subject to c(x) ≥ 0 or c(x) = 0       (ncon dense constraints)
//	           cw(x) ≥ 0 or cw(x) = 0     (nwcon sparse block constraints)
//	           lb ≤ x ≤ ub
//
// Design vectors are distributed: each rank owns a contiguous shard and all
// Problem methods operate on the local shard only. Dense constraint values
// and multipliers are replicated.
//
// Bounds with magnitude at or beyond the configured maximum bound value are
// treated as absent.
type Problem interface {
	// Sizes returns the local number of design variables, the global
	// number of dense constraints, the local number of sparse constraint
	// rows and the sparse block size.
	Sizes() (nvars, ncon, nwcon, nwblock int)

	// VarsAndBounds fills the initial design point and the bounds.
	VarsAndBounds(x, lb, ub []float64)

	// EvalObjCon evaluates the objective and the dense constraints at x.
	// The returned constraint values must be identical on every rank.
	EvalObjCon(x []float64) (fobj float64, con []float64, err error)

	// EvalObjConGradient fills the local shard of the objective gradient
	// and of each dense constraint gradient.
	EvalObjConGradient(x []float64, g []float64, ac [][]float64) error

	// EvalSparseCon evaluates the sparse constraints into out.
	EvalSparseCon(x []float64, out []float64)

	// AddSparseJacobian computes out += alpha*Aw(x)*px.
	AddSparseJacobian(alpha float64, x, px, out []float64)

	// AddSparseJacobianTranspose computes out += alpha*Aw(x)^T*pzw.
	AddSparseJacobianTranspose(alpha float64, x, pzw, out []float64)

	// AddSparseInnerProduct computes out += alpha*Aw(x)*diag(cvec)*Aw(x)^T,
	// where out holds the block-diagonal sparse constraint matrix: nwcon
	// diagonal entries when nwblock is 1, otherwise one dense symmetric
	// nwblock×nwblock block per group of rows.
	AddSparseInnerProduct(alpha float64, x, cvec, out []float64)

	// IsSparseInequality reports whether the sparse constraints are
	// inequalities with slack variables.
	IsSparseInequality() bool

	// IsDenseInequality reports whether the dense constraints are
	// inequalities with slack variables.
	IsDenseInequality() bool

	// UseLowerBounds reports whether any lower bounds are active.
	UseLowerBounds() bool

	// UseUpperBounds reports whether any upper bounds are active.
	UseUpperBounds() bool
}

// HvecProducer is implemented by problems that can compute exact
// Hessian-vector products for the inexact Newton path.
type HvecProducer interface {
	// EvalHvecProduct computes out = H(x, z, zw)*px for the Hessian of
	// the Lagrangian.
	EvalHvecProduct(x, z, zw, px, out []float64) error
}

// HessianDiagEvaluator is implemented by problems that can supply the
// diagonal of the Lagrangian Hessian.
type HessianDiagEvaluator interface {
	EvalHessianDiag(x, z, zw, out []float64) error
}

// QuasiNewtonCorrector is implemented by problems that modify the
// quasi-Newton update pair before it is applied.
type QuasiNewtonCorrector interface {
	ComputeQuasiNewtonUpdateCorrection(x, z, zw, s, y []float64)
}

// OutputWriter is implemented by problems that want a callback with the
// current design point at the configured output frequency.
type OutputWriter interface {
	WriteOutput(iter int, x []float64)
}

// UpdateType reports what a quasi-Newton update did.
type UpdateType int

const (
	// UpdateApplied means the pair was absorbed unmodified.
	UpdateApplied UpdateType = iota
	// UpdateDamped means the pair was damped to preserve positive
	// definiteness.
	UpdateDamped
	// UpdateSkipped means the pair was rejected.
	UpdateSkipped
)

// CompactQuasiNewton is a limited-memory Hessian approximation in compact
// form,
//
//	B = b0·I − Z·diag(d)·M⁻¹·diag(d)·Zᵀ
//
// with m stored columns. The engine treats the approximation as opaque: it
// only reads the compact factors and applies Mult/MultAdd.
type CompactQuasiNewton interface {
	// Update absorbs a new (s, y) pair at the point x with multipliers
	// (z, zw). s and y may be nil for approximations that update from the
	// multiplier estimates alone.
	Update(x, z, zw, s, y []float64) UpdateType

	// Mult computes out = B*v. MultAdd computes out += alpha*B*v.
	Mult(v, out []float64)
	MultAdd(alpha float64, v, out []float64)

	// CompactMat returns the current compact factors. M is a dense m×m
	// row-major matrix and Z holds m design-shaped vectors. The returned
	// slices are owned by the approximation and valid until the next
	// Update or Reset.
	CompactMat() (b0 float64, d []float64, M []float64, Z [][]float64, m int)

	// Reset discards all stored pairs.
	Reset()

	// MaxSize returns the maximum number of stored columns m.
	MaxSize() int
}
