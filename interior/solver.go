// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package interior implements a parallel primal–dual interior-point method
// for smooth nonlinear programs with dense constraints, sparse
// block-structured constraints and variable bounds. The method solves
//
//	minimize   f(x) + Σ γᵢtᵢ
//	subject to c(x) = s − t,   s, t ≥ 0
//	           cw(x) = sw,     sw ≥ 0
//	           lb ≤ x ≤ ub
//
// by driving the perturbed KKT residuals to zero while reducing a barrier
// parameter. Steps come from a bordered solve of the structured KKT matrix
// with the compact quasi-Newton term restored through a
// Sherman–Morrison–Woodbury correction, or from a right-preconditioned
// GMRES solve with exact Hessian-vector products.
//
// Design variables are distributed across the ranks of a process group;
// dense constraint multipliers are replicated; sparse multipliers are
// distributed. All replicated data leaves every collective bitwise
// identical on every rank.
package interior

import (
	"errors"
	"fmt"

	"github.com/eirikurj/paropt/comm"
)

// optRoot is the rank performing the dense factorizations.
const optRoot = 0

// ErrSizeMismatch is returned when a problem instance or solution file does
// not match the sizes the solver was constructed with.
var ErrSizeMismatch = errors.New("interior: problem sizes do not match")

// Solver is a primal–dual interior-point optimizer bound to one Problem of
// fixed sizes. All working storage is allocated at construction; the
// instance may be reseated to a congruent Problem without reallocation.
//
// Solver is not safe for concurrent use. During Optimize every primal and
// dual variable mutates; external readers may take a consistent snapshot
// only between iterations.
type Solver struct {
	prob Problem
	qn   CompactQuasiNewton
	opts *Options
	com  *comm.Comm
	log  *Logger

	nvars, ncon, nwcon, nwblock int
	varRange, wconRange         []int
	nvarsTotal, nwconTotal      int

	sparseInequality bool
	denseInequality  bool
	useLower         bool
	useUpper         bool

	// Primal and dual state. x, lb, ub, zl, zu, zw, sw are distributed
	// shards; z, s, zt, t are replicated.
	x, lb, ub, zl, zu []float64
	zw, sw            []float64
	z, s, zt, t       []float64

	// Step vectors, identical shapes, overwritten each iteration.
	px, pzl, pzu, pzw, psw []float64
	pz, ps, pzt, pt        []float64

	// KKT residuals.
	rx, rzl, rzu, rcw, rsw []float64
	rc, rs, rt, rzt        []float64

	// Objective, constraint values and gradients.
	fobj float64
	c    []float64
	g    []float64
	ac   [][]float64

	// Diagonal KKT system data.
	cvec  []float64
	cw    []float64
	ew    [][]float64
	dmat  []float64
	dpiv  []int
	hdiag []float64

	// Quasi-Newton Schur complement.
	ce    []float64
	cpiv  []int
	ztemp []float64

	// Temporaries reused across iterations.
	sqn, yqn     []float64
	xtemp, wtemp []float64

	// GMRES subspace data, allocated by SetGMRESSubspaceSize.
	gmresSize   int
	gmresH      []float64
	gmresAlpha  []float64
	gmresRes    []float64
	gmresY      []float64
	gmresFproj  []float64
	gmresAproj  []float64
	gmresAwproj []float64
	gmresQ      []float64
	gmresW      [][]float64

	// Barrier and penalty state.
	barrierParam float64
	penaltyGamma []float64
	rhoPenalty   float64

	// Evaluation counters.
	niter, neval, ngeval, nhvec int

	started bool
}

// New creates a solver for the given problem. The quasi-Newton approximation
// may be nil, in which case the solver runs as a sequential linear method.
// The communicator fixes the process group; use comm.Single for serial runs.
// The logger may be nil to suppress all output.
func New(prob Problem, qn CompactQuasiNewton, opts *Options, c *comm.Comm, log *Logger) (*Solver, error) {
	if prob == nil {
		return nil, errors.New("interior: problem is required")
	}
	if c == nil {
		c = comm.Single()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("interior: %w", err)
	}

	nvars, ncon, nwcon, nwblock := prob.Sizes()
	if nvars < 0 || ncon < 0 || nwcon < 0 {
		return nil, errors.New("interior: negative problem size")
	}
	if nwcon > 0 {
		if nwblock <= 0 {
			return nil, errors.New("interior: sparse block size must be positive")
		}
		if nwcon%nwblock != 0 {
			return nil, errors.New("interior: sparse block size inconsistent")
		}
	}

	s := &Solver{
		prob:    prob,
		qn:      qn,
		opts:    opts,
		com:     c,
		log:     log,
		nvars:   nvars,
		ncon:    ncon,
		nwcon:   nwcon,
		nwblock: nwblock,

		sparseInequality: prob.IsSparseInequality(),
		denseInequality:  prob.IsDenseInequality(),
		useLower:         prob.UseLowerBounds(),
		useUpper:         prob.UseUpperBounds(),

		barrierParam: opts.InitBarrierParam,
		rhoPenalty:   0.0,
	}

	// Record the global partition of the design and sparse constraint rows.
	size := c.Size()
	s.varRange = make([]int, size+1)
	s.wconRange = make([]int, size+1)
	for r, n := range c.AllgatherInt(nvars) {
		s.varRange[r+1] = s.varRange[r] + n
	}
	for r, n := range c.AllgatherInt(nwcon) {
		s.wconRange[r+1] = s.wconRange[r] + n
	}
	s.nvarsTotal = s.varRange[size]
	s.nwconTotal = s.wconRange[size]

	s.allocate()
	return s, nil
}

func (s *Solver) allocate() {
	nvars, ncon, nwcon := s.nvars, s.ncon, s.nwcon

	dvec := func() []float64 { return make([]float64, nvars) }
	cvec := func() []float64 { return make([]float64, ncon) }
	wvec := func() []float64 { return make([]float64, nwcon) }

	s.x, s.lb, s.ub = dvec(), dvec(), dvec()
	s.zl, s.zu = dvec(), dvec()
	s.zw, s.sw = wvec(), wvec()
	s.z, s.s, s.zt, s.t = cvec(), cvec(), cvec(), cvec()
	fill(s.z, 1.0)
	fill(s.s, 1.0)
	fill(s.zt, 1.0)
	fill(s.t, 1.0)
	fill(s.zw, 1.0)
	fill(s.sw, 1.0)

	s.px, s.pzl, s.pzu = dvec(), dvec(), dvec()
	s.pzw, s.psw = wvec(), wvec()
	s.pz, s.ps, s.pzt, s.pt = cvec(), cvec(), cvec(), cvec()

	s.rx, s.rzl, s.rzu = dvec(), dvec(), dvec()
	s.rcw, s.rsw = wvec(), wvec()
	s.rc, s.rs, s.rt, s.rzt = cvec(), cvec(), cvec(), cvec()

	s.c = cvec()
	s.g = dvec()
	s.ac = make([][]float64, ncon)
	for i := range s.ac {
		s.ac[i] = dvec()
	}

	s.cvec = dvec()
	if s.nwblock == 1 {
		s.cw = make([]float64, nwcon)
	} else if nwcon > 0 {
		s.cw = make([]float64, (nwcon/s.nwblock)*s.nwblock*s.nwblock)
	}
	s.ew = make([][]float64, ncon)
	for i := range s.ew {
		s.ew[i] = wvec()
	}
	s.dmat = make([]float64, ncon*ncon)
	s.dpiv = make([]int, max(ncon, 1))
	if s.opts.UseDiagHessian {
		s.hdiag = dvec()
	}

	maxQN := 0
	if s.qn != nil {
		maxQN = s.qn.MaxSize()
	}
	if maxQN > 0 {
		s.ce = make([]float64, maxQN*maxQN)
		s.cpiv = make([]int, maxQN)
	}
	s.ztemp = make([]float64, max(maxQN, ncon))

	s.sqn, s.yqn = dvec(), dvec()
	s.xtemp, s.wtemp = dvec(), wvec()

	s.penaltyGamma = cvec()
	fill(s.penaltyGamma, s.opts.PenaltyGamma)

	if s.opts.GMRESSubspaceSize > 0 {
		s.SetGMRESSubspaceSize(s.opts.GMRESSubspaceSize)
	}
}

// SetGMRESSubspaceSize sets the Krylov subspace size for the inexact Newton
// step, reallocating only the subspace buffers.
func (s *Solver) SetGMRESSubspaceSize(m int) {
	if m <= 0 {
		s.gmresSize = 0
		s.gmresW = nil
		return
	}
	s.gmresSize = m
	s.gmresH = make([]float64, (m+1)*(m+2)/2)
	s.gmresAlpha = make([]float64, m+1)
	s.gmresRes = make([]float64, m+1)
	s.gmresY = make([]float64, m+1)
	s.gmresFproj = make([]float64, m+1)
	s.gmresAproj = make([]float64, m+1)
	s.gmresAwproj = make([]float64, m+1)
	s.gmresQ = make([]float64, 2*m)
	s.gmresW = make([][]float64, m+1)
	for i := range s.gmresW {
		s.gmresW[i] = make([]float64, s.nvars)
	}
}

// ResetProblemInstance reseats the solver on a congruent problem with
// identical sizes. The current primal and dual state is preserved so a
// resumed Optimize continues from it.
func (s *Solver) ResetProblemInstance(prob Problem) error {
	nvars, ncon, nwcon, nwblock := prob.Sizes()
	if nvars != s.nvars || ncon != s.ncon || nwcon != s.nwcon || nwblock != s.nwblock {
		return ErrSizeMismatch
	}
	s.prob = prob
	return nil
}

// ResetQuasiNewtonHessian discards the quasi-Newton approximation.
func (s *Solver) ResetQuasiNewtonHessian() {
	if s.qn != nil {
		s.qn.Reset()
	}
}

// ResetDesignAndBounds reloads the design point and bounds from the problem
// and re-runs the consistency repair.
func (s *Solver) ResetDesignAndBounds() {
	s.initAndCheckDesignAndBounds()
}

// SetPenaltyGamma sets the penalty on every dense constraint violation.
func (s *Solver) SetPenaltyGamma(gamma float64) {
	fill(s.penaltyGamma, gamma)
}

// SetPenaltyGammaPerConstraint sets a per-constraint violation penalty.
func (s *Solver) SetPenaltyGammaPerConstraint(gamma []float64) error {
	if len(gamma) != s.ncon {
		return ErrSizeMismatch
	}
	copy(s.penaltyGamma, gamma)
	return nil
}

// PenaltyGamma returns the per-constraint violation penalties.
func (s *Solver) PenaltyGamma() []float64 {
	out := make([]float64, s.ncon)
	copy(out, s.penaltyGamma)
	return out
}

// BarrierParameter returns the current barrier parameter.
func (s *Solver) BarrierParameter() float64 { return s.barrierParam }

// SetInitBarrierParameter sets the barrier parameter used on the next
// Optimize call.
func (s *Solver) SetInitBarrierParameter(mu float64) { s.barrierParam = mu }

// Complementarity returns the average complementarity over all inequality
// pairs and live bounds.
func (s *Solver) Complementarity() float64 { return s.computeComp() }

// OptimizedPoint returns the local design shard and the multipliers
// (z, zw, zl, zu). The slices alias the solver state.
func (s *Solver) OptimizedPoint() (x, z, zw, zl, zu []float64) {
	return s.x, s.z, s.zw, s.zl, s.zu
}

// OptimizedSlacks returns the slack variables (s, t, sw). The slices alias
// the solver state.
func (s *Solver) OptimizedSlacks() (sv, t, sw []float64) {
	return s.s, s.t, s.sw
}

// Iterations returns the evaluation counters from the last Optimize call:
// major iterations, objective, gradient and Hessian-vector evaluations.
func (s *Solver) Iterations() (niter, neval, ngeval, nhvec int) {
	return s.niter, s.neval, s.ngeval, s.nhvec
}

// onRoot reports whether this rank performs the dense factorizations.
func (s *Solver) onRoot() bool { return s.com.Rank() == optRoot }
