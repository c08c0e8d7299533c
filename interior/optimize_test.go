// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior_test

import (
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/eirikurj/paropt/comm"
	"github.com/eirikurj/paropt/interior"
	"github.com/eirikurj/paropt/lmqn"
)

// qpProblem is a separable quadratic with dense linear constraints:
// minimize ½ Σ hᵢxᵢ² − bᵢxᵢ subject to A x = rhs (or ≥) and box bounds.
type qpProblem struct {
	h, b    []float64
	a       [][]float64
	rhs     []float64
	x0      []float64
	lb, ub  []float64
	denseEq bool
}

func (p *qpProblem) Sizes() (int, int, int, int) { return len(p.h), len(p.a), 0, 0 }

func (p *qpProblem) VarsAndBounds(x, lb, ub []float64) {
	copy(x, p.x0)
	copy(lb, p.lb)
	copy(ub, p.ub)
}

func (p *qpProblem) EvalObjCon(x []float64) (float64, []float64, error) {
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

func (p *qpProblem) EvalObjConGradient(x []float64, g []float64, ac [][]float64) error {
	for i, v := range x {
		g[i] = p.h[i]*v - p.b[i]
	}
	for k, row := range p.a {
		copy(ac[k], row)
	}
	return nil
}

func (p *qpProblem) EvalSparseCon(x, out []float64)                          {}
func (p *qpProblem) AddSparseJacobian(a float64, x, px, out []float64)       {}
func (p *qpProblem) AddSparseJacobianTranspose(a float64, x, v, o []float64) {}
func (p *qpProblem) AddSparseInnerProduct(a float64, x, c, o []float64)      {}
func (p *qpProblem) IsSparseInequality() bool                                { return true }
func (p *qpProblem) IsDenseInequality() bool                                 { return !p.denseEq }
func (p *qpProblem) UseLowerBounds() bool                                    { return true }
func (p *qpProblem) UseUpperBounds() bool                                    { return true }

func newSolver(t *testing.T, prob interior.Problem, opts *interior.Options, qnSize int) *interior.Solver {
	t.Helper()
	var qn interior.CompactQuasiNewton
	if qnSize > 0 {
		nvars, _, _, _ := prob.Sizes()
		qn = lmqn.NewLBFGS(nil, nvars, qnSize)
	}
	s, err := interior.New(prob, qn, opts, nil, nil)
	require.NoError(t, err)
	return s
}

// Convex QP with one equality constraint: the engine must reach the exact
// KKT point in a handful of monotone barrier iterations.
func TestConvexQPEquality(t *testing.T) {
	prob := &qpProblem{
		h:       []float64{4, 3, 2, 1},
		b:       []float64{1, 1, 1, 1},
		a:       [][]float64{{1, 1, 1, 1}},
		rhs:     []float64{1},
		x0:      []float64{0.25, 0.25, 0.25, 0.25},
		lb:      []float64{0, 0, 0, 0},
		ub:      []float64{1, 1, 1, 1},
		denseEq: true,
	}
	opts := interior.DefaultOptions()
	opts.MaxMajorIters = 50

	s := newSolver(t, prob, opts, 10)
	require.NoError(t, s.Optimize(""))

	x, z, _, zl, zu := s.OptimizedPoint()
	niter, _, _, _ := s.Iterations()
	require.LessOrEqual(t, niter, 20)

	// Analytic solution: x_i = (1 + z)/h_i with 1 + z = 12/25.
	want := []float64{0.12, 0.16, 0.24, 0.48}
	for i := range want {
		require.InDelta(t, want[i], x[i], 1e-4)
	}
	require.InDelta(t, 1.0, floats.Sum(x), 1e-6)

	// Stationarity: H x − b − z·a − zl + zu = 0 to the tolerance.
	for i := range x {
		res := prob.h[i]*x[i] - prob.b[i] - z[0] - zl[i] + zu[i]
		require.InDelta(t, 0.0, res, 1e-5)
	}
}

// hs71Problem is Hock-Schittkowski problem 71 with the equality posed as an
// opposing pair of inequalities.
type hs71Problem struct{}

func (*hs71Problem) Sizes() (int, int, int, int) { return 4, 3, 0, 0 }

func (*hs71Problem) VarsAndBounds(x, lb, ub []float64) {
	copy(x, []float64{1, 5, 5, 1})
	for i := range lb {
		lb[i] = 1
		ub[i] = 5
	}
}

func (*hs71Problem) EvalObjCon(x []float64) (float64, []float64, error) {
	f := x[0]*x[3]*(x[0]+x[1]+x[2]) + x[2]
	sq := x[0]*x[0] + x[1]*x[1] + x[2]*x[2] + x[3]*x[3]
	return f, []float64{
		x[0]*x[1]*x[2]*x[3] - 25,
		sq - 40,
		40 - sq,
	}, nil
}

func (*hs71Problem) EvalObjConGradient(x []float64, g []float64, ac [][]float64) error {
	g[0] = x[3] * (2*x[0] + x[1] + x[2])
	g[1] = x[0] * x[3]
	g[2] = x[0]*x[3] + 1
	g[3] = x[0] * (x[0] + x[1] + x[2])
	ac[0][0] = x[1] * x[2] * x[3]
	ac[0][1] = x[0] * x[2] * x[3]
	ac[0][2] = x[0] * x[1] * x[3]
	ac[0][3] = x[0] * x[1] * x[2]
	for i := 0; i < 4; i++ {
		ac[1][i] = 2 * x[i]
		ac[2][i] = -2 * x[i]
	}
	return nil
}

func (*hs71Problem) EvalSparseCon(x, out []float64)                          {}
func (*hs71Problem) AddSparseJacobian(a float64, x, px, out []float64)       {}
func (*hs71Problem) AddSparseJacobianTranspose(a float64, x, v, o []float64) {}
func (*hs71Problem) AddSparseInnerProduct(a float64, x, c, o []float64)      {}
func (*hs71Problem) IsSparseInequality() bool                                { return true }
func (*hs71Problem) IsDenseInequality() bool                                 { return true }
func (*hs71Problem) UseLowerBounds() bool                                    { return true }
func (*hs71Problem) UseUpperBounds() bool                                    { return true }

func TestHS71(t *testing.T) {
	for _, strategy := range []interior.BarrierStrategy{
		interior.BarrierMonotone,
		interior.BarrierMehrotra,
	} {
		t.Run(string(strategy), func(t *testing.T) {
			opts := interior.DefaultOptions()
			opts.BarrierStrategy = strategy
			opts.MaxMajorIters = 300

			s := newSolver(t, &hs71Problem{}, opts, 10)
			require.NoError(t, s.Optimize(""))

			x, _, _, _, _ := s.OptimizedPoint()
			f := x[0]*x[3]*(x[0]+x[1]+x[2]) + x[2]
			require.InDelta(t, 17.0140173, f, 1e-3)

			want := []float64{1.0, 4.74299963, 3.82114998, 1.37940829}
			for i := range want {
				require.InDelta(t, want[i], x[i], 1e-2)
			}
		})
	}
}

// Mehrotra's adaptive rule must keep reducing the barrier parameter on a
// strictly convex inequality-constrained QP.
func TestMehrotraBarrierDecrease(t *testing.T) {
	prob := &qpProblem{
		h:   []float64{1, 1},
		b:   []float64{0, 0},
		a:   [][]float64{{1, 1}, {1, -1}},
		rhs: []float64{1, -0.5},
		x0:  []float64{2, 2},
		lb:  []float64{-10, -10},
		ub:  []float64{10, 10},
	}
	opts := interior.DefaultOptions()
	opts.BarrierStrategy = interior.BarrierMehrotra
	opts.MaxMajorIters = 100

	s := newSolver(t, prob, opts, 5)
	mu0 := s.BarrierParameter()
	require.NoError(t, s.Optimize(""))

	require.Less(t, s.BarrierParameter(), mu0)
	require.False(t, math.IsNaN(s.BarrierParameter()))

	x, _, _, _, _ := s.OptimizedPoint()
	require.InDelta(t, 0.5, x[0], 1e-4)
	require.InDelta(t, 0.5, x[1], 1e-4)
}

// sparseBoundProblem has four sparse single-row inequality constraints
// x_i − 0.1 ≥ 0 with an orthogonal (identity) sparse Jacobian.
type sparseBoundProblem struct{ b []float64 }

func (p *sparseBoundProblem) Sizes() (int, int, int, int) { return len(p.b), 0, len(p.b), 1 }

func (p *sparseBoundProblem) VarsAndBounds(x, lb, ub []float64) {
	for i := range x {
		x[i] = 0.5
		lb[i] = -5
		ub[i] = 5
	}
}

func (p *sparseBoundProblem) EvalObjCon(x []float64) (float64, []float64, error) {
	f := 0.0
	for i, v := range x {
		f += 0.5*v*v - p.b[i]*v
	}
	return f, nil, nil
}

func (p *sparseBoundProblem) EvalObjConGradient(x []float64, g []float64, ac [][]float64) error {
	for i, v := range x {
		g[i] = v - p.b[i]
	}
	return nil
}

func (p *sparseBoundProblem) EvalSparseCon(x, out []float64) {
	for i, v := range x {
		out[i] = v - 0.1
	}
}

func (p *sparseBoundProblem) AddSparseJacobian(alpha float64, x, px, out []float64) {
	for i := range out {
		out[i] += alpha * px[i]
	}
}

func (p *sparseBoundProblem) AddSparseJacobianTranspose(alpha float64, x, pzw, out []float64) {
	for i := range out {
		out[i] += alpha * pzw[i]
	}
}

func (p *sparseBoundProblem) AddSparseInnerProduct(alpha float64, x, cvec, out []float64) {
	for i := range out {
		out[i] += alpha * cvec[i]
	}
}

func (p *sparseBoundProblem) IsSparseInequality() bool { return true }
func (p *sparseBoundProblem) IsDenseInequality() bool  { return true }
func (p *sparseBoundProblem) UseLowerBounds() bool     { return true }
func (p *sparseBoundProblem) UseUpperBounds() bool     { return true }

// With ncon = 0 the dense blocks are skipped entirely; the sparse
// constraints alone steer the solution.
func TestSparseConstraintsNoDense(t *testing.T) {
	prob := &sparseBoundProblem{b: []float64{1, 0.05, 1, 0.05}}
	opts := interior.DefaultOptions()
	opts.MaxMajorIters = 100

	s := newSolver(t, prob, opts, 5)
	require.NoError(t, s.Optimize(""))

	x, _, zw, _, _ := s.OptimizedPoint()
	want := []float64{1, 0.1, 1, 0.1}
	for i := range want {
		require.InDelta(t, want[i], x[i], 1e-3)
	}
	// The sparse multipliers are positive where the constraint is active.
	require.Greater(t, zw[1], 1e-3)
	require.Greater(t, zw[3], 1e-3)
}

// Without a quasi-Newton object the engine runs as a sequential linear
// method and still solves a well-conditioned QP.
func TestSequentialLinearFallback(t *testing.T) {
	prob := &qpProblem{
		h:       []float64{2, 2},
		b:       []float64{1, 1},
		a:       [][]float64{{1, 1}},
		rhs:     []float64{1},
		x0:      []float64{0.4, 0.4},
		lb:      []float64{0, 0},
		ub:      []float64{1, 1},
		denseEq: true,
	}
	opts := interior.DefaultOptions()
	opts.MaxMajorIters = 200

	s := newSolver(t, prob, opts, 0) // nil quasi-Newton
	require.NoError(t, s.Optimize(""))

	x, _, _, _, _ := s.OptimizedPoint()
	require.InDelta(t, 0.5, x[0], 1e-3)
	require.InDelta(t, 0.5, x[1], 1e-3)
}

func TestCheckpointRoundTrip(t *testing.T) {
	newProb := func() *qpProblem {
		return &qpProblem{
			h:       []float64{4, 3, 2, 1},
			b:       []float64{1, 1, 1, 1},
			a:       [][]float64{{1, 1, 1, 1}},
			rhs:     []float64{1},
			x0:      []float64{0.25, 0.25, 0.25, 0.25},
			lb:      []float64{0, 0, 0, 0},
			ub:      []float64{1, 1, 1, 1},
			denseEq: true,
		}
	}
	path := filepath.Join(t.TempDir(), "state.chk")

	opts := interior.DefaultOptions()
	opts.MaxMajorIters = 3
	a := newSolver(t, newProb(), opts, 0)
	require.NoError(t, a.Optimize(""))
	require.NoError(t, a.WriteSolution(path))

	// The restored state is bit-identical to the written one.
	b := newSolver(t, newProb(), interior.DefaultOptions(), 0)
	require.NoError(t, b.ReadSolution(path))

	ax, az, _, azl, azu := a.OptimizedPoint()
	bx, bz, _, bzl, bzu := b.OptimizedPoint()
	require.Equal(t, ax, bx)
	require.Equal(t, az, bz)
	require.Equal(t, azl, bzl)
	require.Equal(t, azu, bzu)
	as, at, _ := a.OptimizedSlacks()
	bs, bt, _ := b.OptimizedSlacks()
	require.Equal(t, as, bs)
	require.Equal(t, at, bt)
	require.Equal(t, a.BarrierParameter(), b.BarrierParameter())

	// Two fresh solvers resumed from the same file walk in lockstep.
	ropts := interior.DefaultOptions()
	ropts.MaxMajorIters = 2
	r1 := newSolver(t, newProb(), ropts, 0)
	require.NoError(t, r1.ReadSolution(path))
	require.NoError(t, r1.Optimize(""))
	r2 := newSolver(t, newProb(), ropts, 0)
	require.NoError(t, r2.ReadSolution(path))
	require.NoError(t, r2.Optimize(""))

	x1, _, _, _, _ := r1.OptimizedPoint()
	x2, _, _, _, _ := r2.OptimizedPoint()
	require.Equal(t, x1, x2)
}

func TestCheckpointSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.chk")

	small := &qpProblem{
		h: []float64{1, 1}, b: []float64{0, 0},
		a: [][]float64{{1, 1}}, rhs: []float64{1},
		x0: []float64{0.4, 0.4},
		lb: []float64{0, 0}, ub: []float64{1, 1},
	}
	s := newSolver(t, small, interior.DefaultOptions(), 0)
	require.NoError(t, s.WriteSolution(path))

	big := &qpProblem{
		h: []float64{1, 1, 1}, b: []float64{0, 0, 0},
		a: [][]float64{{1, 1, 1}}, rhs: []float64{1},
		x0: []float64{0.4, 0.4, 0.4},
		lb: []float64{0, 0, 0}, ub: []float64{1, 1, 1},
	}
	other := newSolver(t, big, interior.DefaultOptions(), 0)
	xBefore, _, _, _, _ := other.OptimizedPoint()
	before := append([]float64{}, xBefore...)

	err := other.ReadSolution(path)
	require.ErrorIs(t, err, interior.ErrSizeMismatch)

	// The failed read mutates nothing.
	xAfter, _, _, _, _ := other.OptimizedPoint()
	require.Equal(t, before, xAfter)
}

// distQP distributes the separable quadratic over the ranks of a group.
type distQP struct {
	com    *comm.Comm
	n      int
	local  int
	offset int
}

func newDistQP(c *comm.Comm, n int) *distQP {
	size, rank := c.Size(), c.Rank()
	local := n / size
	offset := rank * local
	if rank == size-1 {
		local = n - offset
	}
	return &distQP{com: c, n: n, local: local, offset: offset}
}

func (p *distQP) Sizes() (int, int, int, int) { return p.local, 1, 0, 0 }

func (p *distQP) VarsAndBounds(x, lb, ub []float64) {
	for i := range x {
		x[i] = 0.5
		lb[i] = 0
		ub[i] = 1
	}
}

func (p *distQP) EvalObjCon(x []float64) (float64, []float64, error) {
	vals := [2]float64{}
	for i, v := range x {
		h := float64(p.offset + i + 1)
		vals[0] += 0.5*h*v*v - v
		vals[1] += v
	}
	p.com.AllreduceSum(vals[:])
	return vals[0], []float64{vals[1] - 1}, nil
}

func (p *distQP) EvalObjConGradient(x []float64, g []float64, ac [][]float64) error {
	for i, v := range x {
		g[i] = float64(p.offset+i+1)*v - 1
		ac[0][i] = 1
	}
	return nil
}

func (p *distQP) EvalSparseCon(x, out []float64)                          {}
func (p *distQP) AddSparseJacobian(a float64, x, px, out []float64)       {}
func (p *distQP) AddSparseJacobianTranspose(a float64, x, v, o []float64) {}
func (p *distQP) AddSparseInnerProduct(a float64, x, c, o []float64)      {}
func (p *distQP) IsSparseInequality() bool                                { return true }
func (p *distQP) IsDenseInequality() bool                                 { return false }
func (p *distQP) UseLowerBounds() bool                                    { return true }
func (p *distQP) UseUpperBounds() bool                                    { return true }

// The same problem on one rank and on four ranks must produce the same
// solution, and the replicated multipliers must be bitwise identical on
// every rank within a run.
func TestParallelDeterminism(t *testing.T) {
	const n = 8

	runGroup := func(size int) (x []float64, zPerRank [][]float64) {
		g := comm.NewGroup(size)
		var mu sync.Mutex
		xParts := make([][]float64, size)
		zPerRank = make([][]float64, size)

		err := g.Run(func(c *comm.Comm) error {
			prob := newDistQP(c, n)
			qn := lmqn.NewLBFGS(c, prob.local, 5)
			opts := interior.DefaultOptions()
			opts.MaxMajorIters = 50
			s, err := interior.New(prob, qn, opts, c, nil)
			if err != nil {
				return err
			}
			if err := s.Optimize(""); err != nil {
				return err
			}
			xs, zs, _, _, _ := s.OptimizedPoint()
			mu.Lock()
			xParts[c.Rank()] = append([]float64{}, xs...)
			zPerRank[c.Rank()] = append([]float64{}, zs...)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)

		for _, part := range xParts {
			x = append(x, part...)
		}
		return x, zPerRank
	}

	x1, _ := runGroup(1)
	x4, z4 := runGroup(4)

	// Replicated dense multipliers agree bitwise across the ranks.
	for r := 1; r < len(z4); r++ {
		require.Equal(t, z4[0], z4[r], "rank %d z differs", r)
	}

	// The distributed solution agrees with the serial one.
	require.Equal(t, len(x1), len(x4))
	for i := range x1 {
		require.InDelta(t, x1[i], x4[i], 1e-10)
	}
}
