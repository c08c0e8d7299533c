// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package comm provides a fixed-size SPMD process group with rank
// collectives. One goroutine runs per rank; within a rank all arithmetic is
// single-threaded and synchronous. Every reduction accumulates contributions
// in rank order, so replicated results are bitwise identical on all ranks
// regardless of scheduling.
package comm

import (
	"math"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group is a fixed set of ranks that communicate through collectives.
// A Group must not be shared between concurrent Run calls.
type Group struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	phase   uint64
	slots   []any
}

// NewGroup creates a process group with the given number of ranks.
func NewGroup(size int) *Group {
	if size < 1 {
		panic("comm: group size must be positive")
	}
	g := &Group{
		size:  size,
		slots: make([]any, size),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return g.size }

// Run starts one goroutine per rank and waits for all of them.
// The first non-nil error is returned.
func (g *Group) Run(fn func(c *Comm) error) error {
	var eg errgroup.Group
	for r := 0; r < g.size; r++ {
		c := &Comm{g: g, rank: r}
		eg.Go(func() error { return fn(c) })
	}
	return eg.Wait()
}

// Comm is one rank's handle on the group collectives.
type Comm struct {
	g    *Group
	rank int
}

// Single returns a communicator for a group of one rank. All collectives
// degenerate to no-ops on the local data.
func Single() *Comm {
	return &Comm{g: NewGroup(1), rank: 0}
}

// Rank returns the caller's rank within the group.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks in the group.
func (c *Comm) Size() int { return c.g.size }

// Barrier blocks until every rank in the group has entered it.
func (c *Comm) Barrier() {
	if c.g.size > 1 {
		c.g.barrier()
	}
}

// barrier is a cyclic generation barrier.
func (g *Group) barrier() {
	g.mu.Lock()
	ph := g.phase
	g.arrived++
	if g.arrived == g.size {
		g.arrived = 0
		g.phase++
		g.cond.Broadcast()
	} else {
		for g.phase == ph {
			g.cond.Wait()
		}
	}
	g.mu.Unlock()
}

// exchange deposits v, waits for every rank, hands the deposited slots in
// rank order to read, then waits again before any rank may reuse its buffer.
func (c *Comm) exchange(v any, read func(slots []any)) {
	g := c.g
	g.slots[c.rank] = v
	g.barrier()
	read(g.slots)
	g.barrier()
}

// AllreduceSum replaces vals on every rank with the element-wise sum of the
// contributions from all ranks. The sum is accumulated in rank order so the
// result is bitwise identical everywhere.
func (c *Comm) AllreduceSum(vals []float64) {
	if c.g.size == 1 {
		return
	}
	out := make([]float64, len(vals))
	c.exchange(vals, func(slots []any) {
		for _, s := range slots {
			src := s.([]float64)
			for i, v := range src {
				out[i] += v
			}
		}
	})
	copy(vals, out)
}

// ReduceSum accumulates the element-wise sum of vals onto the root rank.
// Buffers on non-root ranks are left unchanged.
func (c *Comm) ReduceSum(root int, vals []float64) {
	if c.g.size == 1 {
		return
	}
	var out []float64
	if c.rank == root {
		out = make([]float64, len(vals))
	}
	c.exchange(vals, func(slots []any) {
		if c.rank != root {
			return
		}
		for _, s := range slots {
			src := s.([]float64)
			for i, v := range src {
				out[i] += v
			}
		}
	})
	if c.rank == root {
		copy(vals, out)
	}
}

// Bcast replaces vals on every rank with the root rank's values.
func (c *Comm) Bcast(root int, vals []float64) {
	if c.g.size == 1 {
		return
	}
	var out []float64
	c.exchange(vals, func(slots []any) {
		if c.rank != root {
			out = append(out, slots[root].([]float64)...)
		}
	})
	if c.rank != root {
		copy(vals, out)
	}
}

// AllreduceMin replaces vals on every rank with the element-wise minimum
// over all ranks.
func (c *Comm) AllreduceMin(vals []float64) {
	if c.g.size == 1 {
		return
	}
	out := make([]float64, len(vals))
	for i := range out {
		out[i] = math.Inf(1)
	}
	c.exchange(vals, func(slots []any) {
		for _, s := range slots {
			src := s.([]float64)
			for i, v := range src {
				if v < out[i] {
					out[i] = v
				}
			}
		}
	})
	copy(vals, out)
}

// BorInt returns the bitwise OR of v over all ranks.
func (c *Comm) BorInt(v int) int {
	if c.g.size == 1 {
		return v
	}
	out := 0
	c.exchange(v, func(slots []any) {
		for _, s := range slots {
			out |= s.(int)
		}
	})
	return out
}

// AllgatherInt returns the per-rank values of v, indexed by rank.
func (c *Comm) AllgatherInt(v int) []int {
	out := make([]int, c.g.size)
	if c.g.size == 1 {
		out[0] = v
		return out
	}
	c.exchange(v, func(slots []any) {
		for r, s := range slots {
			out[r] = s.(int)
		}
	})
	return out
}

// Gather concatenates the per-rank local shards on the root rank, in rank
// order. Non-root ranks receive nil.
func (c *Comm) Gather(root int, local []float64) []float64 {
	if c.g.size == 1 {
		out := make([]float64, len(local))
		copy(out, local)
		return out
	}
	var out []float64
	c.exchange(local, func(slots []any) {
		if c.rank != root {
			return
		}
		for _, s := range slots {
			out = append(out, s.([]float64)...)
		}
	})
	if c.rank != root {
		return nil
	}
	return out
}

// Scatter distributes consecutive shards of the root rank's full vector into
// each rank's local buffer. The shard sizes are taken from the local buffer
// lengths; full may be nil on non-root ranks.
func (c *Comm) Scatter(root int, full, local []float64) {
	if c.g.size == 1 {
		copy(local, full)
		return
	}
	counts := c.AllgatherInt(len(local))
	offset := 0
	for r := 0; r < c.rank; r++ {
		offset += counts[r]
	}
	out := make([]float64, len(local))
	c.exchange(full, func(slots []any) {
		src := slots[root].([]float64)
		copy(out, src[offset:offset+len(local)])
	})
	copy(local, out)
}
