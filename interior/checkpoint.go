// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interior

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Checkpoint layout, little-endian:
//
//	int32 sizes[3]            total design vars, total sparse rows, ncon
//	float64 barrier
//	float64 z[ncon] s[ncon]
//	float64 x[total] zl[total] zu[total]
//	float64 zw[wtotal] sw[wtotal]

// WriteSolution writes the primal-dual state to a binary checkpoint file.
// Distributed shards are gathered to the optimization root, which performs
// all file I/O; every rank returns the same error status.
func (s *Solver) WriteSolution(path string) error {
	x := s.com.Gather(optRoot, s.x)
	zl := s.com.Gather(optRoot, s.zl)
	zu := s.com.Gather(optRoot, s.zu)
	zw := s.com.Gather(optRoot, s.zw)
	sw := s.com.Gather(optRoot, s.sw)

	failed := 0
	if s.onRoot() {
		if err := s.writeSolutionRoot(path, x, zl, zu, zw, sw); err != nil {
			s.log.log("paropt: %v\n", err)
			failed = 1
		}
	}
	if s.com.BorInt(failed) != 0 {
		return fmt.Errorf("interior: write solution file %s failed", path)
	}
	return nil
}

func (s *Solver) writeSolutionRoot(path string, x, zl, zu, zw, sw []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sizes := [3]int32{int32(s.nvarsTotal), int32(s.nwconTotal), int32(s.ncon)}
	for _, v := range []any{
		sizes, s.barrierParam, s.z, s.s, x, zl, zu, zw, sw,
	} {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadSolution restores the primal-dual state from a checkpoint file written
// by WriteSolution. The read is strict: a file whose recorded sizes do not
// match the solver fails with ErrSizeMismatch and mutates nothing.
func (s *Solver) ReadSolution(path string) error {
	var (
		barrier  float64
		z, sv    []float64
		x        []float64
		zl, zu   []float64
		zw, sw   []float64
		sizeFail = 0
		readFail = 0
	)
	if s.onRoot() {
		err := func() error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			var sizes [3]int32
			if err := binary.Read(f, binary.LittleEndian, &sizes); err != nil {
				return err
			}
			if int(sizes[0]) != s.nvarsTotal || int(sizes[1]) != s.nwconTotal ||
				int(sizes[2]) != s.ncon {
				sizeFail = 1
				return nil
			}

			z = make([]float64, s.ncon)
			sv = make([]float64, s.ncon)
			x = make([]float64, s.nvarsTotal)
			zl = make([]float64, s.nvarsTotal)
			zu = make([]float64, s.nvarsTotal)
			zw = make([]float64, s.nwconTotal)
			sw = make([]float64, s.nwconTotal)
			for _, v := range []any{&barrier, z, sv, x, zl, zu, zw, sw} {
				if err := binary.Read(f, binary.LittleEndian, v); err != nil {
					return err
				}
			}
			return nil
		}()
		if err != nil {
			s.log.log("paropt: %v\n", err)
			readFail = 1
		}
	}

	if s.com.BorInt(sizeFail) != 0 {
		if s.onRoot() {
			s.log.log("paropt: problem size incompatible with solution file\n")
		}
		return ErrSizeMismatch
	}
	if s.com.BorInt(readFail) != 0 {
		return fmt.Errorf("interior: read solution file %s failed", path)
	}

	// Commit the state only after a fully successful read.
	b := [1]float64{barrier}
	s.com.Bcast(optRoot, b[:])
	s.barrierParam = b[0]

	if s.onRoot() {
		copy(s.z, z)
		copy(s.s, sv)
	}
	s.com.Bcast(optRoot, s.z)
	s.com.Bcast(optRoot, s.s)

	s.com.Scatter(optRoot, x, s.x)
	s.com.Scatter(optRoot, zl, s.zl)
	s.com.Scatter(optRoot, zu, s.zu)
	s.com.Scatter(optRoot, zw, s.zw)
	s.com.Scatter(optRoot, sw, s.sw)

	// A restored state resumes directly; the startup strategy is skipped.
	s.started = true
	return nil
}
