// Copyright ©2025 the paropt authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command paropt runs the interior-point optimizer on the built-in
// benchmark problems.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/eirikurj/paropt/comm"
	"github.com/eirikurj/paropt/interior"
	"github.com/eirikurj/paropt/lmqn"
	"github.com/eirikurj/paropt/numdiff"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		problem    string
		configPath string
		checkpoint string
		ranks      int
		qnSize     int
		verbose    bool
		checkGrad  bool
	)

	root := &cobra.Command{
		Use:           "paropt",
		Short:         "parallel primal-dual interior-point optimizer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "optimize a built-in benchmark problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			opts := interior.DefaultOptions()
			if configPath != "" {
				var err error
				opts, err = interior.LoadOptions(configPath)
				if err != nil {
					return err
				}
				logger.Info("loaded options", "path", configPath)
			}

			level := interior.LogIter
			if verbose {
				level = interior.LogTrace
			}

			logger.Info("starting optimization",
				"problem", problem, "ranks", ranks, "qn_size", qnSize)

			if checkGrad {
				if ranks != 1 {
					return fmt.Errorf("gradient checking runs on a single rank")
				}
				prob, err := buildProblem(problem, comm.Single())
				if err != nil {
					return err
				}
				nvars, _, _, _ := prob.Sizes()
				x := make([]float64, nvars)
				lb := make([]float64, nvars)
				ub := make([]float64, nvars)
				prob.VarsAndBounds(x, lb, ub)
				p := make([]float64, nvars)
				for i := range p {
					p[i] = 1.0 / float64(i+1)
				}
				cs := &numdiff.CheckSpec{
					Problem: prob,
					Method:  numdiff.Central,
					Out:     os.Stdout,
				}
				if _, err := cs.Check(x, p); err != nil {
					return err
				}
			}

			group := comm.NewGroup(ranks)
			err := group.Run(func(c *comm.Comm) error {
				prob, err := buildProblem(problem, c)
				if err != nil {
					return err
				}
				nvars, _, _, _ := prob.Sizes()

				var ilog *interior.Logger
				if c.Rank() == 0 {
					ilog = &interior.Logger{Level: level, Out: os.Stdout}
				}
				qn := lmqn.NewLBFGS(c, nvars, qnSize)
				solver, err := interior.New(prob, qn, opts, c, ilog)
				if err != nil {
					return err
				}
				if err := solver.Optimize(checkpoint); err != nil {
					return err
				}

				if c.Rank() == 0 {
					x, z, _, _, _ := solver.OptimizedPoint()
					niter, neval, ngeval, _ := solver.Iterations()
					logger.Info("finished",
						"iterations", niter, "evals", neval, "grad_evals", ngeval,
						"complementarity", solver.Complementarity())
					fmt.Printf("x = %v\n", x)
					fmt.Printf("z = %v\n", z)
				}
				return nil
			})
			if err != nil {
				logger.Error("optimization failed", "error", err)
			}
			return err
		},
	}
	run.Flags().StringVar(&problem, "problem", "quadratic", "benchmark problem: quadratic or hs71")
	run.Flags().StringVar(&configPath, "config", "", "YAML options file")
	run.Flags().StringVar(&checkpoint, "checkpoint", "", "checkpoint file path")
	run.Flags().IntVar(&ranks, "ranks", 1, "process group size")
	run.Flags().IntVar(&qnSize, "qn-size", 10, "limited-memory subspace size")
	run.Flags().BoolVar(&verbose, "verbose", false, "trace-level iteration output")
	run.Flags().BoolVar(&checkGrad, "check-gradients", false, "verify problem derivatives before optimizing")

	root.AddCommand(run)
	return root
}
