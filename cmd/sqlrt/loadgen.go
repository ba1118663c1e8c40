package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joao-brasil/sqlrt/internal/cache"
)

type loadgenOptions struct {
	params      []string
	datasource  string
	workers     int
	iterations  int
	stopOnError bool
}

func newLoadgenCmd(root *rootOptions) *cobra.Command {
	opts := &loadgenOptions{}
	cmd := &cobra.Command{
		Use:   "loadgen <statement-id>",
		Short: "Run a select from many concurrent sessions and report pool and cache statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}
			rt, err := bootstrap(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.close()

			dsID, err := rt.dataSourceFor(args[0], opts.datasource)
			if err != nil {
				return err
			}
			res, err := loadgen(cmd.Context(), rt, dsID, args[0], params, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "queries=%d errors=%d elapsed=%s qps=%.1f\n",
				res.queries, res.errors, res.elapsed, float64(res.queries)/res.elapsed.Seconds())
			for _, c := range rt.factory.Registry().Caches() {
				fmt.Fprintf(out, "cache %s size=%d chain=%v\n", c.ID(), c.Size(), cache.Describe(c))
			}
			for _, st := range rt.pools.Stats() {
				fmt.Fprintln(out, st.String())
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "Statement parameter as name=value (repeatable)")
	cmd.Flags().StringVarP(&opts.datasource, "datasource", "d", "", "Datasource to run on (defaults to the statement's)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 20, "Concurrent sessions")
	cmd.Flags().IntVarP(&opts.iterations, "iterations", "n", 100, "Queries per session")
	cmd.Flags().BoolVar(&opts.stopOnError, "stop-on-error", false, "Abort every worker on the first error")
	return cmd
}

type loadgenResult struct {
	queries int64
	errors  int64
	elapsed time.Duration
}

func loadgen(ctx context.Context, rt *runtime, dsID, statementID string, params map[string]any, opts *loadgenOptions) (loadgenResult, error) {
	var queries, failures atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := range opts.workers {
		g.Go(func() error {
			s, err := rt.factory.Open(dsID)
			if err != nil {
				return err
			}
			defer s.Close()
			for range opts.iterations {
				if gctx.Err() != nil {
					return nil
				}
				p := make(map[string]any, len(params))
				for k, v := range params {
					p[k] = v
				}
				if _, err := s.SelectList(gctx, statementID, p); err != nil {
					failures.Add(1)
					rt.logger.Warn("[loadgen] query failed", "worker", w, "err", err)
					if opts.stopOnError {
						return err
					}
					continue
				}
				queries.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return loadgenResult{queries: queries.Load(), errors: failures.Load(), elapsed: time.Since(start)}, err
}
