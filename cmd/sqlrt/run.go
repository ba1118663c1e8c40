package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

type runOptions struct {
	params     []string
	datasource string
	commit     bool
	repeat     int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <statement-id>",
		Short: "Execute a configured statement and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}

			rt, err := bootstrap(ctx, root)
			if err != nil {
				return err
			}
			defer rt.close()

			dsID, err := rt.dataSourceFor(args[0], opts.datasource)
			if err != nil {
				return err
			}
			s, err := rt.factory.Open(dsID)
			if err != nil {
				return err
			}
			defer s.Close()

			ms, err := rt.factory.Registry().Statement(args[0])
			if err != nil {
				return err
			}

			var out any
			if ms.IsSelect() {
				var list []any
				for range max(opts.repeat, 1) {
					if list, err = s.SelectList(ctx, ms.ID, params); err != nil {
						return err
					}
				}
				out = list
			} else {
				n, err := s.Update(ctx, ms.ID, params)
				if err != nil {
					return err
				}
				if err := s.Commit(opts.commit); err != nil {
					return err
				}
				out = map[string]any{"rows_affected": n, "params": params}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			for _, st := range rt.pools.Stats() {
				fmt.Fprintln(cmd.ErrOrStderr(), st.String())
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "Statement parameter as name=value (repeatable)")
	cmd.Flags().StringVarP(&opts.datasource, "datasource", "d", "", "Datasource to run on (defaults to the statement's)")
	cmd.Flags().BoolVar(&opts.commit, "commit", false, "Force a commit after a mutating statement")
	cmd.Flags().IntVar(&opts.repeat, "repeat", 1, "Run a select this many times in the same session")
	return cmd
}
