// File: cmd/history.go
package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/afterburner/internal/observability"
	"github.com/xkilldash9x/afterburner/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs stored in the results database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			url := cfg.Database().URL
			if url == "" {
				return errors.New("no results database configured (database.url or AFTERBURNER_DATABASE_URL)")
			}
			ctx := cmd.Context()

			pool, closeDB, err := newPool(ctx, url)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer closeDB()
			st, err := store.New(ctx, pool, observability.GetLogger())
			if err != nil {
				return err
			}
			runs, err := st.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tBROWSER\tHOST\tSEED\tPASSED\tFAILED\tRUNTIME")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.1fs\n",
					r.StartedAt.Local().Format(time.DateTime), r.Browser, r.Host, r.Seed,
					r.Passed, r.Failed, r.Runtime.Seconds())
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
