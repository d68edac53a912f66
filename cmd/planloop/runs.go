package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rahul/planloop/internal/store"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "List recorded runs, or show one in full.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := store.Open(ctx, cfg.App.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		runs := store.NewRunStore(db)

		if len(args) == 1 {
			rec, err := runs.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		}

		recs, err := runs.List(ctx, runsLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tVARIANT\tDECISION\tITER\tSTARTED\tOBJECTIVE")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", r.RunID, r.Variant, r.Decision, r.Iterations,
				r.StartedAt.Format(time.DateTime), truncate(r.Objective, 60))
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "runs to list")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
