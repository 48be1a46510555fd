package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"filesweep/internal/state"
)

func newQuarantineCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect the quarantine ledger",
	}
	cmd.AddCommand(newQuarantineListCommand(ctx))
	return cmd
}

func newQuarantineListCommand(ctx *commandContext) *cobra.Command {
	var (
		env        string
		batchID    string
		all        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quarantined objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.openLedger(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer sess.Close()

			entries, err := sess.state.ListQuarantine(cmd.Context(), state.Filter{
				Environment:   sess.env.Name,
				BatchID:       batchID,
				IncludeClosed: all,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				if entries == nil {
					entries = []state.QuarantineEntry{}
				}
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No quarantined objects")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.BatchID,
					e.OriginalKey,
					humanize.IBytes(uint64(max(e.SizeBytes, 0))),
					formatTime(e.MovedAt),
					formatTime(e.PurgeAfter),
					entryStatus(e),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Batch", "Original key", "Size", "Moved", "Purge after", "Status"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "Target environment")
	cmd.Flags().StringVar(&batchID, "batch", "", "Only entries of this batch")
	cmd.Flags().BoolVar(&all, "all", false, "Include purged and restored entries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}

func entryStatus(e state.QuarantineEntry) string {
	switch {
	case !e.RestoredAt.IsZero():
		return "restored"
	case !e.PurgedAt.IsZero():
		return "purged"
	default:
		return "quarantined"
	}
}
