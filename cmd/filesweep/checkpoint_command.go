package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newCheckpointCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect run checkpoints",
	}
	cmd.AddCommand(newCheckpointShowCommand(ctx))
	return cmd
}

func newCheckpointShowCommand(ctx *commandContext) *cobra.Command {
	var (
		env        string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the most recent checkpoint of an environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.openLedger(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer sess.Close()

			cp, err := sess.state.Latest(cmd.Context(), sess.env.Name)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, cp)
			}
			if cp == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No checkpoint recorded for %s\n", sess.env.Name)
				return nil
			}

			cursor := cp.Cursor
			if cursor == "" {
				cursor = "-"
			}
			rows := [][]string{
				{"Run", cp.RunID},
				{"Status", string(cp.Status)},
				{"Confirmed by", cp.ConfirmedBy},
				{"Cursor", cursor},
				{"Batches", strconv.Itoa(cp.Batches)},
				{"Processed", strconv.Itoa(cp.Totals.Processed)},
				{"Quarantined", strconv.Itoa(cp.Totals.Quarantined)},
				{"Skipped", strconv.Itoa(cp.Totals.Skipped)},
				{"Failed", strconv.Itoa(cp.Totals.Failed)},
				{"Started", formatTime(cp.StartedAt)},
				{"Updated", formatTime(cp.UpdatedAt)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			if cp.Status.Resumable() {
				fmt.Fprintf(cmd.OutOrStdout(), "Continue with: filesweep run --env %s --resume\n", sess.env.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "Target environment")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}
