package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"filesweep/internal/logging"
	"filesweep/internal/state"
	"filesweep/internal/sweep"
)

type purgeReport struct {
	Environment string          `json:"environment"`
	DryRun      bool            `json:"dry_run"`
	Purged      []string        `json:"purged"`
	Bytes       int64           `json:"bytes"`
	Retained    int             `json:"retained"`
	Unlabeled   []string        `json:"unlabeled,omitempty"`
	Failures    []sweep.Failure `json:"failures,omitempty"`
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var (
		env        string
		dryRun     bool
		force      bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Permanently delete quarantined objects past their retention",
		Long: `Delete quarantined objects whose purge-after time has passed. The expiry is
read from each object's metadata; objects without one are reported and kept.
Purged objects cannot be restored, so a real purge requires --force.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dryRun && !force {
				return errors.New("purge permanently deletes objects; pass --force, or --dry-run to preview")
			}
			sess, err := ctx.openSession(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer sess.Close()

			report, err := purge(cmd.Context(), sess, dryRun)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderPurgeReport(report))
			}
			if len(report.Failures) > 0 {
				return fmt.Errorf("%d quarantined objects could not be purged: %w", len(report.Failures), sweep.ErrPartialFailure)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "Target environment")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List expired objects without deleting them")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Confirm permanent deletion")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}

func purge(ctx context.Context, sess *session, dryRun bool) (purgeReport, error) {
	runID := uuid.NewString()
	if !dryRun {
		lock, err := sess.lock(ctx, runID)
		if err != nil {
			return purgeReport{}, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logging.WarnWithContext(sess.logger, "release run lock failed", logging.EventRunLock, logging.Error(err))
			}
		}()
	}

	now := time.Now().UTC()
	result, err := sess.manager(runID).Purge(ctx, now, dryRun)
	if err != nil {
		return purgeReport{}, fmt.Errorf("purge %s: %w", sess.env.Name, err)
	}

	report := purgeReport{
		Environment: sess.env.Name,
		DryRun:      dryRun,
		Purged:      make([]string, 0, len(result.Purged)),
		Bytes:       result.Bytes,
		Retained:    result.Retained,
		Unlabeled:   result.Unlabeled,
	}
	for _, obj := range result.Purged {
		report.Purged = append(report.Purged, obj.Key)
		if dryRun {
			continue
		}
		err := sess.state.MarkPurged(context.WithoutCancel(ctx), sess.env.Name, obj.Key, now)
		if err != nil && !errors.Is(err, state.ErrEntryNotFound) {
			logging.WarnWithContext(sess.logger, "ledger not updated for purged object", logging.EventLedgerUpdateFailed,
				logging.Key(obj.Key),
				logging.Error(err),
			)
		}
	}
	for _, f := range result.Failures {
		report.Failures = append(report.Failures, sweep.Failure{Key: f.Key, Stage: string(f.Stage), Error: f.Err.Error()})
	}
	return report, nil
}

func renderPurgeReport(r purgeReport) string {
	verb := "Purged"
	if r.DryRun {
		verb = "Would purge"
	}
	rows := [][]string{
		{verb, fmt.Sprintf("%d (%s)", len(r.Purged), humanize.IBytes(uint64(max(r.Bytes, 0))))},
		{"Retained", strconv.Itoa(r.Retained)},
		{"Unlabeled", strconv.Itoa(len(r.Unlabeled))},
		{"Failed", strconv.Itoa(len(r.Failures))},
	}
	return fmt.Sprintf("Purge (%s)\n%s", r.Environment, renderTable([]string{"Result", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}
