package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"filesweep/internal/logging"
	"filesweep/internal/state"
	"filesweep/internal/sweep"
)

func newRestoreCommand(ctx *commandContext) *cobra.Command {
	var (
		env     string
		batchID string
		key     string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Move quarantined objects back to their original keys",
		Long: `Restore every active ledger entry of a batch, or a single entry with --key.
A restore never overwrites a live object; occupied keys are reported and the
quarantined copy is kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.openSession(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer sess.Close()
			return restore(cmd, sess, batchID, key)
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "Target environment")
	cmd.Flags().StringVar(&batchID, "batch", "", "Quarantine batch id")
	cmd.Flags().StringVar(&key, "key", "", "Restore only this original key")
	_ = cmd.MarkFlagRequired("env")
	_ = cmd.MarkFlagRequired("batch")

	return cmd
}

func restore(cmd *cobra.Command, sess *session, batchID, key string) error {
	ctx := cmd.Context()
	entries, err := sess.state.ListQuarantine(ctx, state.Filter{
		Environment: sess.env.Name,
		BatchID:     batchID,
		OriginalKey: key,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		if key != "" {
			return fmt.Errorf("no active quarantine entry for %q in batch %s", key, batchID)
		}
		return fmt.Errorf("no active quarantine entries in batch %s", batchID)
	}

	runID := uuid.NewString()
	lock, err := sess.lock(ctx, runID)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logging.WarnWithContext(sess.logger, "release run lock failed", logging.EventRunLock, logging.Error(err))
		}
	}()

	manager := sess.manager(runID)
	var rows [][]string
	failed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		status := "restored"
		if err := manager.Restore(ctx, entry); err != nil {
			failed++
			status = err.Error()
		} else if err := sess.state.MarkRestored(context.WithoutCancel(ctx), entry.BatchID, entry.OriginalKey, time.Now().UTC()); err != nil && !errors.Is(err, state.ErrEntryNotFound) {
			logging.WarnWithContext(sess.logger, "ledger not updated for restored object", logging.EventLedgerUpdateFailed,
				logging.Key(entry.OriginalKey),
				logging.BatchID(entry.BatchID),
				logging.Error(err),
			)
		}
		rows = append(rows, []string{entry.OriginalKey, status})
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Original key", "Result"}, rows, nil))
	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d objects not restored: %w", failed, len(entries), sweep.ErrPartialFailure)
	}
	return nil
}
