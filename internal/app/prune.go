package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Prune deletes alert records older than opts.OlderThan.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("--older-than must be positive")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot prune")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := time.Now().UTC().Add(-opts.OlderThan)
	logger := a.Logger.With().Time("cutoff", cutoff).Bool("dry_run", opts.DryRun).Logger()

	if opts.DryRun {
		logger.Info().Msg("dry run; no alerts deleted")
		fmt.Fprintf(os.Stdout, "would delete alerts created before %s\n", cutoff.Format(time.RFC3339))
		return nil
	}

	deleted, err := store.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune alerts: %w", err)
	}

	logger.Info().Int64("deleted", deleted).Msg("alerts pruned")
	fmt.Fprintf(os.Stdout, "deleted %d alerts created before %s\n", deleted, cutoff.Format(time.RFC3339))
	return nil
}
