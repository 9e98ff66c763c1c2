package checkpointer

import (
	"context"
	"fmt"
	"time"

	"github.com/aquaponics/pondwatch/pkg/rotation"
)

// Checkpointer abstracts cursor persistence across different data stores. A checkpoint holds
// every series cursor of one display session, so a restarted dashboard resumes scrolling where
// each session left off.
type Checkpointer interface {
	// Initialize ensures the underlying storage is ready (creates tables, schemas, etc.). This
	// should be idempotent and safe to call multiple times.
	Initialize(ctx context.Context) error

	// Write persists the cursors of one session, keyed by series identifier. The timestamp used
	// should be the current Unix timestamp in seconds.
	Write(ctx context.Context, sessionID string, cursors map[string]int) error

	// Read retrieves the latest cursors of a session and whether a checkpoint exists.
	Read(ctx context.Context, sessionID string) (cursors map[string]int, exists bool, err error)
}

// Start periodically persists the cursors of every live session to durable storage, and once
// more when ctx is cancelled.
//
// Returns nil on context cancellation (graceful shutdown), or an error if checkpoint writes
// fail after all retries.
func Start(
	ctx context.Context,
	sessions *rotation.Sessions,
	checkpointer Checkpointer,
	cfg Config,
) error {
	t := time.NewTicker(cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			// final write on a context that outlives the cancelled one
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.WriteTimeout*time.Duration(cfg.MaxRetries+1))
			defer cancel()
			_ = writeAll(final, sessions, checkpointer, cfg)
			return nil

		case <-t.C:
			if err := writeAll(ctx, sessions, checkpointer, cfg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func writeAll(ctx context.Context, sessions *rotation.Sessions, checkpointer Checkpointer, cfg Config) error {
	snapshots := make(map[string]map[string]int)
	sessions.Each(func(id string, r *rotation.Rotator) {
		if snap := r.Cursors().Snapshot(); len(snap) > 0 {
			snapshots[id] = snap
		}
	})

	for id, cursors := range snapshots {
		if err := writeWithRetry(ctx, checkpointer, cfg, id, cursors); err != nil {
			return err
		}
	}
	return nil
}

func writeWithRetry(
	ctx context.Context,
	checkpointer Checkpointer,
	cfg Config,
	sessionID string,
	cursors map[string]int,
) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
		lastErr = checkpointer.Write(writeCtx, sessionID, cursors)
		cancel()

		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Don't sleep after the last attempt
		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(cfg.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("failed to write checkpoint (session: %s, series: %d) after %d retries: %w",
		sessionID, len(cursors), cfg.MaxRetries+1, lastErr)
}

// Restore seeds the cursors of r from the latest checkpoint of sessionID. It reports whether a
// checkpoint was found.
func Restore(ctx context.Context, r *rotation.Rotator, checkpointer Checkpointer, sessionID string) (bool, error) {
	cursors, exists, err := checkpointer.Read(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to read checkpoint (session: %s): %w", sessionID, err)
	}
	if !exists {
		return false, nil
	}
	if err := r.Cursors().Restore(cursors); err != nil {
		return false, fmt.Errorf("invalid checkpoint (session: %s): %w", sessionID, err)
	}
	return true, nil
}
