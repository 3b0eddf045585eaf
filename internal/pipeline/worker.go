package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/narro/internal/backends"
	"github.com/ternarybob/narro/internal/models"
	"github.com/ternarybob/narro/internal/retry"
)

// processItem drives one item to its terminal state: size gate, decode,
// then the caption/classify/backoff loop. It appends exactly one journal
// record on a terminal outcome. A cancelled context aborts the item
// without a record, leaving it pending for the next run — no partial
// progress within an attempt is ever persisted.
//
// The returned error is fatal (journal I/O); per-item failures are
// contained in the record. processed is false when the item was aborted
// by cancellation.
func (s *Scheduler) processItem(ctx context.Context, workerID int, item models.Item, opts Options) (models.Status, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, nil
	}

	if opts.MaxFileSize > 0 && item.Size > opts.MaxFileSize {
		s.logger.Warn().
			Int("worker_id", workerID).
			Str("item", item.Key).
			Int64("size", item.Size).
			Msg("File size over cap, skipping")
		return s.finish(item, opts, models.Record{
			ItemKey:         item.Key,
			Status:          models.StatusSkipped,
			ErrorDetail:     fmt.Sprintf("file size %d exceeds cap %d", item.Size, opts.MaxFileSize),
			BackendIdentity: s.backend.Identity(),
		})
	}

	decoded, err := s.decode(item.Path)
	if err != nil {
		var decodeErr *backends.DecodeError
		if errors.As(err, &decodeErr) {
			s.logger.Warn().
				Int("worker_id", workerID).
				Str("item", item.Key).
				Err(err).
				Msg("Decode failed")
			return s.finish(item, opts, models.Record{
				ItemKey:         item.Key,
				Status:          models.StatusErrorDecode,
				ErrorDetail:     err.Error(),
				BackendIdentity: s.backend.Identity(),
				AttemptCount:    1,
			})
		}
		// Treat unexpected decode-path failures the same way; the item
		// is the problem, not the run.
		return s.finish(item, opts, models.Record{
			ItemKey:         item.Key,
			Status:          models.StatusErrorDecode,
			ErrorDetail:     err.Error(),
			BackendIdentity: s.backend.Identity(),
			AttemptCount:    1,
		})
	}

	if opts.DryRun {
		s.logger.Debug().
			Int("worker_id", workerID).
			Str("item", item.Key).
			Msg("Dry run: validated")
		return "", true, nil
	}

	return s.caption(ctx, workerID, item, decoded.Data, decoded.MimeType, opts)
}

// caption runs the attempt loop: invoke the backend, classify failures,
// wait out the backoff, and re-attempt until success, a permanent
// failure, or an exhausted attempt budget.
func (s *Scheduler) caption(ctx context.Context, workerID int, item models.Item, data []byte, mimeType string, opts Options) (models.Status, bool, error) {
	attempts := 0
	for {
		attempts++

		caption, err := s.backend.Caption(ctx, data, mimeType)
		if err == nil {
			s.logger.Info().
				Int("worker_id", workerID).
				Str("item", item.Key).
				Int("attempts", attempts).
				Msg("Captioned")
			return s.finish(item, opts, models.Record{
				ItemKey:         item.Key,
				Status:          models.StatusSuccess,
				Result:          caption,
				BackendIdentity: s.backend.Identity(),
				AttemptCount:    attempts,
			})
		}

		if ctx.Err() != nil {
			// Interrupted mid-attempt: abort cleanly, no record.
			return "", false, nil
		}

		if s.policy.Classify(err) == retry.Permanent {
			s.logger.Warn().
				Int("worker_id", workerID).
				Str("item", item.Key).
				Err(err).
				Msg("Permanent backend failure")
			return s.finish(item, opts, models.Record{
				ItemKey:         item.Key,
				Status:          models.StatusErrorBackendPermanent,
				ErrorDetail:     err.Error(),
				BackendIdentity: s.backend.Identity(),
				AttemptCount:    attempts,
			})
		}

		if s.policy.Exhausted(attempts) {
			s.logger.Warn().
				Int("worker_id", workerID).
				Str("item", item.Key).
				Int("attempts", attempts).
				Err(err).
				Msg("Retries exhausted")
			return s.finish(item, opts, models.Record{
				ItemKey:         item.Key,
				Status:          models.StatusErrorBackendTransient,
				ErrorDetail:     err.Error(),
				BackendIdentity: s.backend.Identity(),
				AttemptCount:    attempts,
			})
		}

		backoff := s.policy.Backoff(attempts-1, err)
		s.logger.Debug().
			Int("worker_id", workerID).
			Str("item", item.Key).
			Int("attempt", attempts).
			Dur("backoff", backoff).
			Err(err).
			Msg("Transient backend failure, retrying")

		select {
		case <-ctx.Done():
			return "", false, nil
		case <-time.After(backoff):
		}
	}
}

// finish appends the terminal record. Append failures (disk full, bad
// journal path) are the one per-item error class that must abort the
// run: continuing would silently lose outcomes.
func (s *Scheduler) finish(item models.Item, opts Options, rec models.Record) (models.Status, bool, error) {
	if opts.DryRun {
		return rec.Status, true, nil
	}
	if err := s.journal.Append(rec); err != nil {
		return "", false, fmt.Errorf("journal append for %s: %w", item.Key, err)
	}
	return rec.Status, true, nil
}
