// Package pipeline contains the work scheduler: it derives the pending
// set from journal replay, dispatches items across a bounded worker
// pool, routes failures through the retry policy, and appends exactly
// one terminal record per completed item.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/backends"
	"github.com/ternarybob/narro/internal/journal"
	"github.com/ternarybob/narro/internal/models"
	"github.com/ternarybob/narro/internal/retry"
	"github.com/ternarybob/narro/internal/scanner"
)

// Outcome distinguishes how a run ended so an external supervisor can
// tell "restart me" from "all done".
type Outcome int

const (
	// OutcomeComplete means every enumerated item has a terminal,
	// non-retryable status. Nothing left to do.
	OutcomeComplete Outcome = iota
	// OutcomeBatchBoundary means pending work remains and re-invoking
	// the run will resume it. Returned after a batch ceiling exit or a
	// cooperative interrupt.
	OutcomeBatchBoundary
)

// Options are the per-run knobs. The zero value of a field means
// "unbounded" where a bound would apply.
type Options struct {
	// Concurrency is the worker pool size. Must be >= 1.
	Concurrency int
	// BatchCeiling caps items completed this run; the scheduler stops
	// dispatching once reached and exits resumably. 0 = no ceiling.
	BatchCeiling int
	// Limit caps the pending set the way an operator would for a trial
	// slice of a large library. 0 = unlimited.
	Limit int
	// RetryStatuses marks which prior failure statuses count as pending
	// again this run.
	RetryStatuses models.StatusSet
	// Force truncates the journal first and reprocesses everything.
	Force bool
	// DryRun enumerates and decodes but never invokes the backend and
	// never writes the journal.
	DryRun bool
	// MaxFileSize journals oversized items as skipped without invoking
	// the backend. 0 = no cap.
	MaxFileSize int64
}

// Result summarizes one run.
type Result struct {
	Outcome Outcome
	// Enumerated is the full library size this run.
	Enumerated int
	// Pending is how many items needed work when the run started.
	Pending int
	// Processed is how many items reached a terminal record this run
	// (or passed validation, in dry-run).
	Processed int
	// Remaining is how many pending items are left for a future run.
	Remaining int
	// StatusCounts tallies the terminal statuses written this run.
	StatusCounts map[models.Status]int
}

// Scheduler wires the journal, scanner, backend, and retry policy into
// a resumable run loop.
type Scheduler struct {
	journal *journal.Journal
	scanner *scanner.Scanner
	backend backends.CaptionBackend
	policy  *retry.Policy
	logger  arbor.ILogger

	// decode is swappable so scheduler tests can run without image
	// fixtures.
	decode func(path string) (*scanner.DecodedImage, error)
}

// NewScheduler creates a scheduler over the given collaborators.
func NewScheduler(jrnl *journal.Journal, scan *scanner.Scanner, backend backends.CaptionBackend, policy *retry.Policy, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		journal: jrnl,
		scanner: scan,
		backend: backend,
		policy:  policy,
		logger:  logger,
		decode:  scanner.Decode,
	}
}

// Run executes one scheduling pass. Per-item failures never abort the
// run; only journal I/O failures and a cancelled context surface as
// errors from the pool, and only journal I/O is fatal.
func (s *Scheduler) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", opts.Concurrency)
	}

	if opts.Force && !opts.DryRun {
		s.logger.Info().Msg("Full reset requested: truncating journal")
		if err := s.journal.Truncate(); err != nil {
			return nil, err
		}
	}

	latest, err := s.journal.Replay()
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		s.logger.Info().Msg(latest.Summary())
	}

	items, err := s.scanner.Scan()
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("total", len(items)).Msg("Enumerated photo library")

	pending := pendingSet(items, latest, opts.RetryStatuses)
	pendingTotal := len(pending)
	if opts.Limit > 0 && len(pending) > opts.Limit {
		pending = pending[:opts.Limit]
	}

	toDispatch := pending
	if opts.BatchCeiling > 0 && len(toDispatch) > opts.BatchCeiling {
		toDispatch = toDispatch[:opts.BatchCeiling]
	}
	s.logger.Info().
		Int("pending", pendingTotal).
		Int("dispatching", len(toDispatch)).
		Bool("dry_run", opts.DryRun).
		Msg("Computed pending work")

	result := &Result{
		Enumerated:   len(items),
		Pending:      pendingTotal,
		StatusCounts: make(map[models.Status]int),
	}

	if len(toDispatch) == 0 {
		result.Outcome = OutcomeComplete
		s.logger.Info().Msg("Nothing to do")
		return result, nil
	}

	if err := s.runPool(ctx, toDispatch, opts, result); err != nil {
		return nil, err
	}

	result.Remaining = pendingTotal - result.Processed
	if result.Remaining > 0 && !opts.DryRun {
		result.Outcome = OutcomeBatchBoundary
		s.logger.Info().
			Int("processed", result.Processed).
			Int("remaining", result.Remaining).
			Msg("Batch boundary reached; re-invoke to resume")
	} else {
		result.Outcome = OutcomeComplete
		s.logger.Info().Int("processed", result.Processed).Msg("Run complete")
	}
	return result, nil
}

// pendingSet filters enumerated items against the replayed journal.
// Pending = no record yet, or latest status in the retry set.
func pendingSet(items []models.Item, latest journal.LatestMap, retryStatuses models.StatusSet) []models.Item {
	var pending []models.Item
	for _, item := range items {
		rec, ok := latest[item.Key]
		if !ok || retryStatuses.Contains(rec.Status) {
			pending = append(pending, item)
		}
	}
	return pending
}

// runPool dispatches items to a bounded pool of workers. Each item is
// delivered to exactly one worker, so no two workers ever hold the same
// key in flight.
func (s *Scheduler) runPool(ctx context.Context, items []models.Item, opts Options, result *Result) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dispatch := make(chan models.Item)
	go func() {
		defer close(dispatch)
		for _, item := range items {
			select {
			case dispatch <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)

	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for item := range dispatch {
				status, processed, err := s.processItem(ctx, workerID, item, opts)
				if err != nil {
					// Journal I/O failure: stop the whole run.
					mu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					mu.Unlock()
					cancel()
					return
				}
				if processed {
					mu.Lock()
					result.Processed++
					if !opts.DryRun {
						result.StatusCounts[status]++
					}
					mu.Unlock()
				}
				if ctx.Err() != nil {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	return fatalErr
}
