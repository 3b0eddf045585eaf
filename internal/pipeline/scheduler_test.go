package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/narro/internal/backends"
	"github.com/ternarybob/narro/internal/common"
	"github.com/ternarybob/narro/internal/journal"
	"github.com/ternarybob/narro/internal/models"
	"github.com/ternarybob/narro/internal/retry"
	"github.com/ternarybob/narro/internal/scanner"
)

// testEnv bundles the collaborators for one scheduler test run.
type testEnv struct {
	photosDir string
	journal   *journal.Journal
	backend   *backends.MockBackend
	scheduler *Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := common.GetLogger()
	photosDir := t.TempDir()
	jrnl := journal.New(filepath.Join(t.TempDir(), "journal.jsonl"), logger)
	t.Cleanup(func() { jrnl.Close() })

	backend := backends.NewMockBackend("test-model")
	policy := &retry.Policy{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	s := NewScheduler(jrnl, scanner.New(photosDir, []string{".jpg"}), backend, policy, logger)
	// No real image fixtures in these tests; decoding is stubbed out.
	s.decode = func(path string) (*scanner.DecodedImage, error) {
		return &scanner.DecodedImage{Data: []byte("fake"), MimeType: "image/jpeg"}, nil
	}
	return &testEnv{photosDir: photosDir, journal: jrnl, backend: backend, scheduler: s}
}

// addPhotos drops n single-byte files into the photo dir, named
// photo_00.jpg and up so scan order is predictable.
func (e *testEnv) addPhotos(t *testing.T, n int) []string {
	t.Helper()
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("photo_%02d.jpg", i)
		if err := os.WriteFile(filepath.Join(e.photosDir, name), []byte{0xff}, 0644); err != nil {
			t.Fatal(err)
		}
		keys = append(keys, name)
	}
	return keys
}

func (e *testEnv) replay(t *testing.T) journal.LatestMap {
	t.Helper()
	latest, err := e.journal.Replay()
	require.NoError(t, err)
	return latest
}

func defaultOpts() Options {
	return Options{
		Concurrency:   2,
		RetryStatuses: models.NewStatusSet(models.StatusErrorBackendTransient),
	}
}

func TestRunAllSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.addPhotos(t, 3)

	result, err := env.scheduler.Run(context.Background(), defaultOpts())
	require.NoError(t, err)

	assert.Equal(t, OutcomeComplete, result.Outcome)
	assert.Equal(t, 3, result.Enumerated)
	assert.Equal(t, 3, result.Pending)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, 3, result.StatusCounts[models.StatusSuccess])

	latest := env.replay(t)
	require.Len(t, latest, 3)
	for key, rec := range latest {
		assert.Equal(t, models.StatusSuccess, rec.Status, key)
		assert.Equal(t, "a mock caption for test-model", rec.Result)
		assert.Equal(t, "mock/test-model", rec.BackendIdentity)
		assert.Equal(t, 1, rec.AttemptCount)
	}
}

func TestRunResumeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.addPhotos(t, 3)

	_, err := env.scheduler.Run(context.Background(), defaultOpts())
	require.NoError(t, err)
	callsAfterFirst := env.backend.Calls()

	result, err := env.scheduler.Run(context.Background(), defaultOpts())
	require.NoError(t, err)

	assert.Equal(t, OutcomeComplete, result.Outcome)
	assert.Equal(t, 0, result.Pending)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, callsAfterFirst, env.backend.Calls(), "resume must not re-invoke the backend")
}

func TestBatchCeilingProcessesExactly(t *testing.T) {
	env := newTestEnv(t)
	env.addPhotos(t, 5)

	opts := defaultOpts()
	opts.Concurrency = 3
	opts.BatchCeiling = 2

	result, err := env.scheduler.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, OutcomeBatchBoundary, result.Outcome)
	assert.Equal(t, 5, result.Pending)
	assert.Equal(t, 2, result.Processed, "ceiling must be exact even with spare workers")
	assert.Equal(t, 3, result.Remaining)
	assert.Equal(t, 2, env.backend.Calls())
	require.Len(t, env.replay(t), 2)

	// Re-invoking without a ceiling drains the rest.
	result, err = env.scheduler.Run(context.Background(), defaultOpts())
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, result.Outcome)
	assert.Equal(t, 3, result.Processed)
	require.Len(t, env.replay(t), 5)
}

func TestResumeOnlyRetriesTransient(t *testing.T) {
	env := newTestEnv(t)
	keys := env.addPhotos(t, 3)

	seed := []models.Record{
		{ItemKey: keys[0], Status: models.StatusSuccess, Result: "done"},
		{ItemKey: keys[1], Status: models.StatusErrorBackendTransient, ErrorDetail: "flaky"},
		{ItemKey: keys[2], Status: models.StatusErrorBackendPermanent, ErrorDetail: "bad key"},
	}
	for _, rec := range seed {
		require.NoError(t, env.journal.Append(rec))
	}

	result, err := env.scheduler.Run(context.Background(), defaultOpts())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pending)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, env.backend.Calls())

	latest := env.replay(t)
	assert.Equal(t, models.StatusSuccess, latest[keys[0]].Status)
	assert.Equal(t, models.StatusSuccess, latest[keys[1]].Status, "transient failure must be retried")
	assert.Equal(t, models.StatusErrorBackendPermanent, latest[keys[2]].Status, "permanent failure must stay")
}

func TestRetryStatusOverride(t *testing.T) {
	env := newTestEnv(t)
	keys := env.addPhotos(t, 2)

	require.NoError(t, env.journal.Append(models.Record{ItemKey: keys[0], Status: models.StatusErrorBackendPermanent, ErrorDetail: "bad key"}))
	require.NoError(t, env.journal.Append(models.Record{ItemKey: keys[1], Status: models.StatusSuccess, Result: "done"}))

	opts := defaultOpts()
	opts.RetryStatuses = models.NewStatusSet(models.StatusErrorBackendPermanent)

	result, err := env.scheduler.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, models.StatusSuccess, env.replay(t)[keys[0]].Status)
}

func TestDryRunHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	env.addPhotos(t, 3)

	opts := defaultOpts()
	opts.DryRun = true

	result, err := env.scheduler.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, OutcomeComplete, result.Outcome)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, env.backend.Calls(), "dry run must not invoke the backend")
	assert.Empty(t, env.replay(t), "dry run must not write the journal")
}

func TestForceReprocessesEverything(t *testing.T) {
	env := newTestEnv(t)
	env.addPhotos(t, 3)

	_, err := env.scheduler.Run(context.Background(), defaultOpts())
	require.NoError(t, err)

	opts := defaultOpts()
	opts.Force = true
	result, err := env.scheduler.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Pending)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 6, env.backend.Calls())
	require.Len(t, env.replay(t), 3, "truncate must discard the prior run's records")
}

func TestPermanentFailureNotRetried(t *testing.T) {
	env := newTestEnv(t)
	keys := env.addPhotos(t, 1)
	env.backend.QueueFailure(backends.NewBackendError("mock", backends.FailureAuth, errors.New("invalid api key")))

	result, err := env.scheduler.Run(context.Background(), defaultOpts())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, env.backend.Calls(), "a permanent failure must not be re-attempted")
	assert.Equal(t, 1, result.StatusCounts[models.StatusErrorBackendPermanent])

	rec := env.replay(t)[keys[0]]
	assert.Equal(t, models.StatusErrorBackendPermanent, rec.Status)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Contains(t, rec.ErrorDetail, "invalid api key")
}

func TestTransientExhaustedAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	keys := env.addPhotos(t, 1)
	rateLimited := backends.NewBackendError("mock", backends.FailureRateLimit, errors.New("429 too many requests"))
	env.backend.QueueFailure(rateLimited, rateLimited, rateLimited, rateLimited)

	result, err := env.scheduler.Run(context.Background(), defaultOpts())
	require.NoError(t, err)

	assert.Equal(t, 3, env.backend.Calls(), "attempt budget is MaxAttempts, first try included")
	assert.Equal(t, 1, result.StatusCounts[models.StatusErrorBackendTransient])

	rec := env.replay(t)[keys[0]]
	assert.Equal(t, models.StatusErrorBackendTransient, rec.Status)
	assert.Equal(t, 3, rec.AttemptCount)
}

func TestTransientThenSuccess(t *testing.T) {
	env := newTestEnv(t)
	keys := env.addPhotos(t, 1)
	env.backend.QueueFailure(
		backends.NewBackendError("mock", backends.FailureNetwork, errors.New("connection reset")),
		backends.NewBackendError("mock", backends.FailureTimeout, errors.New("deadline exceeded")),
	)

	result, err := env.scheduler.Run(context.Background(), defaultOpts())
	require.NoError(t, err)

	assert.Equal(t, 1, result.StatusCounts[models.StatusSuccess])

	rec := env.replay(t)[keys[0]]
	assert.Equal(t, models.StatusSuccess, rec.Status)
	assert.Equal(t, 3, rec.AttemptCount)
}

func TestDecodeFailureRecorded(t *testing.T) {
	env := newTestEnv(t)
	keys := env.addPhotos(t, 2)
	badKey := keys[0]
	env.scheduler.decode = func(path string) (*scanner.DecodedImage, error) {
		if filepath.Base(path) == badKey {
			return nil, &backends.DecodeError{Path: path, Err: errors.New("truncated file")}
		}
		return &scanner.DecodedImage{Data: []byte("fake"), MimeType: "image/jpeg"}, nil
	}

	result, err := env.scheduler.Run(context.Background(), defaultOpts())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, env.backend.Calls(), "undecodable items must not reach the backend")
	assert.Equal(t, 1, result.StatusCounts[models.StatusErrorDecode])

	latest := env.replay(t)
	assert.Equal(t, models.StatusErrorDecode, latest[badKey].Status)
	assert.Contains(t, latest[badKey].ErrorDetail, "truncated file")
	assert.Equal(t, models.StatusSuccess, latest[keys[1]].Status)
}

func TestOversizedFileSkipped(t *testing.T) {
	env := newTestEnv(t)
	keys := env.addPhotos(t, 1)
	big := "zzz_big.jpg"
	require.NoError(t, os.WriteFile(filepath.Join(env.photosDir, big), make([]byte, 100), 0644))

	opts := defaultOpts()
	opts.MaxFileSize = 10

	result, err := env.scheduler.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, env.backend.Calls())
	assert.Equal(t, 1, result.StatusCounts[models.StatusSkipped])

	latest := env.replay(t)
	assert.Equal(t, models.StatusSkipped, latest[big].Status)
	assert.Contains(t, latest[big].ErrorDetail, "exceeds cap")
	assert.Equal(t, models.StatusSuccess, latest[keys[0]].Status)

	// Skipped is terminal: the next run leaves it alone.
	result, err = env.scheduler.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pending)
}

func TestLimitCapsThePendingSet(t *testing.T) {
	env := newTestEnv(t)
	env.addPhotos(t, 5)

	opts := defaultOpts()
	opts.Limit = 2

	result, err := env.scheduler.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, OutcomeBatchBoundary, result.Outcome)
	assert.Equal(t, 5, result.Pending)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 3, result.Remaining)
}

func TestCancelledContextLeavesItemsPending(t *testing.T) {
	env := newTestEnv(t)
	env.addPhotos(t, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.scheduler.Run(ctx, defaultOpts())
	require.NoError(t, err)

	assert.Equal(t, OutcomeBatchBoundary, result.Outcome)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 4, result.Remaining)
	assert.Empty(t, env.replay(t), "aborted items must not leave records")
}

func TestConcurrencyMustBePositive(t *testing.T) {
	env := newTestEnv(t)
	opts := defaultOpts()
	opts.Concurrency = 0
	_, err := env.scheduler.Run(context.Background(), opts)
	assert.Error(t, err)
}

func TestJournalAppendFailureIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.addPhotos(t, 2)

	// Point the journal at a path whose parent does not exist so the
	// first append fails.
	broken := journal.New(filepath.Join(t.TempDir(), "missing", "deep", "journal.jsonl"), common.GetLogger())
	env.scheduler.journal = broken

	_, err := env.scheduler.Run(context.Background(), defaultOpts())
	assert.Error(t, err)
}
