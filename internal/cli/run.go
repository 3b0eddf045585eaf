package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ternarybob/narro/internal/backends"
	"github.com/ternarybob/narro/internal/common"
	"github.com/ternarybob/narro/internal/journal"
	"github.com/ternarybob/narro/internal/models"
	"github.com/ternarybob/narro/internal/pipeline"
	"github.com/ternarybob/narro/internal/retry"
	"github.com/ternarybob/narro/internal/scanner"
)

func newRunCmd() *cobra.Command {
	var (
		backendName  string
		model        string
		photosDir    string
		journalPath  string
		prompt       string
		concurrency  int
		batchCeiling int
		limit        int
		retryStatus  string
		force        bool
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Caption pending photos and journal each outcome",
		Long: `Caption pending photos and journal each outcome.

Pending work is derived from journal replay: items with no record, items
whose latest status matches the retry filter, and everything under
--force. The run exits 0 when nothing is left, 2 when a batch ceiling or
interrupt left resumable work behind, and 1 on fatal errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}

			// CLI flags override config (highest priority).
			if cmd.Flags().Changed("backend") {
				config.Backend.Name = backendName
			}
			if cmd.Flags().Changed("model") {
				config.Backend.Model = model
			}
			if cmd.Flags().Changed("photos-dir") {
				config.Photos.Dir = photosDir
			}
			if cmd.Flags().Changed("journal") {
				config.Journal.Path = journalPath
			}
			if cmd.Flags().Changed("prompt") {
				config.Backend.Prompt = prompt
			}
			if cmd.Flags().Changed("concurrency") {
				config.Pipeline.Concurrency = concurrency
			}
			if cmd.Flags().Changed("batch-ceiling") {
				config.Pipeline.BatchCeiling = batchCeiling
			}
			if cmd.Flags().Changed("limit") {
				config.Pipeline.Limit = limit
			}

			if err := config.Validate(); err != nil {
				return err
			}

			logger := common.InitLogger(config)
			common.PrintBanner(common.GetVersion())

			runID := common.NewRunID()
			logger.Info().
				Str("run_id", runID).
				Str("backend", config.Backend.Name).
				Str("model", config.Backend.Model).
				Msg("Starting caption run")

			// Dry runs validate images with the mock backend; no API
			// credentials are needed and none are consumed.
			backendConfig := config.Backend
			if dryRun {
				backendConfig.Name = "mock"
				backendConfig.Model = "dry-run"
			}
			backend, err := backends.New(&backendConfig, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			retryStatuses := models.NewStatusSet(models.StatusErrorBackendTransient)
			if cmd.Flags().Changed("retry-status") {
				retryStatuses, err = models.ParseStatusSet(retryStatus)
				if err != nil {
					return fmt.Errorf("invalid --retry-status: %w", err)
				}
			}

			jrnl := journal.New(config.Journal.Path, logger)
			defer jrnl.Close()

			policy := retry.NewDefaultPolicy()
			policy.MaxAttempts = config.Retry.MaxAttempts
			policy.InitialBackoff = config.Retry.InitialBackoffDuration()
			policy.MaxBackoff = config.Retry.MaxBackoffDuration()
			policy.BackoffMultiplier = config.Retry.BackoffMultiplier

			scheduler := pipeline.NewScheduler(
				jrnl,
				scanner.New(config.Photos.Dir, config.Photos.Extensions),
				backend,
				policy,
				logger,
			)

			// An operator interrupt drains in-flight items and exits
			// resumably; a second interrupt kills the process.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := scheduler.Run(ctx, pipeline.Options{
				Concurrency:   config.Pipeline.Concurrency,
				BatchCeiling:  config.Pipeline.BatchCeiling,
				Limit:         config.Pipeline.Limit,
				RetryStatuses: retryStatuses,
				Force:         force,
				DryRun:        dryRun,
				MaxFileSize:   config.Photos.MaxFileSize,
			})
			if err != nil {
				return err
			}

			if result.Outcome == pipeline.OutcomeBatchBoundary {
				exitCode = ExitBatchBoundary
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backendName, "backend", "mock", "backend name: mock, anthropic, gemini, openai, xai")
	cmd.Flags().StringVar(&model, "model", "", "model identifier for the backend")
	cmd.Flags().StringVar(&photosDir, "photos-dir", "", "path to photo library root")
	cmd.Flags().StringVar(&journalPath, "journal", "", "captions journal file")
	cmd.Flags().StringVar(&prompt, "prompt", "", "caption prompt")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent workers (keep low for local backends, 8+ for APIs)")
	cmd.Flags().IntVar(&batchCeiling, "batch-ceiling", 0, "exit resumably (code 2) after N photos (0 = disabled)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max photos to process (0 = unlimited)")
	cmd.Flags().StringVar(&retryStatus, "retry-status", "", "statuses to retry, e.g. error_backend_transient,error_decode (empty pins all failures)")
	cmd.Flags().BoolVar(&force, "force", false, "truncate the journal and reprocess everything")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate images without captioning or journal writes")

	return cmd
}
