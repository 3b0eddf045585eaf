package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/narro/internal/common"
	"github.com/ternarybob/narro/internal/journal"
	"github.com/ternarybob/narro/internal/pricing"
	"github.com/ternarybob/narro/internal/scanner"
)

func newEstimateCmd() *cobra.Command {
	var (
		backendName string
		model       string
		photosDir   string
		journalPath string
		workers     int
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate time and cost without running inference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("photos-dir") {
				config.Photos.Dir = photosDir
			}
			if cmd.Flags().Changed("journal") {
				config.Journal.Path = journalPath
			}
			if config.Photos.Dir == "" {
				return fmt.Errorf("photo library not configured (set photos.dir or --photos-dir)")
			}

			items, err := scanner.New(config.Photos.Dir, config.Photos.Extensions).Scan()
			if err != nil {
				return err
			}

			jrnl := journal.New(config.Journal.Path, common.GetLogger())
			latest, err := jrnl.Replay()
			if err != nil {
				return err
			}

			done := 0
			for _, item := range items {
				if _, ok := latest[item.Key]; ok {
					done++
				}
			}
			remaining := len(items) - done

			est := pricing.ForRun(model, remaining, workers)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Photos remaining:  %d / %d (%d already done)\n", remaining, len(items), done)
			fmt.Fprintf(out, "Backend:           %s / %s\n", backendName, model)
			fmt.Fprintf(out, "Estimated cost:    ~$%.2f (input) + ~$%.2f (output) = ~$%.2f\n",
				est.InputCost, est.OutputCost, est.TotalCost)
			fmt.Fprintf(out, "Estimated time:    ~%.0f min at %d workers\n", est.Duration.Minutes(), workers)
			return nil
		},
	}

	cmd.Flags().StringVar(&backendName, "backend", "openai", "backend name for cost estimation")
	cmd.Flags().StringVar(&model, "model", "gpt-4o-mini", "model identifier")
	cmd.Flags().StringVar(&photosDir, "photos-dir", "", "path to photo library root")
	cmd.Flags().StringVar(&journalPath, "journal", "", "captions journal file")
	cmd.Flags().IntVar(&workers, "workers", 8, "assumed concurrent workers for the time estimate")
	return cmd
}
