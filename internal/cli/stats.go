package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/narro/internal/common"
	"github.com/ternarybob/narro/internal/journal"
)

func newStatsCmd() *cobra.Command {
	var journalPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print per-status counts from the caption journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("journal") {
				config.Journal.Path = journalPath
			}

			jrnl := journal.New(config.Journal.Path, common.GetLogger())
			latest, err := jrnl.Replay()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(latest) == 0 {
				fmt.Fprintln(out, "No records found.")
				return nil
			}

			counts := latest.StatusCounts()
			fmt.Fprintf(out, "Total records: %d\n", len(latest))
			for _, status := range latest.SortedStatuses() {
				fmt.Fprintf(out, "  %s: %d\n", status, counts[status])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "", "captions journal file")
	return cmd
}
