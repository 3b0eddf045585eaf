// Package cli provides the cobra command tree for narro.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ternarybob/narro/internal/common"
)

// Exit codes. A batch-boundary exit tells an external supervisor loop
// "more pending work remains, re-invoke me"; a fatal exit tells it
// something is broken and retrying will not help.
const (
	ExitComplete      = 0
	ExitFatal         = 1
	ExitBatchBoundary = 2
)

// globalOpts holds options parsed before subcommand dispatch.
type globalOpts struct {
	ConfigFiles []string
	LogLevel    string
}

var opts globalOpts

// exitCode is set by subcommands that finish without error; Execute
// returns it to main.
var exitCode = ExitComplete

// NewRootCmd creates the root cobra command for narro.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "narro",
		Short: "Resumable photo captioning with pluggable backends",
		Long: `narro - resumable photo captioning with pluggable backends

Narro walks a photo library, captions each image through a configurable
backend (mock, anthropic, gemini, openai, xai), and journals every
outcome to an append-only JSONL file. Interrupted runs resume from the
journal without redoing completed work.`,
		Version:       common.GetFullVersion(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringArrayVarP(&opts.ConfigFiles, "config", "c", nil,
		"configuration file path (can be specified multiple times, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "",
		"log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(
		newRunCmd(),
		newStatsCmd(),
		newEstimateCmd(),
	)
	return rootCmd
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFatal
	}
	return exitCode
}

// loadConfig loads configuration with the teacher precedence: defaults,
// then config file(s), then environment, then CLI flags. narro.toml in
// the working directory is auto-discovered when no file is given.
func loadConfig() (*common.Config, error) {
	paths := opts.ConfigFiles
	if len(paths) == 0 {
		if _, err := os.Stat("narro.toml"); err == nil {
			paths = []string{"narro.toml"}
		}
	}

	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}
	return config, nil
}
