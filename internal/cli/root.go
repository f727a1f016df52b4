package cli

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagConfigPath  string
	flagVerbose     int
	flagJSON        bool
	flagNoSync      bool
	flagSkipStore   bool
	flagFreshStart  bool
	flagAutoRetry   bool
	flagMaxDelay    time.Duration
	flagWindowSize  int
)

var rootCmd = &cobra.Command{
	Use:   "mlsgov-client",
	Short: "End-to-end encrypted group messaging over MLS with pluggable governance",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "config.yaml", "path to the client config.yaml")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity (0..2)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVar(&flagNoSync, "no-sync", false, "make the sync command a no-op")
	rootCmd.PersistentFlags().BoolVar(&flagSkipStore, "skip-store", false, "do not write the roster cache to disk on shutdown")
	rootCmd.PersistentFlags().BoolVar(&flagFreshStart, "fresh-start", false, "ignore the persisted roster cache and start with an empty verify-key cache")
	rootCmd.PersistentFlags().BoolVar(&flagAutoRetry, "auto-retry", false, "automatically retry an ordered send that races and loses, up to the configured retry budget")
	rootCmd.PersistentFlags().DurationVar(&flagMaxDelay, "max-delay", 2*time.Second, "upper bound on the backoff between automatic retries")
	rootCmd.PersistentFlags().IntVar(&flagWindowSize, "window-size", 20, "default number of history entries a bare 'read' prints")
}

func verbosity() zerolog.Level {
	switch {
	case flagVerbose >= 2:
		return zerolog.TraceLevel
	case flagVerbose == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// Execute runs the root command once; the daemon subcommand re-enters
// this same command tree once per REPL line by calling rootCmd.Execute
// again against freshly tokenized args.
func Execute() error {
	return rootCmd.Execute()
}
