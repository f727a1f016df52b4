package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ame2e/mlsgov/internal/config"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the long-lived session a single REPL process drives every other subcommand against",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClientConfig(flagConfigPath)
	if err != nil {
		return err
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(verbosity()).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("cli: start session: %w", err)
	}
	current = a
	defer func() {
		a.persistRoster()
		a.Close()
		current = nil
	}()

	fmt.Printf("mlsgov-client session started as %q (as=%s ds=%s)\n", cfg.Identity, cfg.ASEndpoint, cfg.DSEndpoint)
	fmt.Println("type a subcommand per line (e.g. 'create mycomm/general My Group'), 'exit' to quit")

	done := make(chan struct{})
	go func() {
		defer close(done)
		replLoop(os.Stdin)
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\nshutting down")
	case <-done:
	}
	return nil
}

// replLoop tokenizes each line as a subcommand invocation and re-enters
// the same cobra command tree Execute uses, so every one-shot subcommand
// works unmodified whether it is invoked from a shell or from inside the
// daemon's session.
func replLoop(in *os.File) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		tokens := strings.Fields(line)
		rootCmd.SetArgs(tokens)
		if err := rootCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
