// marketplace-admin runs operator tasks against the marketplace database:
// schema migrations, catalog imports, and recovery of cancellation sweeps
// and refund intents.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"ms-marketplace/internal/config"
	"ms-marketplace/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.NewLoggerWithWriter(os.Stderr)
	if err := run(ctx, os.Args[1:], config.Load(), os.Stdout, log); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = map[string]command{
	"migrate":             {"apply (or with --down, roll back) the schema", runMigrate},
	"import-catalog":      {"load events and ticket types from a YAML file", runImportCatalog},
	"resume-sweeps":       {"finish cancellation sweeps that were interrupted", runResumeSweeps},
	"relay-outbox":        {"publish refund intents that never reached Kafka", runRelayOutbox},
	"replay-dead-letters": {"requeue refund intents that failed every attempt", runReplayDeadLetters},
	"cancel-event":        {"cancel an event and refund its orders", runCancelEvent},
	"stats":               {"print check-in and sales figures of an event", runStats},
}

var commandOrder = []string{"migrate", "import-catalog", "resume-sweeps", "relay-outbox", "replay-dead-letters", "cancel-event", "stats"}

func run(ctx context.Context, args []string, cfg *config.Config, stdout io.Writer, log *logger.Logger) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stdout)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
	env := &environment{cfg: cfg, log: log, stdout: stdout}
	defer env.close()
	return cmd.run(ctx, env, args[1:])
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: marketplace-admin <command> [flags]\n\nCommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-21s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "\nRun \"marketplace-admin <command> --help\" for the flags of a command.\n")
}

// parseFlags parses a subcommand's flags. It reports done when --help was
// requested and usage has been printed.
func parseFlags(flagSet *pflag.FlagSet, args []string, stdout io.Writer) (done bool, err error) {
	flagSet.SetOutput(stdout)
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return true, nil
		}
		return false, err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return false, fmt.Errorf("unexpected argument: %s", extra[0])
	}
	return false, nil
}
