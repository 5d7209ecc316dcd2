package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/except-pass/telltale/internal/util"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/logger/console"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

// errSurprises makes truth-table exit with status 1 once its report has
// been written.
var errSurprises = errors.New("truth table has surprises")

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and maps its outcome to an exit status:
// 0 on success, 1 for a truth table with surprises, 2 for any other error.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errSurprises):
		return 1
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
}

func newRootCmd() *cobra.Command {
	var (
		debug    bool
		jsonLogs bool
	)

	rootCmd := &cobra.Command{
		Use:   "telltale",
		Short: "Diagnose failures from a knowledge graph of symptoms and sensor readings",
		Long: `Telltale ranks the failure modes of a system from observed symptoms and
sensor readings, recommends the next test to run and checks authored
expectations against every combination of inputs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  debug || util.GetEnvBool("DEBUG", false),
				JSON:   jsonLogs || util.GetEnv("LOG_FORMAT") == "json",
				Output: cmd.ErrOrStderr(),
			}))
		},
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "log as JSON")

	rootCmd.AddCommand(
		newDiagnoseCmd(),
		newExplainCmd(),
		newTruthTableCmd(),
		newSchemaCmd(),
		newExamplesCmd(),
		newImportCmd(),
		newMigrateCmd(),
	)
	return rootCmd
}
