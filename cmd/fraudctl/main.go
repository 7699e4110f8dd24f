package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fraud-detection-pipeline/internal/app"
)

var Version = "dev"

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "fraudctl",
		Short:         "Batch jobs of the fraud detection pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")

	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(deployCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(scoreCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and returns a context carrying the logger. Errors of the
// command body are logged by run.
func setup(cmd *cobra.Command) (*app.App, context.Context, error) {
	return app.New(cmd.Context(), configFile)
}

// run executes body and logs its error, so every subcommand fails the same way.
func run(cmd *cobra.Command, body func(ctx context.Context, a *app.App) error) error {
	a, ctx, err := setup(cmd)
	if err != nil {
		cmd.PrintErrln("error:", err)
		return err
	}
	defer a.Close()

	if err := body(ctx, a); err != nil {
		a.Logger.ErrorContext(ctx, cmd.Name()+" failed", "error", err)
		return err
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
