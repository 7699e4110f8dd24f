package main

import (
	"context"

	"github.com/spf13/cobra"

	"fraud-detection-pipeline/internal/app"
)

func scoreCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Run the real-time scorer in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				scorer, cleanup, err := a.Scorer(ctx, nil)
				defer cleanup()
				if err != nil {
					return err
				}

				if !once {
					return scorer.Run(ctx)
				}

				result, err := scorer.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "score a single batch and exit")

	return cmd
}
