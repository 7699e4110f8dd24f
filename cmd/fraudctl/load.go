package main

import (
	"context"

	"github.com/spf13/cobra"

	"fraud-detection-pipeline/internal/app"
	"fraud-detection-pipeline/internal/repository"
	"fraud-detection-pipeline/internal/services/loading"
)

func loadCmd() *cobra.Command {
	var (
		replace   bool
		chunkSize int
	)

	cmd := &cobra.Command{
		Use:   "load [csv]",
		Short: "Load a labelled transactions CSV into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				db, err := a.DB()
				if err != nil {
					return err
				}

				if chunkSize <= 0 {
					chunkSize = a.Config.ChunkSize
				}
				svc := loading.NewService(
					repository.NewTransactionRepository(db),
					repository.NewRunRepository(db),
					loading.Options{ChunkSize: chunkSize, Replace: replace},
				)

				stats, err := svc.Load(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "empty both tables before the first chunk instead of upserting on trans_num")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "rows per chunk (default CHUNK_SIZE)")

	return cmd
}
