package main

import (
	"context"

	"github.com/spf13/cobra"

	"fraud-detection-pipeline/internal/app"
	"fraud-detection-pipeline/internal/services/training"
)

func trainCmd() *cobra.Command {
	var (
		gridPath string
		source   string
		seed     int64
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Grid-search, evaluate and register a new fraud model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				reg, err := a.Registry()
				if err != nil {
					return err
				}

				cfg := a.Config
				if source == "" {
					source = cfg.DatasetURL
				}

				svc := training.NewService(reg, a.HTTP, training.Options{
					Dataset:        source,
					GridPath:       gridPath,
					ExperimentName: cfg.ExperimentName,
					ModelName:      cfg.ModelName,
					LocalModelPath: cfg.LocalModelPath,
					Parallelism:    cfg.TrainParallelism,
					Seed:           seed,
				})

				res, err := svc.Train(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.Flags().StringVar(&gridPath, "grid", "", "YAML hyperparameter grid (default built-in grid)")
	cmd.Flags().StringVar(&source, "dataset", "", "dataset URL or CSV path (default DATASET_URL)")
	cmd.Flags().Int64Var(&seed, "seed", training.DefaultSeed, "seed for the split and folds")

	return cmd
}
