package main

import (
	"context"

	"github.com/spf13/cobra"

	"fraud-detection-pipeline/internal/app"
	"fraud-detection-pipeline/internal/repository"
	"fraud-detection-pipeline/internal/services/deployment"
)

func deployCmd() *cobra.Command {
	var (
		version string
		reason  string
		by      string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Point the production alias at the latest (or a given) model version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				reg, err := a.Registry()
				if err != nil {
					return err
				}

				// Promotions are audited only when a database is configured.
				var runs *repository.RunRepository
				if a.Config.DatabaseURI != "" {
					db, err := a.DB()
					if err != nil {
						return err
					}
					runs = repository.NewRunRepository(db)
				}

				svc := deployment.NewService(reg, runs, deployment.Options{
					ModelName:   a.Config.ModelName,
					Alias:       a.Config.ModelAlias,
					PerformedBy: by,
				})

				res, err := svc.Deploy(ctx, version, reason)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "model version to promote (default highest)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit log")
	cmd.Flags().StringVar(&by, "by", "", "operator recorded in the audit log")

	return cmd
}
