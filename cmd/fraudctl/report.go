package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fraud-detection-pipeline/internal/app"
	"fraud-detection-pipeline/internal/notify"
	"fraud-detection-pipeline/internal/repository"
	"fraud-detection-pipeline/internal/services/reporting"
)

func reportCmd() *cobra.Command {
	var (
		date     string
		schedule bool
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Email the daily fraud report for yesterday (or --date)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				db, err := a.DB()
				if err != nil {
					return err
				}

				cfg := a.Config
				svc := reporting.NewService(repository.NewPredictionRepository(db), notify.NewEmailSender(cfg.SMTP), reporting.Options{
					Location:   cfg.ReportLocation,
					Retries:    reporting.DefaultRetries,
					RetryDelay: reporting.DefaultRetryDelay,
				})

				if schedule {
					return svc.Schedule(ctx, cfg.ReportSchedule)
				}

				day := time.Now().In(cfg.ReportLocation).AddDate(0, 0, -1)
				if date != "" {
					day, err = time.ParseInLocation(time.DateOnly, date, cfg.ReportLocation)
					if err != nil {
						return fmt.Errorf("invalid --date %q: %w", date, err)
					}
				}

				if dryRun {
					body, err := svc.BuildReport(ctx, day)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), body)
					return err
				}
				return svc.RunFor(ctx, day)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to report on, YYYY-MM-DD (default yesterday)")
	cmd.Flags().BoolVar(&schedule, "schedule", false, "keep running and report on REPORT_SCHEDULE")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the report instead of emailing it")

	return cmd
}
