// Package reporting builds the daily fraud report and emails it.
package reporting

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/models"
	"fraud-detection-pipeline/internal/notify"
)

// Report texts.
const (
	NoFraudMessage = "No fraud was detected on the previous day."
	// noFraudOnDay replaces NoFraudMessage when the report is not about yesterday.
	noFraudOnDay = "No fraud was detected on %s."
	Subject        = "Daily fraud detection report"
)

// Defaults.
const (
	DefaultRetries    = 1
	DefaultRetryDelay = 5 * time.Minute
	DefaultSchedule   = "@daily"
)

const timestampLayout = "2006-01-02 15:04:05"

// PredictionFinder lists the fraud predictions detected in [from, to).
type PredictionFinder interface {
	FindBetween(ctx context.Context, from, to time.Time) ([]models.FraudPrediction, error)
}

// Options tune the job. A nil Location means UTC.
type Options struct {
	Location   *time.Location
	Retries    int
	RetryDelay time.Duration
}

type Service struct {
	predictions PredictionFinder
	sender      notify.Sender
	opts        Options
	now         func() time.Time
}

func NewService(predictions PredictionFinder, sender notify.Sender, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Service{
		predictions: predictions,
		sender:      sender,
		opts:        opts,
		now:         time.Now,
	}
}

// DayBounds returns the start of day's calendar date in loc and the start of the next one.
func DayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// BuildReport renders the report for the calendar day containing day.
func (s *Service) BuildReport(ctx context.Context, day time.Time) (string, error) {
	from, to := DayBounds(day, s.opts.Location)

	preds, err := s.predictions.FindBetween(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("failed to query fraud predictions for %s: %w", from.Format(time.DateOnly), err)
	}

	appcontext.LoggerFromContext(ctx).InfoContext(ctx, "fraud report built",
		"day", from.Format(time.DateOnly),
		"frauds", len(preds))

	if len(preds) == 0 {
		yesterday, _ := DayBounds(s.now().In(s.opts.Location).AddDate(0, 0, -1), s.opts.Location)
		if !from.Equal(yesterday) {
			return fmt.Sprintf(noFraudOnDay, from.Format(time.DateOnly)), nil
		}
	}

	return FormatReport(from, preds, s.opts.Location), nil
}

// FormatReport lays out the report body: a header, the fraud count and one aligned line per
// prediction with its detection time, amount and category.
func FormatReport(day time.Time, preds []models.FraudPrediction, loc *time.Location) string {
	if len(preds) == 0 {
		return NoFraudMessage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Fraud report for %s:\n\n", day.Format(time.DateOnly))
	fmt.Fprintf(&b, "Frauds detected: %d\n\n", len(preds))
	b.WriteString("Transaction details:\n")

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tdetection_timestamp\tamt\tcategory")
	for i, p := range preds {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, p.DetectionTimestamp.In(loc).Format(timestampLayout), p.Amount.StringFixed(2), p.Category)
	}
	w.Flush()

	return strings.TrimRight(b.String(), "\n")
}

// Run reports on yesterday in the configured location.
func (s *Service) Run(ctx context.Context) error {
	return s.RunFor(ctx, s.now().In(s.opts.Location).AddDate(0, 0, -1))
}

// RunFor builds the report for day and emails it. Each step is retried on failure.
func (s *Service) RunFor(ctx context.Context, day time.Time) error {
	var body string

	tasks := []task{
		{name: "create_daily_fraud_report", run: func(ctx context.Context) error {
			var err error
			body, err = s.BuildReport(ctx, day)
			return err
		}},
		{name: "send_daily_report_email", run: func(ctx context.Context) error {
			s.sender.Send(ctx, Subject, body)
			return nil
		}},
	}

	for _, t := range tasks {
		if err := s.runTask(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Schedule runs the job on a cron spec until ctx is done.
func (s *Service) Schedule(ctx context.Context, spec string) error {
	logger := appcontext.LoggerFromContext(ctx)

	c := cron.New(cron.WithLocation(s.opts.Location))
	_, err := c.AddFunc(spec, func() {
		if err := s.Run(ctx); err != nil {
			logger.ErrorContext(ctx, "daily report failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", spec, err)
	}

	c.Start()
	logger.InfoContext(ctx, "daily report scheduled", "schedule", spec, "location", s.opts.Location.String())

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

func (s *Service) runTask(ctx context.Context, t task) error {
	logger := appcontext.LoggerFromContext(ctx).With("task", t.name)

	var err error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			logger.WarnContext(ctx, "retrying task", "attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.RetryDelay):
			}
		}
		if err = t.run(ctx); err == nil {
			return nil
		}
	}

	logger.ErrorContext(ctx, "task failed", "error", err)
	return fmt.Errorf("task %s failed: %w", t.name, err)
}
