// Package scoring polls the live transactions feed, scores each transaction with the
// production model, stores the results and raises fraud alerts.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/dataset"
	"fraud-detection-pipeline/internal/models"
	"fraud-detection-pipeline/internal/notify"
	"fraud-detection-pipeline/internal/repository"
)

// Defaults.
const (
	DefaultPollInterval = 60 * time.Second
	DefaultThreshold    = 0.5
)

var errNoModel = errors.New("scorer has no model")

// Fetcher returns the current batch of raw transactions.
type Fetcher interface {
	Fetch(ctx context.Context) ([]dataset.Record, error)
}

// FraudNotifier is told about every iteration that flagged transactions.
type FraudNotifier interface {
	NotifyFrauds(ctx context.Context, alert notify.Alert)
}

// Options tune the scorer.
type Options struct {
	PollInterval time.Duration
	Threshold    float64
}

// Deps are the scorer's collaborators. Dedup, Notifier, Runs and Metrics are optional.
type Deps struct {
	Feed         Fetcher
	Model        *ProductionModel
	Transactions *repository.TransactionRepository
	Runs         *repository.RunRepository
	Notifier     FraudNotifier
	Dedup        Deduper
	Metrics      *Metrics
}

type Service struct {
	deps Deps
	opts Options
	now  func() time.Time
	last atomic.Pointer[models.ScoringRun]
}

func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Model == nil || deps.Model.Bundle == nil {
		return nil, errNoModel
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if deps.Metrics != nil {
		deps.Metrics.ModelVersion.WithLabelValues(deps.Model.Name, deps.Model.Version).Set(1)
	}
	return &Service{
		deps: deps,
		opts: opts,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run scores one batch immediately and then one per poll interval until ctx is done.
// Iteration errors are logged and never stop the loop.
func (s *Service) Run(ctx context.Context) error {
	logger := appcontext.LoggerFromContext(ctx)
	logger.InfoContext(ctx, "scorer started",
		"model_version", s.deps.Model.Version,
		"interval", s.opts.PollInterval,
		"threshold", s.opts.Threshold)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			logger.ErrorContext(ctx, "scoring iteration failed", "error", err)
		}

		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "scorer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// LastRun returns the most recent iteration, or nil before the first one finishes.
func (s *Service) LastRun() *models.ScoringRun {
	return s.last.Load()
}

// RunOnce fetches, scores and stores one batch. The returned run is also recorded when a run
// repository is configured.
func (s *Service) RunOnce(ctx context.Context) (*models.ScoringRun, error) {
	logger := appcontext.LoggerFromContext(ctx)
	started := s.now()

	run := &models.ScoringRun{
		ID:           uuid.New(),
		ModelVersion: s.deps.Model.Version,
		Status:       models.StatusProcessing,
		StartedAt:    started,
	}

	err := s.score(ctx, run)

	completed := s.now()
	run.CompletedAt = &completed
	switch {
	case err != nil:
		run.Status = models.StatusFailed
		run.Error = err.Error()
	case run.Scored == 0:
		run.Status = models.StatusEmpty
	default:
		run.Status = models.StatusCompleted
	}

	s.record(ctx, run, completed.Sub(started))

	if err == nil {
		logger.InfoContext(ctx, "scoring iteration completed",
			"fetched", run.Fetched,
			"duplicates", run.Duplicates,
			"scored", run.Scored,
			"frauds", run.Frauds)
	}
	return run, err
}

func (s *Service) score(ctx context.Context, run *models.ScoringRun) error {
	logger := appcontext.LoggerFromContext(ctx)

	records, err := s.deps.Feed.Fetch(ctx)
	if errors.Is(err, dataset.ErrEmptyPayload) {
		logger.InfoContext(ctx, "feed returned no transactions")
		return nil
	}
	if err != nil {
		if dataset.IsMalformedPayload(err) {
			return fmt.Errorf("malformed feed payload: %w", err)
		}
		return fmt.Errorf("failed to fetch transactions: %w", err)
	}
	run.Fetched = len(records)
	if len(records) == 0 {
		logger.InfoContext(ctx, "feed returned no transactions")
		return nil
	}

	preds, claimed := s.predict(ctx, records, run)
	if len(preds) == 0 {
		return nil
	}

	frauds, err := s.deps.Transactions.SaveScored(ctx, preds)
	if err != nil {
		s.release(ctx, claimed)
		return fmt.Errorf("failed to store predictions: %w", err)
	}
	run.Scored = len(preds)
	run.Frauds = frauds

	if frauds > 0 {
		logger.WarnContext(ctx, "fraud detected", "count", frauds)
		if s.deps.Notifier != nil {
			s.deps.Notifier.NotifyFrauds(ctx, buildAlert(preds, run))
		}
	}
	return nil
}

// predict converts and scores the records that were not scored before. It returns the
// predictions and the dedup keys it claimed.
func (s *Service) predict(ctx context.Context, records []dataset.Record, run *models.ScoringRun) ([]models.Prediction, []string) {
	logger := appcontext.LoggerFromContext(ctx)
	bundle := s.deps.Model.Bundle
	detected := s.now()

	preds := make([]models.Prediction, 0, len(records))
	var claimed []string

	for _, rec := range records {
		tx, err := dataset.ToTransaction(rec)
		if err != nil {
			logger.WarnContext(ctx, "skipping invalid transaction", "trans_num", rec.String(dataset.ColTransNum), "error", err)
			continue
		}

		if s.deps.Dedup != nil {
			first, err := s.deps.Dedup.Claim(ctx, tx.TransNum)
			switch {
			case err != nil:
				logger.WarnContext(ctx, "dedup lookup failed, scoring anyway", "trans_num", tx.TransNum, "error", err)
			case !first:
				run.Duplicates++
				continue
			default:
				claimed = append(claimed, tx.TransNum)
			}
		}

		p := bundle.Score(tx)
		flag := 0
		if p >= s.opts.Threshold {
			flag = 1
		}
		preds = append(preds, models.Prediction{
			TransactionFields:  tx,
			IsFraudPredicted:   flag,
			FraudProbability:   &p,
			ModelVersion:       s.deps.Model.Version,
			Source:             models.SourceAPI,
			DetectionTimestamp: detected,
		})
	}

	return preds, claimed
}

func (s *Service) release(ctx context.Context, keys []string) {
	if s.deps.Dedup == nil || len(keys) == 0 {
		return
	}
	if err := s.deps.Dedup.Release(context.WithoutCancel(ctx), keys...); err != nil {
		appcontext.LoggerFromContext(ctx).WarnContext(ctx, "failed to release dedup keys", "count", len(keys), "error", err)
	}
}

func (s *Service) record(ctx context.Context, run *models.ScoringRun, elapsed time.Duration) {
	s.last.Store(run)

	if m := s.deps.Metrics; m != nil {
		m.Iterations.WithLabelValues(run.Status).Inc()
		m.Fetched.Add(float64(run.Fetched))
		m.Duplicates.Add(float64(run.Duplicates))
		m.Scored.Add(float64(run.Scored))
		m.Frauds.Add(float64(run.Frauds))
		m.Duration.Observe(elapsed.Seconds())
		if run.Status != models.StatusFailed {
			m.LastSuccess.Set(float64(run.CompletedAt.Unix()))
		}
	}

	if s.deps.Runs != nil {
		if err := s.deps.Runs.RecordScoringRun(context.WithoutCancel(ctx), run); err != nil {
			appcontext.LoggerFromContext(ctx).ErrorContext(ctx, "failed to record scoring run", "error", err)
		}
	}
}

func buildAlert(preds []models.Prediction, run *models.ScoringRun) notify.Alert {
	alert := notify.Alert{ModelVersion: run.ModelVersion}
	for _, p := range preds {
		if p.IsFraudPredicted != 1 {
			continue
		}
		alert.DetectedAt = p.DetectionTimestamp
		alert.Transactions = append(alert.Transactions, notify.AlertTransaction{
			TransNum:    p.TransNum,
			Amount:      p.Amount,
			Category:    p.Category,
			Merchant:    p.Merchant,
			Probability: *p.FraudProbability,
		})
	}
	alert.Count = len(alert.Transactions)
	return alert
}
