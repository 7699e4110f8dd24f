// Package loading bulk-loads a labelled transactions CSV into the database.
package loading

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/dataset"
	"fraud-detection-pipeline/internal/models"
	"fraud-detection-pipeline/internal/repository"
)

// DefaultChunkSize is the number of CSV rows written per database round trip.
const DefaultChunkSize = 10000

// Options tune a load.
type Options struct {
	ChunkSize int
	// Replace empties both tables before the first chunk. It is opt-in: by default rows are
	// upserted on trans_num so reloads keep the scorer's predictions.
	Replace bool
}

// Stats summarises a load.
type Stats struct {
	BatchID uuid.UUID `json:"batch_id"`
	Chunks  int       `json:"chunks"`
	Rows    int       `json:"rows"`
	Frauds  int       `json:"frauds"`
	Skipped int       `json:"skipped"`
}

type Service struct {
	transactions *repository.TransactionRepository
	runs         *repository.RunRepository
	opts         Options
	now          func() time.Time
}

func NewService(transactions *repository.TransactionRepository, runs *repository.RunRepository, opts Options) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Service{
		transactions: transactions,
		runs:         runs,
		opts:         opts,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Load reads the CSV at path into all_transactions and copies the rows labelled as fraud
// into fraud_predictions.
func (s *Service) Load(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return s.LoadReader(ctx, filepath.Base(path), f)
}

// LoadReader loads CSV content from r. name is recorded on the load batch. Chunks written
// before a failure stay in the database; the batch is marked failed.
func (s *Service) LoadReader(ctx context.Context, name string, r io.Reader) (Stats, error) {
	batch, err := s.Begin(ctx, name)
	if err != nil {
		return Stats{}, err
	}
	return s.Process(ctx, batch, r)
}

// Begin records a new load batch in the processing state.
func (s *Service) Begin(ctx context.Context, name string) (*models.LoadBatch, error) {
	batch, err := s.runs.CreateLoadBatch(ctx, name, s.opts.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create load batch: %w", err)
	}
	return batch, nil
}

// Process loads r into the tables and finishes batch with the outcome.
func (s *Service) Process(ctx context.Context, batch *models.LoadBatch, r io.Reader) (Stats, error) {
	logger := appcontext.LoggerFromContext(ctx).With("file", batch.Filename)

	stats, err := s.load(ctx, batch.ID, r)
	stats.BatchID = batch.ID

	status := models.StatusCompleted
	errText := ""
	switch {
	case err != nil:
		status = models.StatusFailed
		errText = err.Error()
	case stats.Rows == 0:
		status = models.StatusEmpty
	}
	// Record the outcome even when ctx was cancelled mid-load.
	if ferr := s.runs.FinishLoadBatch(context.WithoutCancel(ctx), batch.ID, status, errText); ferr != nil {
		logger.ErrorContext(ctx, "failed to finish load batch", "batch_id", batch.ID, "error", ferr)
	}

	if err != nil {
		logger.ErrorContext(ctx, "load failed", "batch_id", batch.ID, "rows", stats.Rows, "error", err)
		return stats, err
	}

	logger.InfoContext(ctx, "load completed",
		"batch_id", batch.ID,
		"chunks", stats.Chunks,
		"rows", stats.Rows,
		"frauds", stats.Frauds,
		"skipped", stats.Skipped)

	return stats, nil
}

func (s *Service) load(ctx context.Context, batchID uuid.UUID, r io.Reader) (Stats, error) {
	logger := appcontext.LoggerFromContext(ctx)
	var stats Stats

	reader, err := dataset.NewChunkReader(r, s.opts.ChunkSize)
	if err != nil {
		return stats, err
	}

	if s.opts.Replace {
		if err := s.transactions.Truncate(ctx); err != nil {
			return stats, err
		}
		logger.InfoContext(ctx, "existing transactions removed")
	}

	detected := s.now()
	invalid := 0

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}

		all, frauds, bad := convertChunk(ctx, chunk, detected)
		invalid += bad

		if err := s.transactions.Save(ctx, all, frauds); err != nil {
			return stats, fmt.Errorf("failed to write chunk %d: %w", stats.Chunks+1, err)
		}

		stats.Chunks++
		stats.Rows += len(all)
		stats.Frauds += len(frauds)
		stats.Skipped = invalid + reader.Skipped()

		if err := s.runs.UpdateLoadProgress(ctx, batchID, stats.Chunks, stats.Rows, stats.Frauds, stats.Skipped); err != nil {
			logger.WarnContext(ctx, "failed to record load progress", "error", err)
		}
		logger.InfoContext(ctx, "chunk written", "chunk", stats.Chunks, "rows", stats.Rows, "frauds", stats.Frauds)
	}

	stats.Skipped = invalid + reader.Skipped()
	return stats, nil
}

// convertChunk turns raw records into table rows. Only labelled frauds reach
// fraud_predictions, with the label as is_fraud_predicted.
func convertChunk(ctx context.Context, chunk []dataset.Record, detected time.Time) ([]models.AllTransaction, []models.FraudPrediction, int) {
	logger := appcontext.LoggerFromContext(ctx)

	all := make([]models.AllTransaction, 0, len(chunk))
	var frauds []models.FraudPrediction
	bad := 0

	for _, rec := range chunk {
		tx, err := dataset.ToTransaction(rec)
		if err != nil {
			bad++
			logger.DebugContext(ctx, "skipping invalid row", "trans_num", rec.String(dataset.ColTransNum), "error", err)
			continue
		}

		all = append(all, models.AllTransaction{
			TransactionFields:  tx,
			Source:             models.SourceCSV,
			DetectionTimestamp: detected,
		})

		if tx.IsFraud != nil && *tx.IsFraud == 1 {
			frauds = append(frauds, models.FraudPrediction{
				TransactionFields:  tx,
				IsFraudPredicted:   1,
				Source:             models.SourceCSV,
				DetectionTimestamp: detected,
			})
		}
	}

	return all, frauds, bad
}
