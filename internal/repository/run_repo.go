package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"fraud-detection-pipeline/internal/models"
)

// RunRepository persists load batches, scoring runs and promotion audit logs.
type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateLoadBatch inserts a batch in the processing state.
func (r *RunRepository) CreateLoadBatch(ctx context.Context, filename string, chunkSize int) (*models.LoadBatch, error) {
	now := time.Now()
	batch := &models.LoadBatch{
		ID:        uuid.New(),
		Filename:  filename,
		ChunkSize: chunkSize,
		Status:    models.StatusProcessing,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// UpdateLoadProgress records the counters after each chunk.
func (r *RunRepository) UpdateLoadProgress(ctx context.Context, id uuid.UUID, chunks, rows, frauds, skipped int) error {
	return r.db.WithContext(ctx).Model(&models.LoadBatch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"chunk_count":  chunks,
			"total_rows":   rows,
			"fraud_rows":   frauds,
			"skipped_rows": skipped,
		}).Error
}

// FinishLoadBatch sets the terminal status of a batch. errText is stored for failed batches.
func (r *RunRepository) FinishLoadBatch(ctx context.Context, id uuid.UUID, status, errText string) error {
	return r.db.WithContext(ctx).Model(&models.LoadBatch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"error":        errText,
			"completed_at": time.Now(),
		}).Error
}

// GetLoadBatch fetches a batch by id.
func (r *RunRepository) GetLoadBatch(ctx context.Context, id uuid.UUID) (*models.LoadBatch, error) {
	var batch models.LoadBatch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// LatestLoadBatch returns the most recently started batch.
func (r *RunRepository) LatestLoadBatch(ctx context.Context) (*models.LoadBatch, error) {
	var batch models.LoadBatch
	if err := r.db.WithContext(ctx).Order("started_at DESC").First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// RecordScoringRun inserts a finished scorer iteration.
func (r *RunRepository) RecordScoringRun(ctx context.Context, run *models.ScoringRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(run).Error
}

// LatestScoringRun returns the most recent scorer iteration.
func (r *RunRepository) LatestScoringRun(ctx context.Context) (*models.ScoringRun, error) {
	var run models.ScoringRun
	if err := r.db.WithContext(ctx).Order("started_at DESC").First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// RecordPromotion appends a promotion to the audit log.
func (r *RunRepository) RecordPromotion(ctx context.Context, entry *models.PromotionAuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// LatestPromotion returns the last promotion of a model.
func (r *RunRepository) LatestPromotion(ctx context.Context, modelName string) (*models.PromotionAuditLog, error) {
	var entry models.PromotionAuditLog
	err := r.db.WithContext(ctx).
		Where("model_name = ?", modelName).
		Order("created_at DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
