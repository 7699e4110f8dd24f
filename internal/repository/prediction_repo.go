package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fraud-detection-pipeline/internal/models"
)

const defaultSearchLimit = 500

type PredictionRepository struct {
	db *gorm.DB
}

func NewPredictionRepository(db *gorm.DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

// FindBetween returns the fraud predictions detected in [from, to), oldest first.
// Bounds are compared in UTC, the zone every timestamp is written in.
func (r *PredictionRepository) FindBetween(ctx context.Context, from, to time.Time) ([]models.FraudPrediction, error) {
	var preds []models.FraudPrediction
	err := r.db.WithContext(ctx).
		Where("detection_timestamp >= ? AND detection_timestamp < ?", from.UTC(), to.UTC()).
		Order("detection_timestamp ASC").
		Order("id ASC").
		Find(&preds).Error
	return preds, err
}

// PredictionFilter narrows Search. Zero fields are ignored.
type PredictionFilter struct {
	From      time.Time
	To        time.Time
	Category  string
	MinAmount decimal.Decimal
	Limit     int
}

// Search lists fraud predictions for the ops API with optional filters, newest first.
func (r *PredictionRepository) Search(ctx context.Context, f PredictionFilter) ([]models.FraudPrediction, error) {
	var preds []models.FraudPrediction

	query := r.db.WithContext(ctx).Model(&models.FraudPrediction{})

	if !f.From.IsZero() {
		query = query.Where("detection_timestamp >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		query = query.Where("detection_timestamp < ?", f.To.UTC())
	}
	if f.Category != "" {
		query = query.Where("category = ?", f.Category)
	}
	if f.MinAmount.IsPositive() {
		query = query.Where("amt >= ?", f.MinAmount)
	}

	limit := f.Limit
	if limit <= 0 || limit > defaultSearchLimit {
		limit = defaultSearchLimit
	}

	err := query.Order("detection_timestamp DESC").Order("id DESC").Limit(limit).Find(&preds).Error
	return preds, err
}

// Count returns the number of rows in fraud_predictions.
func (r *PredictionRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.FraudPrediction{}).Count(&n).Error
	return n, err
}
