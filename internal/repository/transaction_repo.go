package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fraud-detection-pipeline/internal/models"
)

const insertBatchSize = 500

// rawColumns are rewritten when a transaction is ingested again. detection_timestamp and
// created_at keep their first values so daily reports do not move rows between days.
var rawColumns = []string{
	"cc_num", "merchant", "category", "amt", "first", "last", "gender", "street", "city",
	"state", "zip", "lat", "long", "city_pop", "job", "dob", "unix_time", "merch_lat",
	"merch_long", "trans_date_trans_time", "current_time", "is_fraud", "raw", "updated_at",
}

// scoredColumns additionally carry the latest prediction into all_transactions.
var scoredColumns = append(append([]string{}, rawColumns...),
	"is_fraud_predicted", "fraud_probability", "model_version", "source")

func upsertOnTransNum(columns []string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "trans_num"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// TransactionRepository writes all_transactions and, through SaveScored, fraud_predictions.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// DB exposes the connection.
func (r *TransactionRepository) DB() *gorm.DB {
	return r.db
}

// SaveScored writes every prediction to all_transactions and the flagged ones to
// fraud_predictions. The first detection of a transaction is kept in fraud_predictions; a
// transaction re-scored as legitimate is removed from it. It returns the number of flagged rows.
func (r *TransactionRepository) SaveScored(ctx context.Context, preds []models.Prediction) (int, error) {
	if len(preds) == 0 {
		return 0, nil
	}
	preds = lastByTransNum(preds, func(p models.Prediction) string { return p.TransNum })

	all := make([]models.AllTransaction, 0, len(preds))
	var frauds []models.FraudPrediction
	var cleared []string
	for _, p := range preds {
		all = append(all, p.AllTransaction())
		if p.IsFraudPredicted == 1 {
			frauds = append(frauds, p.FraudPrediction())
		} else {
			cleared = append(cleared, p.TransNum)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(upsertOnTransNum(scoredColumns)).CreateInBatches(&all, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to upsert all_transactions: %w", err)
		}
		if len(frauds) > 0 {
			if err := tx.Clauses(upsertOnTransNum(rawColumns)).CreateInBatches(&frauds, insertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to upsert fraud_predictions: %w", err)
			}
		}
		for start := 0; start < len(cleared); start += insertBatchSize {
			end := min(start+insertBatchSize, len(cleared))
			if err := tx.Where("trans_num IN ?", cleared[start:end]).Delete(&models.FraudPrediction{}).Error; err != nil {
				return fmt.Errorf("failed to clear fraud_predictions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(frauds), nil
}

// Save upserts labelled CSV rows into both tables in a single database transaction. Only the
// transaction columns of existing rows are updated; predictions made by the scorer are kept.
func (r *TransactionRepository) Save(ctx context.Context, all []models.AllTransaction, frauds []models.FraudPrediction) error {
	if len(all) == 0 && len(frauds) == 0 {
		return nil
	}

	all = lastByTransNum(all, func(t models.AllTransaction) string { return t.TransNum })
	frauds = lastByTransNum(frauds, func(t models.FraudPrediction) string { return t.TransNum })

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(all) > 0 {
			if err := tx.Clauses(upsertOnTransNum(rawColumns)).CreateInBatches(&all, insertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to upsert all_transactions: %w", err)
			}
		}
		if len(frauds) > 0 {
			if err := tx.Clauses(upsertOnTransNum(rawColumns)).CreateInBatches(&frauds, insertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to upsert fraud_predictions: %w", err)
			}
		}
		return nil
	})
}

// lastByTransNum drops earlier duplicates of a key: one upsert statement may not touch the
// same row twice.
func lastByTransNum[T any](rows []T, key func(T) string) []T {
	pos := make(map[string]int, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		k := key(row)
		if i, ok := pos[k]; ok {
			out[i] = row
			continue
		}
		pos[k] = len(out)
		out = append(out, row)
	}
	return out
}

// Truncate empties all_transactions and fraud_predictions.
func (r *TransactionRepository) Truncate(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		global := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := global.Delete(&models.FraudPrediction{}).Error; err != nil {
			return fmt.Errorf("failed to clear fraud_predictions: %w", err)
		}
		if err := global.Delete(&models.AllTransaction{}).Error; err != nil {
			return fmt.Errorf("failed to clear all_transactions: %w", err)
		}
		return nil
	})
}

// Count returns the number of rows in all_transactions.
func (r *TransactionRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.AllTransaction{}).Count(&n).Error
	return n, err
}

// GetByTransNum fetches one all_transactions row.
func (r *TransactionRepository) GetByTransNum(ctx context.Context, transNum string) (*models.AllTransaction, error) {
	var tx models.AllTransaction
	err := r.db.WithContext(ctx).First(&tx, "trans_num = ?", transNum).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
