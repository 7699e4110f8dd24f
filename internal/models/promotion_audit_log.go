package models

import (
	"time"

	"github.com/google/uuid"
)

// PromotionAuditLog records a model version being given the production alias.
type PromotionAuditLog struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ModelName       string    `gorm:"index" json:"model_name"`
	Alias           string    `json:"alias"`
	NewVersion      string    `json:"new_version"`
	PreviousVersion *string   `json:"previous_version"`
	PerformedBy     string    `json:"performed_by"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// All returns every model for AutoMigrate.
func All() []any {
	return []any{
		&AllTransaction{},
		&FraudPrediction{},
		&LoadBatch{},
		&ScoringRun{},
		&PromotionAuditLog{},
	}
}
