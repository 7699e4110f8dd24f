package models

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusEmpty      = "empty"
)

// LoadBatch tracks one CSV load.
type LoadBatch struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Filename    string     `json:"filename"`
	ChunkSize   int        `json:"chunk_size"`
	ChunkCount  int        `json:"chunk_count"`
	TotalRows   int        `json:"total_rows"`
	FraudRows   int        `json:"fraud_rows"`
	SkippedRows int        `json:"skipped_rows"`
	Status      string     `gorm:"index" json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ScoringRun tracks one iteration of the real-time scorer.
type ScoringRun struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ModelVersion string     `json:"model_version"`
	Fetched      int        `json:"fetched"`
	Duplicates   int        `json:"duplicates"`
	Scored       int        `json:"scored"`
	Frauds       int        `json:"frauds"`
	Status       string     `gorm:"index" json:"status"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `gorm:"index" json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
}
