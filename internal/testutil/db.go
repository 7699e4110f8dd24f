// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fraud-detection-pipeline/internal/config"
	"fraud-detection-pipeline/internal/models"
	"fraud-detection-pipeline/internal/repository"
)

// NewDB opens a migrated in-memory SQLite database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := config.InitDB("sqlite::memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

// Transaction builds transaction fields with the columns the pipeline reads.
func Transaction(transNum, amt, category string, when time.Time) models.TransactionFields {
	w := when.UTC()
	return models.TransactionFields{
		TransNum:    transNum,
		CCNum:       "4263982640269299",
		Merchant:    "fraud_Kirlin and Sons",
		Category:    category,
		Amount:      decimal.RequireFromString(amt),
		Gender:      "F",
		CityPop:     2500,
		CurrentTime: &w,
		Raw:         []byte(`{}`),
	}
}

// Prediction wraps a transaction as a scored row.
func Prediction(tx models.TransactionFields, flag int, detected time.Time) models.Prediction {
	p := 0.1
	if flag == 1 {
		p = 0.9
	}
	return models.Prediction{
		TransactionFields:  tx,
		IsFraudPredicted:   flag,
		FraudProbability:   &p,
		ModelVersion:       "1",
		Source:             models.SourceAPI,
		DetectionTimestamp: detected.UTC(),
	}
}

// CSVHeader is the column layout of the fraudTest.csv export.
const CSVHeader = ",trans_date_trans_time,cc_num,merchant,category,amt,first,last,gender,street,city,state,zip,lat,long,city_pop,job,dob,trans_num,unix_time,merch_lat,merch_long,is_fraud"

// CSVRow renders one row in the CSVHeader layout.
func CSVRow(index int, transNum, category, amt string, isFraud int, when time.Time) string {
	fields := []string{
		strconv.Itoa(index),
		when.UTC().Format("2006-01-02 15:04:05"),
		"2291163933867244",
		"fraud_Kirlin and Sons",
		category,
		amt,
		"Jeff",
		"Elliott",
		"M",
		"351 Darlene Green",
		"Columbia",
		"SC",
		"29209",
		"33.9659",
		"-80.9355",
		"333497",
		"Mechanical engineer",
		"1968-03-19",
		transNum,
		strconv.Itoa(int(when.Unix())),
		"33.986391",
		"-81.200714",
		strconv.Itoa(isFraud),
	}
	return strings.Join(fields, ",")
}

// WriteFile writes content to name inside a temporary directory and returns its path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
