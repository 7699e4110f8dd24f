package app

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/classifier"
	"fraud-detection-pipeline/internal/config"
	"fraud-detection-pipeline/internal/features"
	"fraud-detection-pipeline/internal/models"
	"fraud-detection-pipeline/internal/registry/registrytest"
	"fraud-detection-pipeline/internal/testutil"
)

func newApp(t *testing.T, trackingURI string) (*App, context.Context) {
	t.Helper()
	t.Setenv(config.EnvDatabaseURI, "sqlite::memory:")
	t.Setenv(config.EnvTrackingURI, trackingURI)
	t.Setenv(config.EnvAPIURL, "http://feed.invalid/current-transactions")
	t.Setenv(config.EnvLogLevel, "error")

	a, ctx, err := New(context.Background(), "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(a.Close)
	return a, ctx
}

func TestNew(t *testing.T) {
	a, ctx := newApp(t, "http://mlflow.invalid:5000")

	if appcontext.LoggerFromContext(ctx) != a.Logger {
		t.Errorf("context does not carry the configured logger")
	}
	if a.HTTP.Timeout != config.DefaultHTTPTimeout {
		t.Errorf("HTTP timeout: got %v, want %v", a.HTTP.Timeout, config.DefaultHTTPTimeout)
	}

	db, err := a.DB()
	if err != nil {
		t.Fatalf("DB failed: %v", err)
	}
	again, _ := a.DB()
	if db != again {
		t.Errorf("DB opened a second connection")
	}
	if !db.Migrator().HasTable(&models.ScoringRun{}) {
		t.Errorf("database was not migrated")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Setenv(config.EnvPollInterval, "0s")

	if _, _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected an error for a zero poll interval")
	}
}

func TestScorer(t *testing.T) {
	srv := registrytest.NewServer(t)
	a, ctx := newApp(t, srv.URL)

	if _, cleanup, err := a.Scorer(ctx, nil); err == nil {
		cleanup()
		t.Fatalf("expected an error without a production model")
	}

	when := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	var txs []models.TransactionFields
	var labels []int
	for i := 0; i < 20; i++ {
		amt, label := fmt.Sprintf("%d.00", 10+i), 0
		if i%4 == 0 {
			amt, label = fmt.Sprintf("%d.00", 900+i), 1
		}
		txs = append(txs, testutil.Transaction(fmt.Sprintf("t%d", i), amt, "grocery_pos", when))
		labels = append(labels, label)
	}
	enc := features.Fit(txs)
	model, err := classifier.Fit(ctx, enc.TransformAll(txs), labels,
		classifier.Params{NEstimators: 3, MaxDepth: 2, LearningRate: 0.3, MinChildWeight: 0.1})
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	var buf bytes.Buffer
	if err := classifier.NewBundle(enc, model).Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	srv.PutArtifact("1/run1/artifacts/model/model.json", buf.Bytes())
	v := srv.AddVersion(config.DefaultModelName, "mlflow-artifacts:/1/run1/artifacts/model")
	reg, err := a.Registry()
	if err != nil {
		t.Fatalf("Registry failed: %v", err)
	}
	if err := reg.SetAlias(ctx, config.DefaultModelName, config.DefaultModelAlias, v.Version); err != nil {
		t.Fatalf("SetAlias failed: %v", err)
	}

	scorer, cleanup, err := a.Scorer(ctx, nil)
	defer cleanup()
	if err != nil {
		t.Fatalf("Scorer failed: %v", err)
	}
	if scorer.LastRun() != nil {
		t.Errorf("a new scorer reports a last run")
	}
}
