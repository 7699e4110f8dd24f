package scoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"fraud-detection-pipeline/internal/classifier"
	"fraud-detection-pipeline/internal/dataset"
	"fraud-detection-pipeline/internal/features"
	"fraud-detection-pipeline/internal/feed"
	"fraud-detection-pipeline/internal/models"
	"fraud-detection-pipeline/internal/notify"
	"fraud-detection-pipeline/internal/registry/registrytest"
	"fraud-detection-pipeline/internal/repository"
	"fraud-detection-pipeline/internal/testutil"
)

// trainBundle fits a model where amounts of 500 and above are fraud.
func trainBundle(t *testing.T) *classifier.Bundle {
	t.Helper()
	when := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	var txs []models.TransactionFields
	var labels []int
	for i := 0; i < 40; i++ {
		amt, label := fmt.Sprintf("%d.00", 10+i), 0
		if i%4 == 0 {
			amt, label = fmt.Sprintf("%d.00", 800+i), 1
		}
		txs = append(txs, testutil.Transaction(fmt.Sprintf("train%d", i), amt, "grocery_pos", when))
		labels = append(labels, label)
	}

	enc := features.Fit(txs)
	model, err := classifier.Fit(context.Background(), enc.TransformAll(txs), labels,
		classifier.Params{NEstimators: 5, MaxDepth: 2, LearningRate: 0.3, MinChildWeight: 0.1})
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	return classifier.NewBundle(enc, model)
}

func feedRecord(transNum, amt string) dataset.Record {
	return dataset.Record{
		"trans_num":    transNum,
		"amt":          amt,
		"category":     "grocery_pos",
		"merchant":     "fraud_Kirlin and Sons",
		"gender":       "F",
		"city_pop":     "2500",
		"current_time": "2024-06-16 10:00:00",
	}
}

type feedFunc func(ctx context.Context) ([]dataset.Record, error)

func (f feedFunc) Fetch(ctx context.Context) ([]dataset.Record, error) { return f(ctx) }

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *recordingNotifier) NotifyFrauds(_ context.Context, alert notify.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

type memDedup struct {
	seen     map[string]bool
	released []string
	err      error
}

func (d *memDedup) Claim(_ context.Context, key string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *memDedup) Release(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(d.seen, k)
	}
	d.released = append(d.released, keys...)
	return nil
}

type fixture struct {
	svc      *Service
	txRepo   *repository.TransactionRepository
	predRepo *repository.PredictionRepository
	runRepo  *repository.RunRepository
	notifier *recordingNotifier
	dedup    *memDedup
	metrics  *Metrics
}

func newFixture(t *testing.T, f Fetcher) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	fx := &fixture{
		txRepo:   repository.NewTransactionRepository(db),
		predRepo: repository.NewPredictionRepository(db),
		runRepo:  repository.NewRunRepository(db),
		notifier: &recordingNotifier{},
		dedup:    &memDedup{seen: map[string]bool{}},
		metrics:  NewMetrics(),
	}
	svc, err := NewService(Deps{
		Feed:         f,
		Model:        &ProductionModel{Name: "XGBoost_Fraud_Model_Prod", Version: "3", Bundle: trainBundle(t)},
		Transactions: fx.txRepo,
		Runs:         fx.runRepo,
		Notifier:     fx.notifier,
		Dedup:        fx.dedup,
		Metrics:      fx.metrics,
	}, Options{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	fx.svc = svc
	return fx
}

func TestNewService_RequiresModel(t *testing.T) {
	if _, err := NewService(Deps{}, Options{}); !errors.Is(err, errNoModel) {
		t.Errorf("expected errNoModel, got %v", err)
	}
}

func TestRunOnce_ScoresAndStores(t *testing.T) {
	records := []dataset.Record{
		feedRecord("a1", "12.50"),
		feedRecord("a2", "950.00"),
		feedRecord("a3", "20.00"),
		{"trans_num": "bad", "amt": "lots"},
	}
	fx := newFixture(t, feedFunc(func(context.Context) ([]dataset.Record, error) { return records, nil }))
	ctx := context.Background()

	run, err := fx.svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if run.Fetched != 4 || run.Scored != 3 || run.Frauds != 1 || run.Status != models.StatusCompleted {
		t.Errorf("unexpected run %+v", run)
	}

	if n, _ := fx.txRepo.Count(ctx); n != 3 {
		t.Errorf("all_transactions has %d rows, want 3", n)
	}
	row, err := fx.txRepo.GetByTransNum(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByTransNum failed: %v", err)
	}
	if row.IsFraudPredicted == nil || *row.IsFraudPredicted != 0 || row.ModelVersion != "3" || row.Source != models.SourceAPI {
		t.Errorf("unexpected stored row %+v", row)
	}

	frauds, err := fx.predRepo.Search(ctx, repository.PredictionFilter{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(frauds) != 1 || frauds[0].TransNum != "a2" || frauds[0].FraudProbability == nil || *frauds[0].FraudProbability < 0.5 {
		t.Errorf("unexpected fraud rows %+v", frauds)
	}

	if len(fx.notifier.alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(fx.notifier.alerts))
	}
	alert := fx.notifier.alerts[0]
	if alert.Count != 1 || alert.Transactions[0].TransNum != "a2" || alert.ModelVersion != "3" {
		t.Errorf("unexpected alert %+v", alert)
	}

	stored, err := fx.runRepo.LatestScoringRun(ctx)
	if err != nil {
		t.Fatalf("LatestScoringRun failed: %v", err)
	}
	if stored.ID != run.ID || stored.Frauds != 1 {
		t.Errorf("unexpected stored run %+v", stored)
	}
	if last := fx.svc.LastRun(); last == nil || last.ID != run.ID {
		t.Errorf("LastRun = %+v, want %s", last, run.ID)
	}

	if got := promtestutil.ToFloat64(fx.metrics.Frauds); got != 1 {
		t.Errorf("frauds metric = %v, want 1", got)
	}
	if got := promtestutil.ToFloat64(fx.metrics.Iterations.WithLabelValues(models.StatusCompleted)); got != 1 {
		t.Errorf("completed iterations = %v, want 1", got)
	}
}

func TestRunOnce_SkipsAlreadyScored(t *testing.T) {
	records := []dataset.Record{feedRecord("a1", "12.50"), feedRecord("a2", "950.00")}
	fx := newFixture(t, feedFunc(func(context.Context) ([]dataset.Record, error) { return records, nil }))
	ctx := context.Background()

	if _, err := fx.svc.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	run, err := fx.svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if run.Duplicates != 2 || run.Scored != 0 || run.Status != models.StatusEmpty {
		t.Errorf("unexpected second run %+v", run)
	}
	if len(fx.notifier.alerts) != 1 {
		t.Errorf("duplicates should not alert again, got %d alerts", len(fx.notifier.alerts))
	}
	if n, _ := fx.predRepo.Count(ctx); n != 1 {
		t.Errorf("fraud_predictions has %d rows, want 1", n)
	}
}

func TestRunOnce_DedupFailureScoresAnyway(t *testing.T) {
	records := []dataset.Record{feedRecord("a1", "12.50")}
	fx := newFixture(t, feedFunc(func(context.Context) ([]dataset.Record, error) { return records, nil }))
	fx.dedup.err = errors.New("connection refused")

	run, err := fx.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if run.Scored != 1 {
		t.Errorf("scored = %d, want 1", run.Scored)
	}
}

func TestRunOnce_SaveFailureReleasesKeys(t *testing.T) {
	records := []dataset.Record{feedRecord("a1", "12.50"), feedRecord("a2", "950.00")}
	fx := newFixture(t, feedFunc(func(context.Context) ([]dataset.Record, error) { return records, nil }))
	fx.svc.deps.Runs = nil

	sqlDB, err := fx.txRepo.DB().DB()
	if err != nil {
		t.Fatalf("DB failed: %v", err)
	}
	sqlDB.Close()

	run, err := fx.svc.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected a storage error")
	}
	if run.Status != models.StatusFailed || run.Error == "" {
		t.Errorf("unexpected run %+v", run)
	}
	if len(fx.dedup.released) != 2 || len(fx.dedup.seen) != 0 {
		t.Errorf("claimed keys should be released, released=%v seen=%v", fx.dedup.released, fx.dedup.seen)
	}
	if len(fx.notifier.alerts) != 0 {
		t.Errorf("no alert expected when nothing was stored")
	}
}

func TestRunOnce_FeedFailures(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		status     int
		wantErr    bool
		wantStatus string
	}{
		{"malformed", `{"columns":`, http.StatusOK, true, models.StatusFailed},
		{"empty", `{"columns":[],"index":[],"data":[]}`, http.StatusOK, false, models.StatusEmpty},
		{"unavailable", ``, http.StatusServiceUnavailable, true, models.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := feed.NewClient(srv.Client(), srv.URL)
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}
			fx := newFixture(t, client)
			ctx := context.Background()

			run, err := fx.svc.RunOnce(ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("RunOnce error = %v, wantErr %v", err, tt.wantErr)
			}
			if run.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", run.Status, tt.wantStatus)
			}
			stored, err := fx.runRepo.LatestScoringRun(ctx)
			if err != nil || stored.Status != tt.wantStatus {
				t.Errorf("stored run = %+v, %v", stored, err)
			}
		})
	}
}

func TestRun_ContinuesAfterErrors(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := newFixture(t, feedFunc(func(context.Context) ([]dataset.Record, error) {
		if calls.Add(1) >= 3 {
			cancel()
		}
		return nil, errors.New("feed down")
	}))

	done := make(chan error, 1)
	go func() { done <- fx.svc.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if calls.Load() < 3 {
		t.Errorf("feed called %d times, want at least 3", calls.Load())
	}
	if got := promtestutil.ToFloat64(fx.metrics.Iterations.WithLabelValues(models.StatusFailed)); got < 3 {
		t.Errorf("failed iterations = %v, want at least 3", got)
	}
}

func TestLoadProductionModel(t *testing.T) {
	srv := registrytest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := trainBundle(t).Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	srv.PutArtifact("1/run9/artifacts/model/model.json", buf.Bytes())
	srv.AddVersion("XGBoost_Fraud_Model_Prod", "mlflow-artifacts:/1/run9/artifacts/model")
	srv.AddVersion("XGBoost_Fraud_Model_Prod", "mlflow-artifacts:/1/run10/artifacts/model")

	if _, err := LoadProductionModel(ctx, client, "XGBoost_Fraud_Model_Prod", "production"); err == nil {
		t.Fatalf("expected an error without a production alias")
	}

	if err := client.SetAlias(ctx, "XGBoost_Fraud_Model_Prod", "production", "1"); err != nil {
		t.Fatalf("SetAlias failed: %v", err)
	}
	pm, err := LoadProductionModel(ctx, client, "XGBoost_Fraud_Model_Prod", "production")
	if err != nil {
		t.Fatalf("LoadProductionModel failed: %v", err)
	}
	if pm.Version != "1" || pm.Bundle == nil {
		t.Errorf("unexpected model %+v", pm)
	}
	if p := pm.Bundle.Score(testutil.Transaction("x", "950.00", "grocery_pos", time.Now())); p < 0.5 {
		t.Errorf("loaded model scores a large amount at %v", p)
	}

	if err := client.SetAlias(ctx, "XGBoost_Fraud_Model_Prod", "production", "2"); err != nil {
		t.Fatalf("SetAlias failed: %v", err)
	}
	if _, err := LoadProductionModel(ctx, client, "XGBoost_Fraud_Model_Prod", "production"); err == nil {
		t.Errorf("expected an error when the artifact is missing")
	}
}

type fakeRedis struct {
	keys map[string]time.Duration
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.BoolCmd {
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisDeduper(t *testing.T) {
	fake := &fakeRedis{keys: map[string]time.Duration{}}
	d := NewRedisDeduper(fake, time.Hour)
	ctx := context.Background()

	first, err := d.Claim(ctx, "a1")
	if err != nil || !first {
		t.Fatalf("first claim = %v, %v", first, err)
	}
	if again, _ := d.Claim(ctx, "a1"); again {
		t.Errorf("second claim should report a duplicate")
	}
	if ttl := fake.keys["scored:a1"]; ttl != time.Hour {
		t.Errorf("key ttl = %v, want 1h", ttl)
	}

	if err := d.Release(ctx, "a1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if first, _ := d.Claim(ctx, "a1"); !first {
		t.Errorf("released key should be claimable again")
	}
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Errorf("registering twice should fail")
	}
}
