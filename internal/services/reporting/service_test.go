package reporting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fraud-detection-pipeline/internal/models"
	"fraud-detection-pipeline/internal/repository"
	"fraud-detection-pipeline/internal/testutil"
)

type finderFunc func(ctx context.Context, from, to time.Time) ([]models.FraudPrediction, error)

func (f finderFunc) FindBetween(ctx context.Context, from, to time.Time) ([]models.FraudPrediction, error) {
	return f(ctx, from, to)
}

type recordingSender struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (s *recordingSender) Send(_ context.Context, subject, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	s.bodies = append(s.bodies, body)
}

func fraudRow(amt, category string, detected time.Time) models.FraudPrediction {
	return models.FraudPrediction{
		TransactionFields:  testutil.Transaction("x", amt, category, detected),
		IsFraudPredicted:   1,
		DetectionTimestamp: detected,
	}
}

func TestFormatReport(t *testing.T) {
	day := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	preds := []models.FraudPrediction{
		fraudRow("950.00", "shopping_net", time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)),
		fraudRow("12.5", "travel", time.Date(2024, 6, 15, 23, 59, 59, 0, time.UTC)),
	}

	want := "Fraud report for 2024-06-15:\n\n" +
		"Frauds detected: 2\n\n" +
		"Transaction details:\n" +
		"   detection_timestamp  amt     category\n" +
		"0  2024-06-15 10:00:00  950.00  shopping_net\n" +
		"1  2024-06-15 23:59:59  12.50   travel"

	if got := FormatReport(day, preds, time.UTC); got != want {
		t.Errorf("FormatReport mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}

	if got := FormatReport(day, nil, time.UTC); got != NoFraudMessage {
		t.Errorf("empty report = %q, want %q", got, NoFraudMessage)
	}
}

func TestBuildReport_SelectsCalendarDay(t *testing.T) {
	db := testutil.NewDB(t)
	txRepo := repository.NewTransactionRepository(db)
	ctx := context.Background()

	day := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	rows := []struct {
		num      string
		amt      string
		category string
		detected time.Time
		flag     int
	}{
		{"before", "10.00", "travel", day.Add(-time.Second), 1},
		{"first", "950.00", "shopping_net", day, 1},
		{"second", "120.10", "gas_transport", day.Add(23*time.Hour + 59*time.Minute), 1},
		{"legit", "5.00", "grocery_pos", day.Add(time.Hour), 0},
		{"after", "33.00", "travel", day.AddDate(0, 0, 1), 1},
	}
	for _, r := range rows {
		pred := testutil.Prediction(testutil.Transaction(r.num, r.amt, r.category, r.detected), r.flag, r.detected)
		if _, err := txRepo.SaveScored(ctx, []models.Prediction{pred}); err != nil {
			t.Fatalf("SaveScored failed: %v", err)
		}
	}

	svc := NewService(repository.NewPredictionRepository(db), &recordingSender{}, Options{})
	report, err := svc.BuildReport(ctx, day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("BuildReport failed: %v", err)
	}

	if !strings.Contains(report, "Frauds detected: 2\n") {
		t.Errorf("report should count 2 frauds:\n%s", report)
	}
	for _, want := range []string{"950.00", "shopping_net", "120.10", "gas_transport", "2024-06-15 23:59:00"} {
		if !strings.Contains(report, want) {
			t.Errorf("report lacks %q:\n%s", want, report)
		}
	}
	for _, unwanted := range []string{"33.00", "10.00", "5.00"} {
		if strings.Contains(report, unwanted) {
			t.Errorf("report should not contain %q:\n%s", unwanted, report)
		}
	}

	empty, err := svc.BuildReport(ctx, day.AddDate(0, 0, -3))
	if err != nil {
		t.Fatalf("BuildReport failed: %v", err)
	}
	if want := "No fraud was detected on 2024-06-12."; empty != want {
		t.Errorf("empty day report = %q, want %q", empty, want)
	}

	// Yesterday keeps the daily email wording.
	svc.now = func() time.Time { return time.Date(2024, 6, 13, 8, 0, 0, 0, time.UTC) }
	if empty, _ = svc.BuildReport(ctx, day.AddDate(0, 0, -3)); empty != NoFraudMessage {
		t.Errorf("yesterday's empty report = %q, want %q", empty, NoFraudMessage)
	}
}

func TestDayBounds_Zoned(t *testing.T) {
	paris := time.FixedZone("CEST", 2*60*60)
	from, to := DayBounds(time.Date(2024, 6, 14, 23, 30, 0, 0, time.UTC), paris)

	if want := time.Date(2024, 6, 14, 22, 0, 0, 0, time.UTC); !from.Equal(want) {
		t.Errorf("from = %v, want %v", from.UTC(), want)
	}
	if to.Sub(from) != 24*time.Hour {
		t.Errorf("window = %v, want 24h", to.Sub(from))
	}
}

func TestRun_ReportsYesterday(t *testing.T) {
	var gotFrom time.Time
	finder := finderFunc(func(_ context.Context, from, _ time.Time) ([]models.FraudPrediction, error) {
		gotFrom = from
		return nil, nil
	})
	sender := &recordingSender{}
	svc := NewService(finder, sender, Options{})
	svc.now = func() time.Time { return time.Date(2024, 6, 16, 0, 5, 0, 0, time.UTC) }

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if want := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC); !gotFrom.Equal(want) {
		t.Errorf("queried from %v, want %v", gotFrom, want)
	}
	if len(sender.subjects) != 1 || sender.subjects[0] != Subject || sender.bodies[0] != NoFraudMessage {
		t.Errorf("unexpected emails %v %v", sender.subjects, sender.bodies)
	}
}

func TestRunFor_RetriesOnce(t *testing.T) {
	calls := 0
	finder := finderFunc(func(context.Context, time.Time, time.Time) ([]models.FraudPrediction, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return []models.FraudPrediction{fraudRow("950.00", "travel", time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC))}, nil
	})
	sender := &recordingSender{}
	svc := NewService(finder, sender, Options{Retries: DefaultRetries})

	if err := svc.RunFor(context.Background(), time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("RunFor failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("finder called %d times, want 2", calls)
	}
	if len(sender.bodies) != 1 || !strings.Contains(sender.bodies[0], "Frauds detected: 1") {
		t.Errorf("unexpected emails %v", sender.bodies)
	}
}

func TestRunFor_GivesUp(t *testing.T) {
	calls := 0
	failure := errors.New("database unavailable")
	finder := finderFunc(func(context.Context, time.Time, time.Time) ([]models.FraudPrediction, error) {
		calls++
		return nil, failure
	})
	sender := &recordingSender{}
	svc := NewService(finder, sender, Options{Retries: DefaultRetries})

	err := svc.RunFor(context.Background(), time.Now())
	if !errors.Is(err, failure) {
		t.Errorf("expected the query error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("finder called %d times, want 2", calls)
	}
	if len(sender.bodies) != 0 {
		t.Errorf("no email should be sent when the report fails")
	}
}

func TestSchedule(t *testing.T) {
	svc := NewService(finderFunc(func(context.Context, time.Time, time.Time) ([]models.FraudPrediction, error) {
		return nil, nil
	}), &recordingSender{}, Options{})

	if err := svc.Schedule(context.Background(), "not a schedule"); err == nil {
		t.Errorf("expected an invalid schedule error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Schedule(ctx, DefaultSchedule); err != nil {
		t.Errorf("Schedule returned %v after cancellation", err)
	}
}
