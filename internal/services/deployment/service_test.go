package deployment

import (
	"context"
	"errors"
	"testing"

	"fraud-detection-pipeline/internal/registry"
	"fraud-detection-pipeline/internal/registry/registrytest"
	"fraud-detection-pipeline/internal/repository"
	"fraud-detection-pipeline/internal/testutil"
)

const modelName = "XGBoost_Fraud_Model_Prod"

func TestDeploy_PromotesLatest(t *testing.T) {
	srv := registrytest.NewServer(t)
	for i := 0; i < 10; i++ {
		srv.AddVersion(modelName, "runs:/r/model")
	}
	runs := repository.NewRunRepository(testutil.NewDB(t))
	svc := NewService(srv.Client(t), runs, Options{ModelName: modelName, Alias: "production"})
	ctx := context.Background()

	res, err := svc.Deploy(ctx, "", "nightly retrain")
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if res.Version != "10" || res.Previous != "" {
		t.Errorf("result = %+v, want version 10 with no previous holder", res)
	}
	if v, _ := srv.Alias(modelName, "production"); v != "10" {
		t.Errorf("alias points at %q, want 10", v)
	}

	for _, v := range srv.Versions(modelName) {
		if v.CurrentStage != "" {
			t.Errorf("version %s stage changed to %q", v.Version, v.CurrentStage)
		}
	}

	entry, err := runs.LatestPromotion(ctx, modelName)
	if err != nil {
		t.Fatalf("LatestPromotion failed: %v", err)
	}
	if entry.NewVersion != "10" || entry.PreviousVersion != nil || entry.Reason != "nightly retrain" || entry.PerformedBy != defaultPerformedBy {
		t.Errorf("unexpected audit entry %+v", entry)
	}
}

func TestDeploy_ExplicitVersionAndPrevious(t *testing.T) {
	srv := registrytest.NewServer(t)
	srv.AddVersion(modelName, "a")
	srv.AddVersion(modelName, "b")
	runs := repository.NewRunRepository(testutil.NewDB(t))
	svc := NewService(srv.Client(t), runs, Options{ModelName: modelName, Alias: "production"})
	ctx := context.Background()

	if _, err := svc.Deploy(ctx, "", ""); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}

	res, err := svc.Deploy(ctx, "1", "rollback")
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if res.Version != "1" || res.Previous != "2" {
		t.Errorf("result = %+v, want 1 replacing 2", res)
	}
	if v, _ := srv.Alias(modelName, "production"); v != "1" {
		t.Errorf("alias points at %q, want 1", v)
	}

	entry, err := runs.LatestPromotion(ctx, modelName)
	if err != nil {
		t.Fatalf("LatestPromotion failed: %v", err)
	}
	if entry.PreviousVersion == nil || *entry.PreviousVersion != "2" {
		t.Errorf("audit entry previous = %v, want 2", entry.PreviousVersion)
	}

	if _, err := svc.Deploy(ctx, "7", ""); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing version, got %v", err)
	}
}

func TestDeploy_NoVersions(t *testing.T) {
	srv := registrytest.NewServer(t)
	svc := NewService(srv.Client(t), nil, Options{ModelName: modelName, Alias: "production"})

	if _, err := svc.Deploy(context.Background(), "", ""); !errors.Is(err, ErrNoModelVersions) {
		t.Errorf("expected ErrNoModelVersions, got %v", err)
	}
	if _, ok := srv.Alias(modelName, "production"); ok {
		t.Errorf("alias should not be set")
	}
}

func TestDeploy_RegistryFailure(t *testing.T) {
	srv := registrytest.NewServer(t)
	srv.AddVersion(modelName, "a")
	srv.FailPaths = []string{"registered-models/alias"}
	svc := NewService(srv.Client(t), nil, Options{ModelName: modelName, Alias: "production"})

	if _, err := svc.Deploy(context.Background(), "", ""); err == nil {
		t.Errorf("expected an error when the registry fails")
	}
}
