package registry_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fraud-detection-pipeline/internal/registry"
	"fraud-detection-pipeline/internal/registry/registrytest"
)

func TestNewClient_InvalidURI(t *testing.T) {
	for _, uri := range []string{"", "mlflow-server:5000", "://bad"} {
		if _, err := registry.NewClient(nil, uri); err == nil {
			t.Errorf("NewClient(%q) should fail", uri)
		}
	}
}

func TestEnsureExperiment(t *testing.T) {
	srv := registrytest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	if _, err := client.GetExperimentByName(ctx, "Fraud Detection Training"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	id, err := client.EnsureExperiment(ctx, "Fraud Detection Training")
	if err != nil {
		t.Fatalf("EnsureExperiment failed: %v", err)
	}
	again, err := client.EnsureExperiment(ctx, "Fraud Detection Training")
	if err != nil {
		t.Fatalf("EnsureExperiment failed: %v", err)
	}
	if id == "" || id != again {
		t.Errorf("experiment ids = %q, %q; want the same non-empty id", id, again)
	}
}

func TestRunLifecycle(t *testing.T) {
	srv := registrytest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	expID, err := client.EnsureExperiment(ctx, "exp")
	if err != nil {
		t.Fatalf("EnsureExperiment failed: %v", err)
	}
	run, err := client.CreateRun(ctx, expID, "XGBoost_Fraud_GridSearch", nil)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Info.Status != registry.RunRunning || !strings.HasPrefix(run.Info.ArtifactURI, "mlflow-artifacts:") {
		t.Errorf("unexpected run info %+v", run.Info)
	}

	err = client.LogBatch(ctx, run.Info.RunID,
		[]registry.Param{{Key: "max_depth", Value: registry.FormatParam(5)}},
		[]registry.Metric{registry.NewMetric("f1_test", 0.75)}, nil)
	if err != nil {
		t.Fatalf("LogBatch failed: %v", err)
	}
	if err := client.UpdateRun(ctx, run.Info.RunID, registry.RunFinished); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	if got := srv.Params(run.Info.RunID)["max_depth"]; got != "5" {
		t.Errorf("param max_depth = %q, want 5", got)
	}
	if got := srv.Metrics(run.Info.RunID)["f1_test"]; got != 0.75 {
		t.Errorf("metric f1_test = %v, want 0.75", got)
	}
	if info, _ := srv.Run(run.Info.RunID); info.Status != registry.RunFinished {
		t.Errorf("run status = %q, want FINISHED", info.Status)
	}
}

func TestArtifacts(t *testing.T) {
	srv := registrytest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	uri := "mlflow-artifacts:/1/run9/artifacts"
	if err := client.UploadArtifact(ctx, uri, "model/model.json", bytes.NewBufferString(`{"a":1}`)); err != nil {
		t.Fatalf("UploadArtifact failed: %v", err)
	}
	if _, ok := srv.Artifact("1/run9/artifacts/model/model.json"); !ok {
		t.Fatalf("artifact not stored under the expected path, have %v", srv.ArtifactPaths())
	}

	data, err := client.DownloadArtifact(ctx, uri+"/model", "model.json")
	if err != nil {
		t.Fatalf("DownloadArtifact failed: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("downloaded %q", data)
	}

	if _, err := client.DownloadArtifact(ctx, uri, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing artifact, got %v", err)
	}
	if _, err := client.DownloadArtifact(ctx, "s3://bucket/1/run9", "model.json"); err == nil {
		t.Errorf("expected error for a non-proxied artifact store")
	}
}

func TestResolveSource(t *testing.T) {
	srv := registrytest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	run, err := client.CreateRun(ctx, "0", "r", nil)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := client.ResolveSource(ctx, "runs:/"+run.Info.RunID+"/model")
	if err != nil {
		t.Fatalf("ResolveSource failed: %v", err)
	}
	if want := run.Info.ArtifactURI + "/model"; got != want {
		t.Errorf("ResolveSource = %q, want %q", got, want)
	}

	plain := "mlflow-artifacts:/0/x/artifacts/model"
	if got, _ := client.ResolveSource(ctx, plain); got != plain {
		t.Errorf("ResolveSource changed a plain URI to %q", got)
	}
}

func TestModelRegistry(t *testing.T) {
	srv := registrytest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()
	const name = "XGBoost_Fraud_Model_Prod"

	if err := client.EnsureRegisteredModel(ctx, name); err != nil {
		t.Fatalf("EnsureRegisteredModel failed: %v", err)
	}
	if err := client.EnsureRegisteredModel(ctx, name); err != nil {
		t.Fatalf("EnsureRegisteredModel on existing model failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := client.CreateModelVersion(ctx, name, "mlflow-artifacts:/0/r/artifacts/model", "r"); err != nil {
			t.Fatalf("CreateModelVersion failed: %v", err)
		}
	}

	versions, err := client.SearchModelVersions(ctx, name)
	if err != nil {
		t.Fatalf("SearchModelVersions failed: %v", err)
	}
	latest, ok := registry.Latest(versions)
	if !ok || latest.Version != "3" {
		t.Fatalf("Latest = %+v, want version 3", latest)
	}

	if _, err := client.GetVersionByAlias(ctx, name, "production"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unset alias, got %v", err)
	}
	if err := client.SetAlias(ctx, name, "production", "2"); err != nil {
		t.Fatalf("SetAlias failed: %v", err)
	}
	v, err := client.GetVersionByAlias(ctx, name, "production")
	if err != nil {
		t.Fatalf("GetVersionByAlias failed: %v", err)
	}
	if v.Version != "2" {
		t.Errorf("alias points at %s, want 2", v.Version)
	}

	got, err := client.GetModelVersion(ctx, name, "2")
	if err != nil {
		t.Fatalf("GetModelVersion failed: %v", err)
	}
	if len(got.Aliases) != 1 || got.Aliases[0] != "production" {
		t.Errorf("aliases = %v, want [production]", got.Aliases)
	}
}

func TestLatest_NumericOrder(t *testing.T) {
	versions := []registry.ModelVersion{{Version: "9"}, {Version: "10"}, {Version: "2"}}
	if got, _ := registry.Latest(versions); got.Version != "10" {
		t.Errorf("Latest = %s, want 10", got.Version)
	}
	if _, ok := registry.Latest(nil); ok {
		t.Errorf("Latest(nil) should report no version")
	}
}

func TestStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	client, err := registry.NewClient(srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.GetExperimentByName(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected unexpected status error with code 502, got %v", err)
	}

	var apiErr *registry.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("non-JSON body should not decode to an APIError")
	}
}
