// Package training fits the fraud classifier with a cross-validated grid search, logs the run
// to the model registry and registers the resulting model version.
package training

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/classifier"
	"fraud-detection-pipeline/internal/features"
	"fraud-detection-pipeline/internal/registry"
)

// Defaults.
const (
	DefaultRunName   = "XGBoost_Fraud_GridSearch"
	DefaultFolds     = 3
	DefaultTestSize  = 0.2
	DefaultSeed      = 42
	DefaultThreshold = 0.5
)

// Options configure a training run.
type Options struct {
	// Dataset is an http(s) URL or a local CSV path.
	Dataset string
	// GridPath is an optional YAML grid file; empty uses DefaultGrid.
	GridPath       string
	ExperimentName string
	RunName        string
	ModelName      string
	// LocalModelPath receives a copy of the model bundle; empty skips it.
	LocalModelPath string
	Parallelism    int
	Folds          int
	TestSize       float64
	Seed           int64
	Threshold      float64
}

func (o Options) withDefaults() Options {
	if o.RunName == "" {
		o.RunName = DefaultRunName
	}
	if o.Folds == 0 {
		o.Folds = DefaultFolds
	}
	if o.TestSize == 0 {
		o.TestSize = DefaultTestSize
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Parallelism < 1 {
		o.Parallelism = 1
	}
	return o
}

// Result summarises a finished training run.
type Result struct {
	RunID        string               `json:"run_id"`
	ModelName    string               `json:"model_name"`
	ModelVersion string               `json:"model_version"`
	Params       classifier.Params    `json:"params"`
	CVF1         float64              `json:"f1_train_cv"`
	Precision    float64              `json:"precision"`
	Recall       float64              `json:"recall"`
	F1           float64              `json:"f1_test"`
	Confusion    classifier.Confusion `json:"confusion"`
	TrainRows    int                  `json:"train_rows"`
	TestRows     int                  `json:"test_rows"`
}

type Service struct {
	registry   *registry.Client
	httpClient *http.Client
	opts       Options
}

func NewService(reg *registry.Client, httpClient *http.Client, opts Options) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{
		registry:   reg,
		httpClient: httpClient,
		opts:       opts.withDefaults(),
	}
}

// Train runs one full retrain. A registry run left open by an error is marked FAILED.
func (s *Service) Train(ctx context.Context) (res *Result, err error) {
	logger := appcontext.LoggerFromContext(ctx)

	grid := DefaultGrid()
	if s.opts.GridPath != "" {
		if grid, err = LoadGrid(s.opts.GridPath); err != nil {
			return nil, err
		}
	}
	candidates, err := grid.Candidates()
	if err != nil {
		return nil, err
	}

	set, err := ReadDataset(ctx, s.httpClient, s.opts.Dataset)
	if err != nil {
		return nil, err
	}

	enc := features.Fit(set.Transactions)
	x := enc.TransformAll(set.Transactions)
	trainRows, testRows := StratifiedSplit(set.Labels, s.opts.TestSize, s.opts.Seed)
	trainX, trainY := subset(x, set.Labels, trainRows)
	testX, testY := subset(x, set.Labels, testRows)

	expID, err := s.registry.EnsureExperiment(ctx, s.opts.ExperimentName)
	if err != nil {
		return nil, err
	}
	run, err := s.registry.CreateRun(ctx, expID, s.opts.RunName, []registry.Tag{
		{Key: "feature_version", Value: features.Version},
	})
	if err != nil {
		return nil, err
	}
	runID := run.Info.RunID
	defer func() {
		if err == nil {
			return
		}
		if uerr := s.registry.UpdateRun(context.WithoutCancel(ctx), runID, registry.RunFailed); uerr != nil {
			logger.ErrorContext(ctx, "failed to mark run as failed", "run_id", runID, "error", uerr)
		}
	}()

	logger.InfoContext(ctx, "grid search started",
		"run_id", runID,
		"candidates", len(candidates),
		"folds", s.opts.Folds,
		"train_rows", len(trainRows),
		"test_rows", len(testRows))

	scores, err := GridSearch(ctx, trainX, trainY, candidates, SearchOptions{
		Folds:       s.opts.Folds,
		Parallelism: s.opts.Parallelism,
		Seed:        s.opts.Seed,
		Threshold:   s.opts.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("grid search failed: %w", err)
	}
	logger.InfoContext(ctx, "grid search finished", "best", scores.Best.String(), "f1_train_cv", scores.BestF1)

	model, err := classifier.Fit(ctx, trainX, trainY, scores.Best)
	if err != nil {
		return nil, fmt.Errorf("failed to refit best candidate: %w", err)
	}

	confusion, err := classifier.Evaluate(testY, model.PredictAll(testX, s.opts.Threshold))
	if err != nil {
		return nil, err
	}

	res = &Result{
		RunID:     runID,
		ModelName: s.opts.ModelName,
		Params:    scores.Best,
		CVF1:      scores.BestF1,
		Precision: confusion.Precision(),
		Recall:    confusion.Recall(),
		F1:        confusion.F1(),
		Confusion: confusion,
		TrainRows: len(trainRows),
		TestRows:  len(testRows),
	}

	if err := s.logRun(ctx, runID, res); err != nil {
		return nil, err
	}

	bundle := classifier.NewBundle(enc, model)
	var example []float64
	if len(trainX) > 0 {
		example = trainX[0]
	}
	if err := s.uploadArtifacts(ctx, run.Info.ArtifactURI, runID, bundle, example, confusion); err != nil {
		return nil, err
	}

	if err := s.registry.EnsureRegisteredModel(ctx, s.opts.ModelName); err != nil {
		return nil, err
	}
	source := run.Info.ArtifactURI + "/" + ModelDir
	version, err := s.registry.CreateModelVersion(ctx, s.opts.ModelName, source, runID)
	if err != nil {
		return nil, err
	}
	res.ModelVersion = version.Version

	if err := s.registry.UpdateRun(ctx, runID, registry.RunFinished); err != nil {
		return nil, err
	}

	if s.opts.LocalModelPath != "" {
		if err := writeLocalCopy(s.opts.LocalModelPath, bundle); err != nil {
			return nil, err
		}
	}

	logger.InfoContext(ctx, "training run completed",
		"run_id", runID,
		"model", s.opts.ModelName,
		"version", res.ModelVersion,
		"precision", res.Precision,
		"recall", res.Recall,
		"f1_test", res.F1)

	return res, nil
}

func (s *Service) logRun(ctx context.Context, runID string, res *Result) error {
	params := []registry.Param{
		{Key: "n_estimators", Value: registry.FormatParam(res.Params.NEstimators)},
		{Key: "max_depth", Value: registry.FormatParam(res.Params.MaxDepth)},
		{Key: "learning_rate", Value: registry.FormatParam(res.Params.LearningRate)},
		{Key: "scale_pos_weight", Value: registry.FormatParam(res.Params.ScalePosWeight)},
	}
	metrics := []registry.Metric{
		registry.NewMetric("f1_train_cv", res.CVF1),
		registry.NewMetric("precision", res.Precision),
		registry.NewMetric("recall", res.Recall),
		registry.NewMetric("f1_test", res.F1),
	}
	return s.registry.LogBatch(ctx, runID, params, metrics, nil)
}

func (s *Service) uploadArtifacts(ctx context.Context, artifactURI, runID string, bundle *classifier.Bundle, example []float64, confusion classifier.Confusion) error {
	var model bytes.Buffer
	if err := bundle.Write(&model); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	descriptor, err := MLmodelDescriptor(runID, bundle, example, time.Now())
	if err != nil {
		return err
	}
	plot, err := ConfusionMatrixPNG(confusion)
	if err != nil {
		return err
	}

	uploads := []struct {
		path string
		body []byte
	}{
		{ModelDir + "/" + ModelFile, model.Bytes()},
		{ModelDir + "/" + MLmodelFile, descriptor},
		{ConfusionMatrixFile, plot},
	}
	for _, u := range uploads {
		if err := s.registry.UploadArtifact(ctx, artifactURI, u.path, bytes.NewReader(u.body)); err != nil {
			return err
		}
	}
	return nil
}

func writeLocalCopy(path string, bundle *classifier.Bundle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create local model copy: %w", err)
	}
	if err := bundle.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write local model copy: %w", err)
	}
	return f.Close()
}

func subset(x [][]float64, y []int, rows []int) ([][]float64, []int) {
	sx := make([][]float64, len(rows))
	sy := make([]int, len(rows))
	for i, r := range rows {
		sx[i] = x[r]
		sy[i] = y[r]
	}
	return sx, sy
}
