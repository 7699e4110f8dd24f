package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Run statuses.
const (
	RunRunning  = "RUNNING"
	RunFinished = "FINISHED"
	RunFailed   = "FAILED"
)

// Experiment is an MLflow experiment.
type Experiment struct {
	ID               string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
	LifecycleStage   string `json:"lifecycle_stage"`
}

// RunInfo is the metadata of a run.
type RunInfo struct {
	RunID        string `json:"run_id"`
	RunName      string `json:"run_name"`
	ExperimentID string `json:"experiment_id"`
	Status       string `json:"status"`
	ArtifactURI  string `json:"artifact_uri"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time,omitempty"`
}

// Run is an MLflow run.
type Run struct {
	Info RunInfo `json:"info"`
}

// Metric is one logged metric value.
type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// Param is one logged parameter.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tag is a key/value annotation on a run or model version.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetExperimentByName looks an experiment up by name. It returns ErrNotFound when absent.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var out struct {
		Experiment Experiment `json:"experiment"`
	}
	if err := c.get(ctx, "/experiments/get-by-name", url.Values{"experiment_name": {name}}, &out); err != nil {
		return nil, fmt.Errorf("failed to get experiment %q: %w", name, err)
	}
	return &out.Experiment, nil
}

// CreateExperiment creates an experiment and returns its id.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	var out struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := c.post(ctx, "/experiments/create", map[string]string{"name": name}, &out); err != nil {
		return "", fmt.Errorf("failed to create experiment %q: %w", name, err)
	}
	return out.ExperimentID, nil
}

// EnsureExperiment returns the id of the named experiment, creating it when it does not exist.
func (c *Client) EnsureExperiment(ctx context.Context, name string) (string, error) {
	exp, err := c.GetExperimentByName(ctx, name)
	if err == nil {
		return exp.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	return c.CreateExperiment(ctx, name)
}

// CreateRun starts a run in an experiment.
func (c *Client) CreateRun(ctx context.Context, experimentID, runName string, tags []Tag) (*Run, error) {
	req := struct {
		ExperimentID string `json:"experiment_id"`
		RunName      string `json:"run_name"`
		StartTime    int64  `json:"start_time"`
		Tags         []Tag  `json:"tags,omitempty"`
	}{experimentID, runName, time.Now().UnixMilli(), tags}

	var out struct {
		Run Run `json:"run"`
	}
	if err := c.post(ctx, "/runs/create", req, &out); err != nil {
		return nil, fmt.Errorf("failed to create run %q: %w", runName, err)
	}
	return &out.Run, nil
}

// GetRun fetches a run by id.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	var out struct {
		Run Run `json:"run"`
	}
	if err := c.get(ctx, "/runs/get", url.Values{"run_id": {runID}}, &out); err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return &out.Run, nil
}

// UpdateRun sets the terminal status of a run.
func (c *Client) UpdateRun(ctx context.Context, runID, status string) error {
	req := map[string]any{
		"run_id":   runID,
		"status":   status,
		"end_time": time.Now().UnixMilli(),
	}
	if err := c.post(ctx, "/runs/update", req, nil); err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return nil
}

// LogBatch records params, metrics and tags on a run in one call.
func (c *Client) LogBatch(ctx context.Context, runID string, params []Param, metrics []Metric, tags []Tag) error {
	req := struct {
		RunID   string   `json:"run_id"`
		Metrics []Metric `json:"metrics,omitempty"`
		Params  []Param  `json:"params,omitempty"`
		Tags    []Tag    `json:"tags,omitempty"`
	}{runID, metrics, params, tags}

	if err := c.post(ctx, "/runs/log-batch", req, nil); err != nil {
		return fmt.Errorf("failed to log batch on run %s: %w", runID, err)
	}
	return nil
}

// NewMetric stamps a metric with the current time.
func NewMetric(key string, value float64) Metric {
	return Metric{Key: key, Value: value, Timestamp: time.Now().UnixMilli()}
}

// FormatParam renders a parameter value the way MLflow's python client does.
func FormatParam(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
