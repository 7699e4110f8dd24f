package training

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"fraud-detection-pipeline/internal/classifier"
	"fraud-detection-pipeline/internal/features"
)

// Artifact names under the run's artifact root.
const (
	ModelDir            = "model"
	ModelFile           = "model.json"
	MLmodelFile         = "MLmodel"
	ConfusionMatrixFile = "confusion_matrix.png"
)

const flavorName = "go_gbdt"

type columnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// mlmodel is the MLmodel descriptor written next to the model so the registry UI shows the
// flavor, signature and an input example.
type mlmodel struct {
	ArtifactPath   string                    `yaml:"artifact_path"`
	Flavors        map[string]map[string]any `yaml:"flavors"`
	RunID          string                    `yaml:"run_id"`
	UTCTimeCreated string                    `yaml:"utc_time_created"`
	Signature      map[string]string         `yaml:"signature"`
	InputExample   map[string]float64        `yaml:"input_example,omitempty"`
}

// MLmodelDescriptor renders the descriptor for a trained bundle. example is one training row
// in feature column order.
func MLmodelDescriptor(runID string, b *classifier.Bundle, example []float64, created time.Time) ([]byte, error) {
	inputs := make([]columnSpec, len(features.Columns))
	for i, col := range features.Columns {
		inputs[i] = columnSpec{Name: col, Type: "double"}
	}
	inputJSON, err := json.Marshal(inputs)
	if err != nil {
		return nil, err
	}
	outputJSON, err := json.Marshal([]map[string]string{{"type": "long"}})
	if err != nil {
		return nil, err
	}

	m := mlmodel{
		ArtifactPath: ModelDir,
		Flavors: map[string]map[string]any{
			flavorName: {
				"model_file":      ModelFile,
				"format":          b.Model.Format,
				"feature_version": b.FeatureVersion,
				"n_estimators":    b.Model.Params.NEstimators,
			},
		},
		RunID:          runID,
		UTCTimeCreated: created.UTC().Format("2006-01-02 15:04:05.000000"),
		Signature: map[string]string{
			"inputs":  string(inputJSON),
			"outputs": string(outputJSON),
		},
	}

	if len(example) == len(features.Columns) {
		m.InputExample = make(map[string]float64, len(example))
		for i, col := range features.Columns {
			m.InputExample[col] = example[i]
		}
	}

	out, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to render MLmodel: %w", err)
	}
	return out, nil
}
