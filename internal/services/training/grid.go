package training

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fraud-detection-pipeline/internal/classifier"
)

var errInvalidGrid = errors.New("invalid parameter grid")

// InvalidGridError reports a grid that yields no candidates.
func InvalidGridError(reason string) error {
	return fmt.Errorf("%w, %s", errInvalidGrid, reason)
}

// Grid lists the values searched for each hyper-parameter.
type Grid struct {
	NEstimators    []int     `yaml:"n_estimators"`
	MaxDepth       []int     `yaml:"max_depth"`
	LearningRate   []float64 `yaml:"learning_rate"`
	ScalePosWeight []float64 `yaml:"scale_pos_weight"`
}

// DefaultGrid is the search space used when no grid file is given.
func DefaultGrid() Grid {
	return Grid{
		NEstimators:    []int{50, 100},
		MaxDepth:       []int{3, 5, 7},
		LearningRate:   []float64{0.01, 0.1, 0.2},
		ScalePosWeight: []float64{1, 10},
	}
}

// LoadGrid reads a YAML grid file. Keys left out keep their default values.
func LoadGrid(path string) (Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Grid{}, fmt.Errorf("failed to read grid file: %w", err)
	}

	var g Grid
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Grid{}, InvalidGridError(err.Error())
	}

	d := DefaultGrid()
	if len(g.NEstimators) == 0 {
		g.NEstimators = d.NEstimators
	}
	if len(g.MaxDepth) == 0 {
		g.MaxDepth = d.MaxDepth
	}
	if len(g.LearningRate) == 0 {
		g.LearningRate = d.LearningRate
	}
	if len(g.ScalePosWeight) == 0 {
		g.ScalePosWeight = d.ScalePosWeight
	}

	return g, nil
}

// Candidates expands the grid in a fixed order, the last key varying fastest.
func (g Grid) Candidates() ([]classifier.Params, error) {
	var out []classifier.Params
	for _, n := range g.NEstimators {
		for _, depth := range g.MaxDepth {
			for _, lr := range g.LearningRate {
				for _, w := range g.ScalePosWeight {
					p := classifier.Params{
						NEstimators:    n,
						MaxDepth:       depth,
						LearningRate:   lr,
						ScalePosWeight: w,
					}.WithDefaults()
					if err := p.Validate(); err != nil {
						return nil, err
					}
					out = append(out, p)
				}
			}
		}
	}
	if len(out) == 0 {
		return nil, InvalidGridError("no candidates")
	}
	return out, nil
}
