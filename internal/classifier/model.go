package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// Format tags serialised models.
const Format = "gbdt-logistic/1"

var errInvalidModel = errors.New("invalid model")

// InvalidModelError reports a model document that cannot be used for prediction.
func InvalidModelError(reason string) error {
	return fmt.Errorf("%w, %s", errInvalidModel, reason)
}

// Node is one node of a tree stored in a flat slice. Leaves have Leaf set and carry the
// already shrunk Value; internal nodes send x[Feature] <= Threshold to Left.
type Node struct {
	Feature   int     `json:"f,omitempty"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

// Tree is a regression tree; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Model is a trained ensemble.
type Model struct {
	Format    string  `json:"format"`
	Params    Params  `json:"params"`
	Features  int     `json:"num_features"`
	BaseScore float64 `json:"base_margin"`
	Trees     []Tree  `json:"trees"`
}

// Margin returns the raw log-odds for x.
func (m *Model) Margin(x []float64) float64 {
	sum := m.BaseScore
	for _, t := range m.Trees {
		sum += t.predict(x)
	}
	return sum
}

// PredictProba returns the probability that x belongs to the positive class.
func (m *Model) PredictProba(x []float64) float64 {
	return sigmoid(m.Margin(x))
}

// Predict labels x as 1 when its probability reaches threshold.
func (m *Model) Predict(x []float64, threshold float64) int {
	if m.PredictProba(x) >= threshold {
		return 1
	}
	return 0
}

// PredictAll labels every row of x.
func (m *Model) PredictAll(x [][]float64, threshold float64) []int {
	out := make([]int, len(x))
	for i, row := range x {
		out[i] = m.Predict(row, threshold)
	}
	return out
}

// Validate checks the model structure so that prediction cannot index out of range or loop.
func (m *Model) Validate() error {
	if m.Format != Format {
		return InvalidModelError(fmt.Sprintf("format %q", m.Format))
	}
	if m.Features < 1 {
		return InvalidModelError("no features")
	}
	for ti, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return InvalidModelError(fmt.Sprintf("tree %d is empty", ti))
		}
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= m.Features {
				return InvalidModelError(fmt.Sprintf("tree %d node %d uses feature %d", ti, ni, n.Feature))
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return InvalidModelError(fmt.Sprintf("tree %d node %d has bad children", ti, ni))
			}
		}
	}
	return nil
}

// Write serialises the model as JSON.
func (m *Model) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	return enc.Encode(m)
}

// Read decodes and validates a model written by Write.
func Read(r io.Reader) (*Model, error) {
	var m Model
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
