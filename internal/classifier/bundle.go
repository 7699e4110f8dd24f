package classifier

import (
	"encoding/json"
	"fmt"
	"io"

	"fraud-detection-pipeline/internal/features"
	"fraud-detection-pipeline/internal/models"
)

// Bundle is the deployable model artifact: the fitted feature encoder travels with the trees
// so scoring derives exactly the inputs the model was trained on.
type Bundle struct {
	FeatureVersion string            `json:"feature_version"`
	Columns        []string          `json:"columns"`
	Encoder        *features.Encoder `json:"encoder"`
	Model          *Model            `json:"model"`
}

// NewBundle pairs a trained model with its encoder.
func NewBundle(enc *features.Encoder, m *Model) *Bundle {
	return &Bundle{
		FeatureVersion: features.Version,
		Columns:        features.Columns,
		Encoder:        enc,
		Model:          m,
	}
}

// Score returns the fraud probability of a transaction.
func (b *Bundle) Score(tx models.TransactionFields) float64 {
	return b.Model.PredictProba(b.Encoder.Transform(tx))
}

// Write serialises the bundle as JSON.
func (b *Bundle) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	return enc.Encode(b)
}

// ReadBundle decodes a bundle and checks it matches the current feature layout.
func ReadBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode model bundle: %w", err)
	}
	if b.FeatureVersion != features.Version {
		return nil, features.VersionMismatchError(b.FeatureVersion)
	}
	if b.Encoder == nil || b.Model == nil {
		return nil, InvalidModelError("bundle is missing its encoder or model")
	}
	if err := b.Model.Validate(); err != nil {
		return nil, err
	}
	if b.Model.Features != len(features.Columns) {
		return nil, InvalidModelError(fmt.Sprintf("model expects %d features, encoder produces %d",
			b.Model.Features, len(features.Columns)))
	}
	return &b, nil
}
