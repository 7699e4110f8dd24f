// Package classifier implements binary gradient-boosted decision trees with a logistic loss,
// following the XGBoost formulation (second-order gain, L2 leaf regularisation).
package classifier

import (
	"errors"
	"fmt"
)

var errInvalidParams = errors.New("invalid parameters")

// InvalidParamsError reports a hyper-parameter outside its domain.
func InvalidParamsError(reason string) error {
	return fmt.Errorf("%w, %s", errInvalidParams, reason)
}

// Params are the boosting hyper-parameters. Names follow XGBoost.
type Params struct {
	NEstimators    int     `json:"n_estimators" yaml:"n_estimators"`
	MaxDepth       int     `json:"max_depth" yaml:"max_depth"`
	LearningRate   float64 `json:"learning_rate" yaml:"learning_rate"`
	ScalePosWeight float64 `json:"scale_pos_weight" yaml:"scale_pos_weight"`
	Lambda         float64 `json:"reg_lambda" yaml:"reg_lambda"`
	MinChildWeight float64 `json:"min_child_weight" yaml:"min_child_weight"`
	MaxBins        int     `json:"max_bin" yaml:"max_bin"`
}

// DefaultParams mirrors the XGBoost defaults.
func DefaultParams() Params {
	return Params{
		NEstimators:    100,
		MaxDepth:       6,
		LearningRate:   0.3,
		ScalePosWeight: 1,
		Lambda:         1,
		MinChildWeight: 1,
		MaxBins:        256,
	}
}

// WithDefaults fills zero fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.NEstimators == 0 {
		p.NEstimators = d.NEstimators
	}
	if p.MaxDepth == 0 {
		p.MaxDepth = d.MaxDepth
	}
	if p.LearningRate == 0 {
		p.LearningRate = d.LearningRate
	}
	if p.ScalePosWeight == 0 {
		p.ScalePosWeight = d.ScalePosWeight
	}
	if p.Lambda == 0 {
		p.Lambda = d.Lambda
	}
	if p.MinChildWeight == 0 {
		p.MinChildWeight = d.MinChildWeight
	}
	if p.MaxBins == 0 {
		p.MaxBins = d.MaxBins
	}
	return p
}

// Validate checks every parameter is in range.
func (p Params) Validate() error {
	switch {
	case p.NEstimators < 1:
		return InvalidParamsError(fmt.Sprintf("n_estimators=%d", p.NEstimators))
	case p.MaxDepth < 1:
		return InvalidParamsError(fmt.Sprintf("max_depth=%d", p.MaxDepth))
	case p.LearningRate <= 0 || p.LearningRate > 1:
		return InvalidParamsError(fmt.Sprintf("learning_rate=%g", p.LearningRate))
	case p.ScalePosWeight <= 0:
		return InvalidParamsError(fmt.Sprintf("scale_pos_weight=%g", p.ScalePosWeight))
	case p.Lambda < 0:
		return InvalidParamsError(fmt.Sprintf("reg_lambda=%g", p.Lambda))
	case p.MinChildWeight < 0:
		return InvalidParamsError(fmt.Sprintf("min_child_weight=%g", p.MinChildWeight))
	case p.MaxBins < 2 || p.MaxBins > 65535:
		return InvalidParamsError(fmt.Sprintf("max_bin=%d", p.MaxBins))
	}
	return nil
}

// String renders the grid-search parameters for logs.
func (p Params) String() string {
	return fmt.Sprintf("n_estimators=%d max_depth=%d learning_rate=%g scale_pos_weight=%g",
		p.NEstimators, p.MaxDepth, p.LearningRate, p.ScalePosWeight)
}
