// Package features derives model inputs from transactions. Training and scoring both go
// through Encoder.Transform so the two paths cannot drift apart.
package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"fraud-detection-pipeline/internal/dataset"
	"fraud-detection-pipeline/internal/models"
)

// Version identifies the feature layout below. Bump it whenever Columns or an encoding changes.
const Version = "v1"

// Column positions in a Vector.
const (
	Category = iota
	Amount
	Gender
	CityPop
	MerchantEncoded
	Hour
	DayOfWeek
	numColumns
)

// Columns names the entries of a Vector, in order.
var Columns = []string{"category", "amt", "gender", "city_pop", "merchant_encoded", "hour", "dayofweek"}

// Unknown is the encoded value of a category, merchant or gender not seen at fit time.
const Unknown = -1

var errVersionMismatch = errors.New("feature version mismatch")

// VersionMismatchError reports an encoder produced by a different feature layout.
func VersionMismatchError(got string) error {
	return fmt.Errorf("%w, got %q want %q", errVersionMismatch, got, Version)
}

// Vector is one row of model input.
type Vector []float64

// Encoder holds the vocabularies fitted on the training data.
type Encoder struct {
	Version    string   `json:"version"`
	Categories []string `json:"categories"`
	Merchants  []string `json:"merchants"`

	categoryIndex map[string]int
	merchantIndex map[string]int
}

// Fit builds an encoder whose vocabularies are the sorted distinct non-empty values of
// category and merchant, so codes match the lexical order used by pandas categoricals.
func Fit(txs []models.TransactionFields) *Encoder {
	cats := make(map[string]struct{})
	merchants := make(map[string]struct{})
	for _, tx := range txs {
		if tx.Category != "" {
			cats[tx.Category] = struct{}{}
		}
		if tx.Merchant != "" {
			merchants[tx.Merchant] = struct{}{}
		}
	}

	return NewEncoder(sortedKeys(cats), sortedKeys(merchants))
}

// NewEncoder builds an encoder from explicit vocabularies. Codes are positions in the slices.
func NewEncoder(categories, merchants []string) *Encoder {
	e := &Encoder{Version: Version, Categories: categories, Merchants: merchants}
	e.index()
	return e
}

// UnmarshalJSON decodes an encoder and rejects one fitted for another feature version.
func (e *Encoder) UnmarshalJSON(data []byte) error {
	type plain Encoder
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Version != Version {
		return VersionMismatchError(p.Version)
	}
	*e = Encoder(p)
	e.index()
	return nil
}

func (e *Encoder) index() {
	e.categoryIndex = make(map[string]int, len(e.Categories))
	for i, c := range e.Categories {
		e.categoryIndex[c] = i
	}
	e.merchantIndex = make(map[string]int, len(e.Merchants))
	for i, m := range e.Merchants {
		e.merchantIndex[m] = i
	}
}

// Transform derives the feature vector of a transaction.
func (e *Encoder) Transform(tx models.TransactionFields) Vector {
	v := make(Vector, numColumns)

	v[Category] = lookup(e.categoryIndex, tx.Category)
	v[Amount] = tx.Amount.InexactFloat64()
	v[Gender] = encodeGender(tx.Gender)
	v[CityPop] = float64(tx.CityPop)
	v[MerchantEncoded] = lookup(e.merchantIndex, tx.Merchant)

	if t, ok := dataset.EventTime(tx); ok {
		v[Hour] = float64(t.Hour())
		v[DayOfWeek] = float64(weekday(t))
	} else {
		v[Hour] = Unknown
		v[DayOfWeek] = Unknown
	}

	return v
}

// TransformAll derives the feature matrix of a batch.
func (e *Encoder) TransformAll(txs []models.TransactionFields) [][]float64 {
	out := make([][]float64, len(txs))
	for i, tx := range txs {
		out[i] = e.Transform(tx)
	}
	return out
}

func lookup(index map[string]int, key string) float64 {
	if i, ok := index[key]; ok {
		return float64(i)
	}
	return Unknown
}

func encodeGender(g string) float64 {
	switch g {
	case "F":
		return 0
	case "M":
		return 1
	default:
		return Unknown
	}
}

// weekday counts from Monday=0.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
