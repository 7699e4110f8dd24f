package classifier

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var errShape = errors.New("inconsistent training data")

// ShapeError reports training data whose dimensions do not line up.
func ShapeError(reason string) error {
	return fmt.Errorf("%w, %s", errShape, reason)
}

// Matrix is a training set with every feature pre-binned into at most maxBins buckets.
// Binning once lets cross-validation folds share the work.
type Matrix struct {
	labels   []int
	cuts     [][]float64
	binned   [][]uint16
	features int
}

// NewMatrix bins x, a row-major feature matrix, and pairs it with binary labels y.
func NewMatrix(x [][]float64, y []int, maxBins int) (*Matrix, error) {
	if len(x) == 0 {
		return nil, ShapeError("no rows")
	}
	if len(x) != len(y) {
		return nil, ShapeError(fmt.Sprintf("%d rows for %d labels", len(x), len(y)))
	}
	if maxBins < 2 || maxBins > math.MaxUint16 {
		return nil, InvalidParamsError(fmt.Sprintf("max_bin=%d", maxBins))
	}

	nf := len(x[0])
	if nf == 0 {
		return nil, ShapeError("no features")
	}
	for i, row := range x {
		if len(row) != nf {
			return nil, ShapeError(fmt.Sprintf("row %d has %d features, want %d", i, len(row), nf))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, ShapeError(fmt.Sprintf("row %d feature %d is not finite", i, j))
			}
		}
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return nil, ShapeError(fmt.Sprintf("label %d at row %d is not binary", label, i))
		}
	}

	m := &Matrix{
		labels:   y,
		cuts:     make([][]float64, nf),
		binned:   make([][]uint16, nf),
		features: nf,
	}

	column := make([]float64, len(x))
	for j := 0; j < nf; j++ {
		for i, row := range x {
			column[i] = row[j]
		}
		cuts := cutPoints(column, maxBins)
		bins := make([]uint16, len(x))
		for i, v := range column {
			bins[i] = uint16(sort.SearchFloat64s(cuts, v))
		}
		m.cuts[j] = cuts
		m.binned[j] = bins
	}

	return m, nil
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return len(m.labels) }

// Features returns the number of features.
func (m *Matrix) Features() int { return m.features }

// Labels returns the labels of the given rows.
func (m *Matrix) Labels(rows []int) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = m.labels[r]
	}
	return out
}

// cutPoints returns sorted split candidates. With few distinct values every value is a
// candidate; otherwise quantiles are used, always ending at the column maximum so each
// training value falls into a bin.
func cutPoints(column []float64, maxBins int) []float64 {
	sorted := append([]float64(nil), column...)
	sort.Float64s(sorted)

	distinct := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) <= maxBins {
		return distinct
	}

	cuts := make([]float64, 0, maxBins)
	for k := 1; k <= maxBins; k++ {
		pos := k*len(sorted)/maxBins - 1
		v := sorted[pos]
		if len(cuts) == 0 || v > cuts[len(cuts)-1] {
			cuts = append(cuts, v)
		}
	}
	if last := sorted[len(sorted)-1]; cuts[len(cuts)-1] != last {
		cuts = append(cuts, last)
	}
	return cuts
}
