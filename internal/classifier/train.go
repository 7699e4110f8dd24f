package classifier

import (
	"context"
	"fmt"
)

// Fit bins x and trains a model on every row.
func Fit(ctx context.Context, x [][]float64, y []int, params Params) (*Model, error) {
	params = params.WithDefaults()
	m, err := NewMatrix(x, y, params.MaxBins)
	if err != nil {
		return nil, err
	}
	rows := make([]int, m.Rows())
	for i := range rows {
		rows[i] = i
	}
	return Train(ctx, m, rows, params)
}

// Train boosts params.NEstimators trees on the given rows of m. It stops early with the
// context's error when ctx is cancelled between trees.
func Train(ctx context.Context, m *Matrix, rows []int, params Params) (*Model, error) {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ShapeError("no training rows")
	}

	model := &Model{
		Format:   Format,
		Params:   params,
		Features: m.features,
		Trees:    make([]Tree, 0, params.NEstimators),
	}

	b := &builder{
		m:      m,
		params: params,
		grad:   make([]float64, len(m.labels)),
		hess:   make([]float64, len(m.labels)),
		margin: make([]float64, len(m.labels)),
	}

	for round := 0; round < params.NEstimators; round++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("training stopped at round %d: %w", round, err)
		}

		b.gradients(rows)
		tree := b.grow(rows)
		for _, r := range rows {
			b.margin[r] += tree.leafValue(b.binnedRow(r))
		}
		model.Trees = append(model.Trees, tree.Tree)
	}

	return model, nil
}

// builder holds per-row state for one training call. Gradient slices are indexed by matrix
// row so folds can train on a subset without copying.
type builder struct {
	m      *Matrix
	params Params
	grad   []float64
	hess   []float64
	margin []float64
	row    []uint16
}

func (b *builder) gradients(rows []int) {
	for _, r := range rows {
		p := sigmoid(b.margin[r])
		w := 1.0
		y := float64(b.m.labels[r])
		if b.m.labels[r] == 1 {
			w = b.params.ScalePosWeight
		}
		b.grad[r] = w * (p - y)
		b.hess[r] = w * p * (1 - p)
	}
}

func (b *builder) binnedRow(r int) []uint16 {
	if b.row == nil {
		b.row = make([]uint16, b.m.features)
	}
	for j := range b.row {
		b.row[j] = b.m.binned[j][r]
	}
	return b.row
}

// binnedTree keeps split bins next to the exported thresholds so training rows can be routed
// without going back to float values.
type binnedTree struct {
	Tree
	bins []uint16
}

func (t binnedTree) leafValue(row []uint16) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if row[n.Feature] <= t.bins[i] {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type split struct {
	feature int
	bin     uint16
	gain    float64
}

func (b *builder) grow(rows []int) binnedTree {
	t := binnedTree{}
	b.growNode(&t, rows, 0)
	return t
}

func (b *builder) growNode(t *binnedTree, rows []int, depth int) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{})
	t.bins = append(t.bins, 0)

	var g, h float64
	for _, r := range rows {
		g += b.grad[r]
		h += b.hess[r]
	}

	leaf := func() int {
		t.Nodes[idx] = Node{Leaf: true, Value: -g / (h + b.params.Lambda) * b.params.LearningRate}
		return idx
	}

	if depth >= b.params.MaxDepth || h < 2*b.params.MinChildWeight {
		return leaf()
	}

	best, ok := b.bestSplit(rows, g, h)
	if !ok {
		return leaf()
	}

	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	col := b.m.binned[best.feature]
	for _, r := range rows {
		if col[r] <= best.bin {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	t.bins[idx] = best.bin
	l := b.growNode(t, left, depth+1)
	r := b.growNode(t, right, depth+1)
	t.Nodes[idx] = Node{
		Feature:   best.feature,
		Threshold: b.m.cuts[best.feature][best.bin],
		Left:      l,
		Right:     r,
	}
	return idx
}

// bestSplit scans every feature histogram for the split with the largest positive gain.
// Ties keep the lowest feature and bin so training is deterministic.
func (b *builder) bestSplit(rows []int, g, h float64) (split, bool) {
	lambda := b.params.Lambda
	parent := g * g / (h + lambda)
	best := split{}
	found := false

	for f := 0; f < b.m.features; f++ {
		cuts := b.m.cuts[f]
		if len(cuts) < 2 {
			continue
		}
		gh := make([]float64, len(cuts))
		hh := make([]float64, len(cuts))
		col := b.m.binned[f]
		for _, r := range rows {
			gh[col[r]] += b.grad[r]
			hh[col[r]] += b.hess[r]
		}

		var gl, hl float64
		for bin := 0; bin < len(cuts)-1; bin++ {
			gl += gh[bin]
			hl += hh[bin]
			gr, hr := g-gl, h-hl
			if hl < b.params.MinChildWeight || hr < b.params.MinChildWeight {
				continue
			}
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent
			if gain > 1e-9 && (!found || gain > best.gain) {
				best = split{feature: f, bin: uint16(bin), gain: gain}
				found = true
			}
		}
	}

	return best, found
}
