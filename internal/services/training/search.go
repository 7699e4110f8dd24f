package training

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/classifier"
)

// CandidateScore is the cross-validated F1 of one parameter set.
type CandidateScore struct {
	Params classifier.Params
	F1     float64
}

// SearchResult is the outcome of a grid search.
type SearchResult struct {
	Best   classifier.Params
	BestF1 float64
	Scores []CandidateScore
}

// SearchOptions tune GridSearch.
type SearchOptions struct {
	Folds       int
	Parallelism int
	Seed        int64
	Threshold   float64
}

// search holds the training rows shared read-only by every candidate.
type search struct {
	matrix    *classifier.Matrix
	x         [][]float64
	labels    []int
	rows      []int
	folds     [][]int
	threshold float64
}

// GridSearch scores every candidate by the mean F1 of the positive class over stratified
// folds of the training set, training at most opts.Parallelism candidates at once. Ties go
// to the earlier candidate.
func GridSearch(ctx context.Context, x [][]float64, y []int, candidates []classifier.Params, opts SearchOptions) (*SearchResult, error) {
	logger := appcontext.LoggerFromContext(ctx)

	if len(candidates) == 0 {
		return nil, InvalidGridError("no candidates")
	}
	if opts.Folds < 2 {
		return nil, InvalidGridError(fmt.Sprintf("need at least 2 folds, got %d", opts.Folds))
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}

	m, err := classifier.NewMatrix(x, y, candidates[0].MaxBins)
	if err != nil {
		return nil, err
	}

	rows := make([]int, len(y))
	for i := range rows {
		rows[i] = i
	}

	s := &search{
		matrix:    m,
		x:         x,
		labels:    y,
		rows:      rows,
		folds:     StratifiedKFold(rows, y, opts.Folds, opts.Seed),
		threshold: opts.Threshold,
	}

	scores := make([]CandidateScore, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for i, p := range candidates {
		g.Go(func() error {
			f1, err := s.crossValidate(gctx, p)
			if err != nil {
				return fmt.Errorf("candidate %s: %w", p, err)
			}
			scores[i] = CandidateScore{Params: p, F1: f1}
			logger.DebugContext(ctx, "candidate scored", "params", p.String(), "f1", f1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := 0
	for i := range scores {
		if scores[i].F1 > scores[best].F1 {
			best = i
		}
	}

	return &SearchResult{
		Best:   scores[best].Params,
		BestF1: scores[best].F1,
		Scores: scores,
	}, nil
}

func (s *search) crossValidate(ctx context.Context, p classifier.Params) (float64, error) {
	var total float64
	for _, fold := range s.folds {
		model, err := classifier.Train(ctx, s.matrix, complement(s.rows, fold), p)
		if err != nil {
			return 0, err
		}

		actual := make([]int, len(fold))
		predicted := make([]int, len(fold))
		for i, r := range fold {
			actual[i] = s.labels[r]
			predicted[i] = model.Predict(s.x[r], s.threshold)
		}

		c, err := classifier.Evaluate(actual, predicted)
		if err != nil {
			return 0, err
		}
		total += c.F1()
	}
	return total / float64(len(s.folds)), nil
}
