package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/dataset"
	"fraud-detection-pipeline/internal/models"
)

const readChunkSize = 10000

var errHTTPUnexpectedStatusCode = errors.New("unexpected http status code")
var errNoLabelledRows = errors.New("dataset has no labelled rows")

// HTTPUnexpectedStatusCodeError reports a non-200 dataset download.
func HTTPUnexpectedStatusCodeError(statusCode int) error {
	return fmt.Errorf("%w, %d", errHTTPUnexpectedStatusCode, statusCode)
}

// LabelledSet is a training dataset: transactions with their is_fraud labels.
type LabelledSet struct {
	Transactions []models.TransactionFields
	Labels       []int
	Skipped      int
}

// Positives counts fraud labels.
func (l *LabelledSet) Positives() int {
	n := 0
	for _, y := range l.Labels {
		n += y
	}
	return n
}

// ReadDataset loads a labelled CSV from an http(s) URL or a local path. Rows that fail to
// parse or carry no is_fraud label are skipped.
func ReadDataset(ctx context.Context, httpClient *http.Client, source string) (*LabelledSet, error) {
	rc, err := openSource(ctx, httpClient, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader, err := dataset.NewChunkReader(rc, readChunkSize)
	if err != nil {
		return nil, err
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	set := &LabelledSet{Skipped: reader.Skipped()}
	for _, rec := range records {
		tx, err := dataset.ToTransaction(rec)
		if err != nil || tx.IsFraud == nil {
			set.Skipped++
			continue
		}
		set.Transactions = append(set.Transactions, tx)
		set.Labels = append(set.Labels, *tx.IsFraud)
	}

	if len(set.Labels) == 0 {
		return nil, errNoLabelledRows
	}

	appcontext.LoggerFromContext(ctx).InfoContext(ctx, "dataset loaded",
		"source", source,
		"rows", len(set.Labels),
		"frauds", set.Positives(),
		"skipped", set.Skipped)

	return set, nil
}

func openSource(ctx context.Context, httpClient *http.Client, source string) (io.ReadCloser, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("failed to open dataset: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download dataset: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, HTTPUnexpectedStatusCodeError(resp.StatusCode)
	}
	return resp.Body, nil
}
