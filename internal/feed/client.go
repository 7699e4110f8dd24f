// Package feed fetches the latest transactions from the external real-time endpoint.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"fraud-detection-pipeline/internal/dataset"
)

// DefaultURL is the public endpoint serving the current batch of transactions.
const DefaultURL = "https://charlestng-real-time-fraud-detection.hf.space/current-transactions"

// maxBodyBytes bounds a single response.
const maxBodyBytes = 32 << 20

var errHTTPUnexpectedStatusCode = errors.New("unexpected http status code")
var errInvalidURL = errors.New("invalid feed URL")

// HTTPUnexpectedStatusCodeError is returned for any non-200 response.
func HTTPUnexpectedStatusCodeError(statusCode int) error {
	return fmt.Errorf("%w, %d", errHTTPUnexpectedStatusCode, statusCode)
}

// InvalidURLError reports a feed URL that is not absolute http(s).
func InvalidURLError(raw string) error {
	return fmt.Errorf("%w, %s", errInvalidURL, raw)
}

// Client polls one feed endpoint.
type Client struct {
	HTTPClient *http.Client
	URL        string
}

// NewClient validates the endpoint URL.
func NewClient(httpClient *http.Client, endpoint string) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, InvalidURLError(endpoint)
	}
	return &Client{HTTPClient: httpClient, URL: endpoint}, nil
}

// Fetch downloads and decodes the current batch. An empty batch returns
// dataset.ErrEmptyPayload.
func (c *Client) Fetch(ctx context.Context) ([]dataset.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, HTTPUnexpectedStatusCodeError(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	return dataset.DecodeTabular(body)
}
