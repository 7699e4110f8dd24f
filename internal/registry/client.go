// Package registry is a client for the MLflow tracking server REST API: experiments, runs,
// artifacts and the model registry.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const apiPrefix = "/api/2.0/mlflow"

// MLflow error codes the client reacts to.
const (
	CodeResourceDoesNotExist  = "RESOURCE_DOES_NOT_EXIST"
	CodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
)

var errHTTPUnexpectedStatusCode = errors.New("unexpected http status code")
var errBasePathFormatting = errors.New("error formatting tracking URI")
var errBodyUnmarshall = errors.New("error unmarshalling HTTP response body")

// ErrNotFound is returned when MLflow reports RESOURCE_DOES_NOT_EXIST.
var ErrNotFound = errors.New("resource does not exist")

// ErrAlreadyExists is returned when MLflow reports RESOURCE_ALREADY_EXISTS.
var ErrAlreadyExists = errors.New("resource already exists")

// HTTPUnexpectedStatusCodeError wraps a status MLflow returned without a usable error body.
func HTTPUnexpectedStatusCodeError(statusCode int) error {
	return fmt.Errorf("%w, %d", errHTTPUnexpectedStatusCode, statusCode)
}

// BasePathFormattingError reports an unparsable tracking URI.
func BasePathFormattingError(basePath string) error {
	return fmt.Errorf("%w, %s", errBasePathFormatting, basePath)
}

// BodyUnmarshallError wraps a JSON decoding failure.
func BodyUnmarshallError(baseErr error) error {
	return fmt.Errorf("%w, %w", errBodyUnmarshall, baseErr)
}

// APIError is an error document returned by MLflow.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mlflow api error %d %s: %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Is maps MLflow error codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.ErrorCode == CodeResourceDoesNotExist
	case ErrAlreadyExists:
		return e.ErrorCode == CodeResourceAlreadyExists
	}
	return false
}

// Client talks to one MLflow tracking server.
type Client struct {
	// HTTPClient sends every request.
	HTTPClient *http.Client
	// BasePath is the tracking server root, e.g. http://mlflow-server:5000.
	BasePath *url.URL
}

// NewClient creates a client for the tracking server at trackingURI.
func NewClient(httpClient *http.Client, trackingURI string) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	base, err := url.Parse(strings.TrimRight(trackingURI, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, BasePathFormattingError(trackingURI)
	}

	return &Client{HTTPClient: httpClient, BasePath: base}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.BasePath
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// get sends a GET to an MLflow endpoint and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, c.endpoint(apiPrefix+path, query), nil, out)
}

// post sends in as JSON to an MLflow endpoint and decodes the response into out, if non-nil.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("error marshaling request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.endpoint(apiPrefix+path, nil), body, out)
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return BodyUnmarshallError(err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.ErrorCode == "" {
		return HTTPUnexpectedStatusCodeError(status)
	}
	return apiErr
}
