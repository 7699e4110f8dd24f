package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const artifactsPrefix = "/api/2.0/mlflow-artifacts/artifacts"

var errUnsupportedArtifactURI = errors.New("unsupported artifact URI")

// UnsupportedArtifactURIError reports an artifact location the tracking server cannot proxy.
func UnsupportedArtifactURIError(uri string) error {
	return fmt.Errorf("%w, %s", errUnsupportedArtifactURI, uri)
}

// artifactPath turns an mlflow-artifacts URI into a path under the proxy endpoint.
func artifactPath(artifactURI, rel string) (string, error) {
	u, err := url.Parse(artifactURI)
	if err != nil || u.Scheme != "mlflow-artifacts" {
		return "", UnsupportedArtifactURIError(artifactURI)
	}
	p := strings.Trim(u.Path, "/")
	if u.Opaque != "" {
		p = strings.Trim(u.Opaque, "/")
	}
	if rel != "" {
		p = path.Join(p, rel)
	}
	if p == "" || p == "." {
		return "", UnsupportedArtifactURIError(artifactURI)
	}
	return p, nil
}

// ResolveSource expands a runs:/<run_id>/<path> model source into the run's artifact URI.
// Any other source is returned unchanged.
func (c *Client) ResolveSource(ctx context.Context, source string) (string, error) {
	rest, ok := strings.CutPrefix(source, "runs:/")
	if !ok {
		return source, nil
	}
	runID, rel, _ := strings.Cut(rest, "/")
	run, err := c.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return run.Info.ArtifactURI, nil
	}
	return strings.TrimRight(run.Info.ArtifactURI, "/") + "/" + rel, nil
}

// UploadArtifact stores body at rel under artifactURI through the tracking server proxy.
func (c *Client) UploadArtifact(ctx context.Context, artifactURI, rel string, body io.Reader) error {
	p, err := artifactPath(artifactURI, rel)
	if err != nil {
		return err
	}
	if _, err := c.transfer(ctx, http.MethodPut, p, body); err != nil {
		return fmt.Errorf("failed to upload artifact %s: %w", p, err)
	}
	return nil
}

// DownloadArtifact reads the artifact at rel under artifactURI.
func (c *Client) DownloadArtifact(ctx context.Context, artifactURI, rel string) ([]byte, error) {
	p, err := artifactPath(artifactURI, rel)
	if err != nil {
		return nil, err
	}
	data, err := c.transfer(ctx, http.MethodGet, p, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact %s: %w", p, err)
	}
	return data, nil
}

func (c *Client) transfer(ctx context.Context, method, artifact string, body io.Reader) ([]byte, error) {
	u := *c.BasePath
	u.Path = strings.TrimRight(u.Path, "/") + artifactsPrefix + "/" + artifact

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, data)
	}
	return data, nil
}
