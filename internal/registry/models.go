package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const searchPageSize = "200"

// ModelVersion is one version of a registered model.
type ModelVersion struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	Source            string   `json:"source"`
	RunID             string   `json:"run_id"`
	Status            string   `json:"status"`
	CurrentStage      string   `json:"current_stage"`
	Aliases           []string `json:"aliases"`
	CreationTimestamp int64    `json:"creation_timestamp"`
}

// Number returns the numeric version, or 0 when it is not an integer.
func (v ModelVersion) Number() int {
	n, err := strconv.Atoi(v.Version)
	if err != nil {
		return 0
	}
	return n
}

// Latest returns the version with the highest number.
func Latest(versions []ModelVersion) (ModelVersion, bool) {
	if len(versions) == 0 {
		return ModelVersion{}, false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if v.Number() > best.Number() {
			best = v
		}
	}
	return best, true
}

// CreateRegisteredModel registers a model name.
func (c *Client) CreateRegisteredModel(ctx context.Context, name string) error {
	if err := c.post(ctx, "/registered-models/create", map[string]string{"name": name}, nil); err != nil {
		return fmt.Errorf("failed to create registered model %q: %w", name, err)
	}
	return nil
}

// EnsureRegisteredModel registers a model name unless it already exists.
func (c *Client) EnsureRegisteredModel(ctx context.Context, name string) error {
	err := c.CreateRegisteredModel(ctx, name)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

// CreateModelVersion registers the model stored at source as a new version of name.
func (c *Client) CreateModelVersion(ctx context.Context, name, source, runID string) (*ModelVersion, error) {
	req := map[string]string{"name": name, "source": source, "run_id": runID}
	var out struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	if err := c.post(ctx, "/model-versions/create", req, &out); err != nil {
		return nil, fmt.Errorf("failed to create version of %q: %w", name, err)
	}
	return &out.ModelVersion, nil
}

// SearchModelVersions lists every version of a registered model, following pagination.
func (c *Client) SearchModelVersions(ctx context.Context, name string) ([]ModelVersion, error) {
	filter := fmt.Sprintf("name='%s'", strings.ReplaceAll(name, "'", "\\'"))
	var versions []ModelVersion
	token := ""

	for {
		q := url.Values{"filter": {filter}, "max_results": {searchPageSize}}
		if token != "" {
			q.Set("page_token", token)
		}
		var out struct {
			ModelVersions []ModelVersion `json:"model_versions"`
			NextPageToken string         `json:"next_page_token"`
		}
		if err := c.get(ctx, "/model-versions/search", q, &out); err != nil {
			return nil, fmt.Errorf("failed to search versions of %q: %w", name, err)
		}
		versions = append(versions, out.ModelVersions...)
		if out.NextPageToken == "" {
			return versions, nil
		}
		token = out.NextPageToken
	}
}

// GetModelVersion fetches one version.
func (c *Client) GetModelVersion(ctx context.Context, name, version string) (*ModelVersion, error) {
	var out struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	q := url.Values{"name": {name}, "version": {version}}
	if err := c.get(ctx, "/model-versions/get", q, &out); err != nil {
		return nil, fmt.Errorf("failed to get version %s of %q: %w", version, name, err)
	}
	return &out.ModelVersion, nil
}

// SetAlias points alias at version. An alias names at most one version; MLflow moves it
// off any previous holder.
func (c *Client) SetAlias(ctx context.Context, name, alias, version string) error {
	req := map[string]string{"name": name, "alias": alias, "version": version}
	if err := c.post(ctx, "/registered-models/alias", req, nil); err != nil {
		return fmt.Errorf("failed to set alias %s of %q to %s: %w", alias, name, version, err)
	}
	return nil
}

// GetVersionByAlias returns the version alias points at. It returns ErrNotFound when the
// alias is unset.
func (c *Client) GetVersionByAlias(ctx context.Context, name, alias string) (*ModelVersion, error) {
	var out struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	q := url.Values{"name": {name}, "alias": {alias}}
	if err := c.get(ctx, "/registered-models/alias", q, &out); err != nil {
		return nil, fmt.Errorf("failed to resolve alias %s of %q: %w", alias, name, err)
	}
	return &out.ModelVersion, nil
}
