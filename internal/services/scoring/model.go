package scoring

import (
	"bytes"
	"context"
	"fmt"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/classifier"
	"fraud-detection-pipeline/internal/registry"
)

const modelArtifact = "model.json"

// ProductionModel is the bundle currently holding the production alias.
type ProductionModel struct {
	Name    string
	Version string
	Source  string
	Bundle  *classifier.Bundle
}

// LoadProductionModel resolves alias on the registered model name and downloads the bundle
// of the version it points at.
func LoadProductionModel(ctx context.Context, reg *registry.Client, name, alias string) (*ProductionModel, error) {
	version, err := reg.GetVersionByAlias(ctx, name, alias)
	if err != nil {
		return nil, fmt.Errorf("no %s version of %s: %w", alias, name, err)
	}

	artifactURI, err := reg.ResolveSource(ctx, version.Source)
	if err != nil {
		return nil, err
	}
	data, err := reg.DownloadArtifact(ctx, artifactURI, modelArtifact)
	if err != nil {
		return nil, err
	}
	bundle, err := classifier.ReadBundle(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("version %s of %s: %w", version.Version, name, err)
	}

	appcontext.LoggerFromContext(ctx).InfoContext(ctx, "production model loaded",
		"model", name,
		"version", version.Version,
		"source", version.Source,
		"trees", len(bundle.Model.Trees))

	return &ProductionModel{
		Name:    name,
		Version: version.Version,
		Source:  version.Source,
		Bundle:  bundle,
	}, nil
}
