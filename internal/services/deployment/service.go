// Package deployment promotes a registered model version by pointing the production alias at it.
package deployment

import (
	"context"
	"errors"
	"fmt"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/models"
	"fraud-detection-pipeline/internal/registry"
	"fraud-detection-pipeline/internal/repository"
)

// ErrNoModelVersions is returned when the registered model has no versions to promote.
var ErrNoModelVersions = errors.New("no model versions found")

const defaultPerformedBy = "fraudctl"

// Options configure promotions.
type Options struct {
	ModelName   string
	Alias       string
	PerformedBy string
}

// Result describes a promotion.
type Result struct {
	ModelName string `json:"model_name"`
	Alias     string `json:"alias"`
	Version   string `json:"version"`
	// Previous is the version that held the alias before, empty when none did.
	Previous string `json:"previous,omitempty"`
}

type Service struct {
	registry *registry.Client
	runs     *repository.RunRepository
	opts     Options
}

// NewService builds a deployer. runs may be nil, in which case promotions are not audited.
func NewService(reg *registry.Client, runs *repository.RunRepository, opts Options) *Service {
	if opts.PerformedBy == "" {
		opts.PerformedBy = defaultPerformedBy
	}
	return &Service{registry: reg, runs: runs, opts: opts}
}

// Deploy points the alias at version, or at the highest version number when version is
// empty. Other versions are left untouched.
func (s *Service) Deploy(ctx context.Context, version string, reason string) (*Result, error) {
	logger := appcontext.LoggerFromContext(ctx).With("model", s.opts.ModelName, "alias", s.opts.Alias)

	target, err := s.resolve(ctx, version)
	if err != nil {
		return nil, err
	}

	previous := ""
	current, err := s.registry.GetVersionByAlias(ctx, s.opts.ModelName, s.opts.Alias)
	switch {
	case err == nil:
		previous = current.Version
	case !errors.Is(err, registry.ErrNotFound):
		return nil, err
	}

	if previous == target.Version {
		logger.InfoContext(ctx, "version already holds the alias", "version", target.Version)
	}

	if err := s.registry.SetAlias(ctx, s.opts.ModelName, s.opts.Alias, target.Version); err != nil {
		return nil, err
	}

	res := &Result{
		ModelName: s.opts.ModelName,
		Alias:     s.opts.Alias,
		Version:   target.Version,
		Previous:  previous,
	}

	if s.runs != nil {
		entry := &models.PromotionAuditLog{
			ModelName:   res.ModelName,
			Alias:       res.Alias,
			NewVersion:  res.Version,
			PerformedBy: s.opts.PerformedBy,
			Reason:      reason,
		}
		if previous != "" {
			entry.PreviousVersion = &previous
		}
		if err := s.runs.RecordPromotion(ctx, entry); err != nil {
			logger.ErrorContext(ctx, "failed to record promotion", "version", res.Version, "error", err)
		}
	}

	logger.InfoContext(ctx, "model promoted", "version", res.Version, "previous", previous)
	return res, nil
}

func (s *Service) resolve(ctx context.Context, version string) (*registry.ModelVersion, error) {
	if version != "" {
		v, err := s.registry.GetModelVersion(ctx, s.opts.ModelName, version)
		if err != nil {
			return nil, fmt.Errorf("failed to find version %s of %s: %w", version, s.opts.ModelName, err)
		}
		return v, nil
	}

	versions, err := s.registry.SearchModelVersions(ctx, s.opts.ModelName)
	if err != nil {
		return nil, err
	}
	latest, ok := registry.Latest(versions)
	if !ok {
		return nil, fmt.Errorf("%w for model %q", ErrNoModelVersions, s.opts.ModelName)
	}
	return &latest, nil
}
