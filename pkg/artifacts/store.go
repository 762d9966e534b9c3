package artifacts

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/lanekeeper/pkg/config"
	"github.com/openfroyo/lanekeeper/pkg/engine"
)

// New returns the store for the configured backend. S3 credentials and
// unset S3 fields are taken from the environment.
func New(cfg config.ArtifactsConfig, logger zerolog.Logger) (engine.ArtifactStore, error) {
	switch cfg.Backend {
	case config.BackendLocal, "":
		dir := cfg.Dir
		if dir == "" {
			dir = config.DefaultArtifactDir
		}
		return NewLocalStore(dir, logger), nil
	case config.BackendS3:
		s3cfg := ConfigFromEnv()
		s3cfg.merge(cfg.S3)
		return NewS3Store(s3cfg, logger)
	case config.BackendNone:
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

// NopStore accepts every upload without storing anything.
type NopStore struct{}

// Upload implements engine.ArtifactStore.
func (NopStore) Upload(ctx context.Context, name, path string) (string, error) {
	return "", nil
}
