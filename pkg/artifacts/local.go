package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// LocalStore copies reports to <dir>/<name>/<basename>.
type LocalStore struct {
	dir    string
	logger zerolog.Logger
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(dir string, logger zerolog.Logger) *LocalStore {
	return &LocalStore{
		dir:    dir,
		logger: logger.With().Str("component", "artifacts").Str("backend", "local").Logger(),
	}
}

// Upload copies the file at path and returns the destination path.
func (s *LocalStore) Upload(ctx context.Context, name, path string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	destDir := filepath.Join(s.dir, name)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, filepath.Base(path))

	// Write to a temporary file so readers never see a partial report.
	tmp, err := os.CreateTemp(destDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to copy %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to move report into place: %w", err)
	}

	s.logger.Debug().Str("artifact", name).Str("dest", dest).Int64("bytes", n).Msg("Stored artifact")
	return dest, nil
}

// ctxReader stops a copy once ctx ends.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}
