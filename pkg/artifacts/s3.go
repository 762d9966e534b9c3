package artifacts

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/openfroyo/lanekeeper/pkg/config"
	"github.com/openfroyo/lanekeeper/pkg/engine"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvS3Endpoint  = "LANEKEEPER_S3_ENDPOINT"
	EnvS3Bucket    = "LANEKEEPER_S3_BUCKET"
	EnvS3Prefix    = "LANEKEEPER_S3_PREFIX"
	EnvS3Region    = "LANEKEEPER_S3_REGION"
	EnvS3AccessKey = "LANEKEEPER_S3_ACCESS_KEY"
	EnvS3SecretKey = "LANEKEEPER_S3_SECRET_KEY"
	EnvS3UseSSL    = "LANEKEEPER_S3_USE_SSL"
)

// S3Config configures an S3-compatible store.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// ConfigFromEnv reads the LANEKEEPER_S3_* variables. SSL defaults to on.
func ConfigFromEnv() S3Config {
	cfg := S3Config{
		Endpoint:  strings.TrimSpace(os.Getenv(EnvS3Endpoint)),
		Bucket:    strings.TrimSpace(os.Getenv(EnvS3Bucket)),
		Prefix:    strings.TrimSpace(os.Getenv(EnvS3Prefix)),
		Region:    strings.TrimSpace(os.Getenv(EnvS3Region)),
		AccessKey: os.Getenv(EnvS3AccessKey),
		SecretKey: os.Getenv(EnvS3SecretKey),
		UseSSL:    true,
	}
	if v := strings.TrimSpace(os.Getenv(EnvS3UseSSL)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseSSL = b
		}
	}
	return cfg
}

// merge overlays non-empty fields of the file configuration.
func (c *S3Config) merge(fc config.S3Config) {
	if fc.Endpoint != "" {
		c.Endpoint = fc.Endpoint
	}
	if fc.Bucket != "" {
		c.Bucket = fc.Bucket
	}
	if fc.Prefix != "" {
		c.Prefix = fc.Prefix
	}
	if fc.Region != "" {
		c.Region = fc.Region
	}
	if fc.Insecure {
		c.UseSSL = false
	}
}

// Validate checks that the store can be reached.
func (c S3Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%s is required", EnvS3Endpoint)
	}
	if c.Bucket == "" {
		return fmt.Errorf("%s is required", EnvS3Bucket)
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("%s and %s are required", EnvS3AccessKey, EnvS3SecretKey)
	}
	return nil
}

// S3Store uploads reports to <prefix>/<runID>/<name>/<basename>.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Store creates a MinIO client for cfg.
func NewS3Store(cfg S3Config, logger zerolog.Logger) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	endpoint := cfg.Endpoint
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
		cfg.UseSSL = true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
		cfg.UseSSL = false
	}

	client, err := minio.New(strings.TrimSuffix(endpoint, "/"), &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.With().Str("component", "artifacts").Str("backend", "s3").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// Upload puts the file at path and returns its s3:// location. The run ID is
// taken from ctx; uploads outside a run get a fresh ID.
func (s *S3Store) Upload(ctx context.Context, name, filePath string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	key := s.objectKey(ctx, name, filePath)
	info, err := s.client.FPutObject(ctx, s.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: contentType(filePath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	s.logger.Debug().Str("artifact", name).Str("key", key).Int64("bytes", info.Size).Msg("Uploaded artifact")
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// CheckBucket verifies the bucket exists.
func (s *S3Store) CheckBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket missing: %s", s.bucket)
	}
	return nil
}

func (s *S3Store) objectKey(ctx context.Context, name, filePath string) string {
	runID := engine.RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}
	return path.Join(s.prefix, runID, name, filepath.Base(filePath))
}

func contentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".xml":
		return "application/xml"
	case ".json":
		return "application/json"
	case ".log", ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
