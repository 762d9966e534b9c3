package engine

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// DefaultUploadTimeout bounds a single artifact upload.
const DefaultUploadTimeout = 5 * time.Minute

// ArtifactCollector uploads each lane's report regardless of lane outcome.
type ArtifactCollector struct {
	store         ArtifactStore
	uploadTimeout time.Duration
	logger        zerolog.Logger
}

// NewArtifactCollector creates a collector. A nil store records every report
// as not uploaded without an error annotation.
func NewArtifactCollector(store ArtifactStore, uploadTimeout time.Duration, logger zerolog.Logger) *ArtifactCollector {
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}
	return &ArtifactCollector{
		store:         store,
		uploadTimeout: uploadTimeout,
		logger:        logger.With().Str("component", "artifact_collector").Logger(),
	}
}

// Collect attempts one upload of result's report and always returns a record.
// The upload ignores cancellation of ctx so a started collection finishes.
func (c *ArtifactCollector) Collect(ctx context.Context, result ExecutionResult) ArtifactRecord {
	record := ArtifactRecord{
		LaneID:       result.LaneID,
		ArtifactName: result.ArtifactName,
		SourcePath:   result.ReportPath,
	}

	logger := c.logger.With().
		Str("run_id", RunIDFromContext(ctx)).
		Str("lane_id", result.LaneID).
		Str("artifact", result.ArtifactName).
		Logger()

	info, err := os.Stat(result.ReportPath)
	if err != nil || info.IsDir() {
		if err == nil {
			err = &os.PathError{Op: "stat", Path: result.ReportPath, Err: os.ErrInvalid}
		}
		record.Error = NewMissingReportError(result.LaneID, result.ReportPath, err)
		logger.Warn().Err(err).Str("path", result.ReportPath).Msg("Report missing, nothing to upload")
		return record
	}
	record.Size = info.Size()

	if c.store == nil {
		logger.Debug().Msg("No artifact store configured")
		return record
	}

	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.uploadTimeout)
	defer cancel()

	location, err := c.store.Upload(uploadCtx, result.ArtifactName, result.ReportPath)
	if err != nil {
		record.Error = NewArtifactUploadError(result.LaneID, result.ArtifactName, err)
		logger.Error().Err(err).Msg("Artifact upload failed")
		return record
	}

	record.Uploaded = true
	record.Location = location
	logger.Info().Str("location", location).Int64("size", record.Size).Msg("Artifact uploaded")
	return record
}
