// Package artifacts provides engine.ArtifactStore implementations for lane
// reports: a local directory, an S3-compatible bucket reached through the
// MinIO client, and a no-op store used when uploads are disabled.
//
// Stores are selected by backend name:
//
//	store, err := artifacts.New(cfg.Artifacts, logger)
package artifacts
