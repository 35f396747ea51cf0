package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/logging"
	"github.com/suPer8Hu/podflix/internal/metrics"
)

const (
	BackendS3  = "s3"
	BackendGCS = "gcs"
)

var ErrUnknownBackend = errors.New("storage: unknown backend")

type UploadResult struct {
	Key  string `json:"key"`
	ETag string `json:"etag"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// ReadResult separates a missing object (Found false) from an empty one.
type ReadResult struct {
	Key         string
	Data        []byte
	ContentType string
	Found       bool
}

// Client is an object store holding media files under one bucket.
type Client interface {
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, key string, data []byte, contentType string) (UploadResult, error)
	Read(ctx context.Context, key string) (ReadResult, error)
	ReadURL(key string) string
}

// New builds the client selected by STORAGE_BACKEND.
func New(ctx context.Context, cfg config.Config) (Client, error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case BackendS3:
		return NewS3(S3Options{
			Endpoint:  cfg.StorageEndpoint,
			Bucket:    cfg.StorageBucket,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Region:    cfg.StorageRegion,
		})
	case BackendGCS:
		return NewGCS(ctx, GCSOptions{
			Endpoint:        cfg.StorageEndpoint,
			Bucket:          cfg.StorageBucket,
			ProjectID:       cfg.GCSProjectID,
			CredentialsFile: cfg.GCSCredentialsFile,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.StorageBackend)
	}
}

func joinURL(endpoint, bucket, key string) string {
	return strings.TrimRight(endpoint, "/") + "/" + bucket + "/" + strings.TrimLeft(key, "/")
}

// BestEffortUpload never fails: errors are logged and an empty result is
// returned, so callers can continue without the stored copy.
func BestEffortUpload(ctx context.Context, c Client, key string, data []byte, contentType string) UploadResult {
	res, err := c.Upload(ctx, key, data, contentType)
	if err != nil {
		metrics.StorageFailures.WithLabelValues("upload").Inc()
		logging.New("storage").WithError(err).WithField("key", key).Error("upload failed")
		return UploadResult{}
	}
	return res
}

// BestEffortRead returns nil data when the object is missing or the store
// is unreachable.
func BestEffortRead(ctx context.Context, c Client, key string) []byte {
	res, err := c.Read(ctx, key)
	if err != nil {
		metrics.StorageFailures.WithLabelValues("read").Inc()
		logging.New("storage").WithError(err).WithField("key", key).Error("read failed")
		return nil
	}
	if !res.Found {
		return nil
	}
	return res.Data
}
