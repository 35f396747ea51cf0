package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsPublicEndpoint = "https://storage.googleapis.com"

type GCSOptions struct {
	// Endpoint overrides the API host, e.g. a fake-gcs-server emulator.
	Endpoint        string
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type GCS struct {
	client    *gcs.Client
	bucket    string
	projectID string
	endpoint  string
}

func NewGCS(ctx context.Context, o GCSOptions) (*GCS, error) {
	var opts []option.ClientOption
	if o.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(o.CredentialsFile))
	}
	endpoint := gcsPublicEndpoint
	if o.Endpoint != "" {
		endpoint = o.Endpoint
		opts = append(opts, option.WithEndpoint(o.Endpoint+"/storage/v1/"), option.WithoutAuthentication())
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: gcs client: %w", err)
	}
	return &GCS{client: client, bucket: o.Bucket, projectID: o.ProjectID, endpoint: endpoint}, nil
}

func (g *GCS) EnsureBucket(ctx context.Context) error {
	bkt := g.client.Bucket(g.bucket)
	_, err := bkt.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("storage: check bucket %s: %w", g.bucket, err)
	}
	if g.projectID == "" {
		return fmt.Errorf("storage: bucket %s missing and GCS_PROJECT_ID unset", g.bucket)
	}
	if err := bkt.Create(ctx, g.projectID, nil); err != nil {
		return fmt.Errorf("storage: create bucket %s: %w", g.bucket, err)
	}
	return nil
}

func (g *GCS) Upload(ctx context.Context, key string, data []byte, contentType string) (UploadResult, error) {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return UploadResult{}, fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("storage: close %s: %w", key, err)
	}
	attrs := w.Attrs()
	return UploadResult{Key: key, ETag: attrs.Etag, Size: attrs.Size, URL: g.ReadURL(key)}, nil
}

func (g *GCS) Read(ctx context.Context, key string) (ReadResult, error) {
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ReadResult{Key: key}, nil
	}
	if err != nil {
		return ReadResult{}, fmt.Errorf("storage: open %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return ReadResult{}, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return ReadResult{Key: key, Data: data, ContentType: r.Attrs.ContentType, Found: true}, nil
}

func (g *GCS) ReadURL(key string) string {
	return joinURL(g.endpoint, g.bucket, key)
}

func (g *GCS) Close() error {
	return g.client.Close()
}
