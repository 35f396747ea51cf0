package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// S3 stores objects in an S3-compatible service (AWS, MinIO, LocalStack)
// using path-style addressing.
type S3 struct {
	mc       *minio.Client
	endpoint string
	bucket   string
	region   string
}

func NewS3(o S3Options) (*S3, error) {
	u, err := url.Parse(o.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("storage: invalid s3 endpoint %q", o.Endpoint)
	}
	mc, err := minio.New(u.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure:       u.Scheme == "https",
		Region:       o.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: s3 client: %w", err)
	}
	return &S3{
		mc:       mc,
		endpoint: strings.TrimRight(o.Endpoint, "/"),
		bucket:   o.Bucket,
		region:   o.Region,
	}, nil
}

func (s *S3) EnsureBucket(ctx context.Context) error {
	ok, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("storage: check bucket %s: %w", s.bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		// lost a creation race with another process
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("storage: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *S3) Upload(ctx context.Context, key string, data []byte, contentType string) (UploadResult, error) {
	info, err := s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return UploadResult{}, fmt.Errorf("storage: put %s: %w", key, err)
	}
	return UploadResult{Key: key, ETag: info.ETag, Size: info.Size, URL: s.ReadURL(key)}, nil
}

func (s *S3) Read(ctx context.Context, key string) (ReadResult, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return ReadResult{}, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ReadResult{Key: key}, nil
		}
		return ReadResult{}, fmt.Errorf("storage: read %s: %w", key, err)
	}
	var contentType string
	if st, err := obj.Stat(); err == nil {
		contentType = st.ContentType
	}
	return ReadResult{Key: key, Data: data, ContentType: contentType, Found: true}, nil
}

func (s *S3) ReadURL(key string) string {
	return joinURL(s.endpoint, s.bucket, key)
}
