package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioUploader stores objects in a self-hosted MinIO bucket. The bucket is
// expected to carry an anonymous read policy.
type MinioUploader struct {
	cfg    Config
	client *minio.Client
	now    func() time.Time
}

func NewMinioUploader(ctx context.Context, cfg Config) (*MinioUploader, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("minio public base url is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "photos"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &MinioUploader{cfg: cfg, client: client, now: time.Now}, nil
}

func (u *MinioUploader) Upload(ctx context.Context, key Key, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to upload")
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	objectKey := objectKey(u.cfg.Prefix, key, contentType, u.now())
	_, err := u.client.PutObject(ctx, u.cfg.Bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload to minio: %w", err)
	}
	return publicURL(u.cfg.PublicBaseURL, objectKey), nil
}
