// Package assets resolves FILE property values against the object store that
// holds uploaded attachments.
package assets

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Resolver checks that FILE values name existing objects in one bucket.
type Resolver struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Resolver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("assets: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("assets: create client: %w", err)
	}
	return &Resolver{client: client, bucket: cfg.Bucket}, nil
}

// FileExists implements property.FileResolver.
func (r *Resolver) FileExists(ctx context.Context, key string) (bool, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" || strings.Contains(key, "..") {
		return false, nil
	}
	_, err := r.client.StatObject(ctx, r.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

// Ping reports whether the bucket is reachable.
func (r *Resolver) Ping(ctx context.Context) error {
	ok, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", r.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", r.bucket)
	}
	return nil
}
