// Package minio wraps the MinIO client the blob package's ref-counted
// manager stores object payloads through, trimmed from the teacher's
// fuller IAM/STS/TLS client builder down to the static-credential case
// this project's config.Minio section carries.
package minio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/forbearing/tol/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var (
	initialized bool
	client      *minio.Client
	mu          sync.RWMutex
)

// Init builds the global client and ensures the configured bucket exists.
// A no-op when config.App.Minio.Endpoint is empty.
func Init() (err error) {
	cfg := config.App.Minio
	if cfg.Endpoint == "" {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}

	if client, err = New(cfg); err != nil {
		return errors.Wrap(err, "failed to create minio client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := EnsureBucket(ctx, cfg.Bucket); err != nil {
		return err
	}

	zap.S().Infow("successfully connected to minio", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	initialized = true
	return nil
}

// New returns a client for cfg without touching the package-global handle.
func New(cfg config.Minio) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is empty")
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
}

// Client returns the global client, or nil if Init was never called.
func Client() *minio.Client {
	mu.RLock()
	defer mu.RUnlock()
	return client
}

// EnsureBucket creates each named bucket if it doesn't already exist.
func EnsureBucket(ctx context.Context, buckets ...string) error {
	for _, bucket := range buckets {
		bucket = strings.TrimSpace(bucket)
		if bucket == "" {
			continue
		}
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("failed to check bucket existence: %w", err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
			}
		}
	}
	return nil
}
