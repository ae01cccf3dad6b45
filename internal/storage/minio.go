package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"sharelink/internal/config"
)

// minioStorage implements the Storage interface using an S3-compatible backend (MinIO, AWS S3, etc.).
// It is safe for concurrent use by multiple goroutines.
type minioStorage struct {
	client        *minio.Client
	bucket        string
	publicURL     string
	presignExpiry time.Duration
	log           *zap.Logger
}

func newMinIOStorage(cfg config.MinIOConfig, log *zap.Logger) (*minioStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio credentials are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	tr, err := minio.DefaultTransport(cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("create minio transport: %w", err)
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
		Transport: otelhttp.NewTransport(tr,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "minio " + r.Method
			}),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 48 * time.Hour
	}

	return &minioStorage{
		client:        cli,
		bucket:        cfg.Bucket,
		publicURL:     strings.TrimRight(cfg.PublicURL, "/"),
		presignExpiry: expiry,
		log:           log.With(zap.String("component", "storage"), zap.String("bucket", cfg.Bucket)),
	}, nil
}

// NewMinIO creates a new S3-compatible storage client backed by MinIO.
// It validates connectivity and ensures the bucket exists (creates it if missing).
func NewMinIO(cfg config.MinIOConfig, log *zap.Logger) (Storage, error) {
	ms, err := newMinIOStorage(cfg, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := ms.client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := ms.client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		ms.log.Info("bucket created")
	}

	return ms, nil
}

// Put uploads an object using streaming I/O only (no local disk).
func (m *minioStorage) Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error) {
	putOpts := minio.PutObjectOptions{
		ContentType:  opt.ContentType,
		UserMetadata: opt.Metadata,
	}
	info, err := m.client.PutObject(ctx, m.bucket, key, r, opt.Size, putOpts)
	if err != nil {
		return ObjectInfo{}, err
	}
	m.log.Debug("object stored", zap.String("key", key), zap.Int64("size", info.Size))
	return ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  opt.ContentType,
		LastModified: time.Now(), // MinIO PutObjectInfo doesn't return LastModified
		Metadata:     opt.Metadata,
	}, nil
}

// URL builds a public URL when a public base is configured, otherwise a presigned GET URL.
func (m *minioStorage) URL(ctx context.Context, key string) (string, error) {
	if m.publicURL != "" {
		return m.publicURL + "/" + m.bucket + "/" + escapeKey(key), nil
	}
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, m.presignExpiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Delete removes an object by key.
func (m *minioStorage) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return err
	}
	m.log.Debug("object removed", zap.String("key", key))
	return nil
}

// escapeKey escapes each path segment but keeps the separators.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
