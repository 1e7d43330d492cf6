package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

// MinIOConfig points at any S3-compatible object store
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinIOAudioStore archives audio objects in an S3-compatible bucket
type MinIOAudioStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

var _ repositories.AudioStore = (*MinIOAudioStore)(nil)

// NewMinIOAudioStore connects to the bucket, creating it when missing
func NewMinIOAudioStore(ctx context.Context, cfg MinIOConfig, logger *zap.Logger) (*MinIOAudioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object store endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
		logger.Info("Created audio bucket", zap.String("bucket", cfg.Bucket))
	}

	return &MinIOAudioStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Healthy reports whether the bucket is reachable
func (s *MinIOAudioStore) Healthy(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %q is missing", s.bucket)
	}
	return nil
}

// Put uploads an audio object
func (s *MinIOAudioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"uploaded-at": time.Now().Format(time.RFC3339)},
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	s.logger.Debug("Audio stored", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// Get streams an audio object back with its content type
func (s *MinIOAudioStore) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}

	// GetObject is lazy; Stat surfaces missing keys
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, "", repositories.ErrAudioNotFound
		}
		return nil, "", fmt.Errorf("stat failed: %w", err)
	}
	return obj, info.ContentType, nil
}

// Delete removes an audio object. Removing a missing key is not an error.
func (s *MinIOAudioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	s.logger.Debug("Audio removed", zap.String("key", key))
	return nil
}
