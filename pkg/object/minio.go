package object

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	miniox "github.com/instill-ai/x/minio"
)

const (
	minioUploadAttempts = 3
	minioRetryDelay     = time.Second
)

type minioWriter struct {
	client     *minio.Client
	bucketName string
	logger     *zap.Logger
}

// NewMinIOStage creates a Stage backed by MinIO. The configured bucket is
// created if it doesn't exist.
func NewMinIOStage(ctx context.Context, params miniox.ClientParams) (Stage, error) {
	params.Logger = params.Logger.With(
		zap.String("storage", "minio"),
		zap.String("host:port", params.Config.Host+":"+params.Config.Port),
		zap.String("bucket", params.Config.BucketName),
	)

	xClient, err := miniox.NewMinIOClientAndInitBucket(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("connecting to MinIO: %w", err)
	}

	w := &minioWriter{
		client:     xClient.Client(),
		bucketName: params.Config.BucketName,
		logger:     params.Logger,
	}
	return newStage(w, params.Logger), nil
}

func (m *minioWriter) write(ctx context.Context, objectPath, contentType string, metadata map[string]string, data []byte) error {
	var err error
	for attempt := 1; attempt <= minioUploadAttempts; attempt++ {
		// Readers can only be consumed once.
		_, err = m.client.PutObject(
			ctx,
			m.bucketName,
			objectPath,
			bytes.NewReader(data),
			int64(len(data)),
			minio.PutObjectOptions{
				ContentType:  contentType,
				UserMetadata: metadata,
			},
		)
		if err == nil {
			return nil
		}

		m.logger.Error("Failed to upload file to MinIO, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(minioRetryDelay):
		}
	}
	return fmt.Errorf("uploading to MinIO after %d attempts: %w", minioUploadAttempts, err)
}

func (m *minioWriter) url(objectPath string) string {
	return fmt.Sprintf("s3://%s/%s", m.bucketName, objectPath)
}

func (m *minioWriter) bucket() string { return m.bucketName }

func (m *minioWriter) close() error { return nil }
