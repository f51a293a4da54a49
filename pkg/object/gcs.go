package object

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	errorsx "github.com/instill-ai/x/errors"
)

const gcsUploadTimeout = 5 * time.Minute

// GCSConfig holds GCS storage configuration
type GCSConfig struct {
	ProjectID         string
	Region            string
	Bucket            string
	ServiceAccountKey string // JSON string
}

type gcsWriter struct {
	client     *storage.Client
	bucketName string
}

// NewGCSStage creates a Stage backed by Google Cloud Storage
func NewGCSStage(ctx context.Context, config GCSConfig, logger *zap.Logger) (Stage, error) {
	if config.Bucket == "" {
		return nil, errorsx.AddMessage(
			errorsx.ErrInvalidArgument,
			"GCS bucket name is required",
		)
	}

	var opts []option.ClientOption
	if config.ServiceAccountKey != "" {
		saKey, err := unwrapServiceAccountKey([]byte(config.ServiceAccountKey))
		if err != nil {
			return nil, errorsx.AddMessage(err, "Unable to process service account credentials.")
		}
		opts = append(opts, option.WithCredentialsJSON(saKey))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errorsx.AddMessage(
			fmt.Errorf("failed to create GCS client: %w", err),
			"Unable to connect to Google Cloud Storage. Please check your configuration.",
		)
	}

	logger = logger.With(
		zap.String("storage", "gcs"),
		zap.String("project", config.ProjectID),
		zap.String("region", config.Region),
		zap.String("bucket", config.Bucket))

	return newStage(&gcsWriter{client: client, bucketName: config.Bucket}, logger), nil
}

// unwrapServiceAccountKey extracts the credentials when the key is wrapped in
// a Vault response (data.data). Other keys are returned unchanged.
func unwrapServiceAccountKey(key []byte) ([]byte, error) {
	var keyData map[string]any
	if err := json.Unmarshal(key, &keyData); err != nil {
		return key, nil
	}

	data, ok := keyData["data"].(map[string]any)
	if !ok {
		return key, nil
	}
	inner, ok := data["data"].(map[string]any)
	if !ok {
		return key, nil
	}

	actual, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal service account key: %w", err)
	}
	return actual, nil
}

func (g *gcsWriter) write(ctx context.Context, objectPath, contentType string, metadata map[string]string, data []byte) error {
	uploadCtx, cancel := context.WithTimeout(ctx, gcsUploadTimeout)
	defer cancel()

	writer := g.client.Bucket(g.bucketName).Object(objectPath).NewWriter(uploadCtx)
	writer.ContentType = contentType
	writer.Metadata = metadata

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return errorsx.AddMessage(
			fmt.Errorf("failed to write to GCS: %w", err),
			"Unable to upload file to GCS. Please try again.",
		)
	}

	// Close finalizes the upload.
	if err := writer.Close(); err != nil {
		return errorsx.AddMessage(
			fmt.Errorf("failed to finalize GCS upload: %w", err),
			"Unable to complete file upload to GCS. Please try again.",
		)
	}
	return nil
}

func (g *gcsWriter) url(objectPath string) string {
	return fmt.Sprintf("gs://%s/%s", g.bucketName, objectPath)
}

func (g *gcsWriter) bucket() string { return g.bucketName }

func (g *gcsWriter) close() error { return g.client.Close() }
