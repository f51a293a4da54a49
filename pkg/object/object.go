// Package object stages uploaded images and rendered PDF pages in durable
// object storage. Every upload returns an addressable URL together with the
// inline base64 data URI the embedding workflows consume.
package object

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	errorsx "github.com/instill-ai/x/errors"
)

// Metadata keys attached to every staged object.
const (
	MetadataUserID    = "user-id"
	MetadataNamespace = "namespace"
	MetadataSource    = "source"

	sourceName = "vision-rag-backend"
)

// Upload is the result of staging a file.
type Upload struct {
	URL    string // e.g. gs://bucket/ns/user/1700000000000-cat.png
	Path   string // object path inside the bucket
	Base64 string // data:<content-type>;base64,<payload>
}

// Stage uploads file buffers on behalf of a tenant.
type Stage interface {
	UploadBuffer(ctx context.Context, data []byte, fileName, contentType, userID, namespace string) (*Upload, error)
	// Bucket returns the bucket objects are written to.
	Bucket() string
	Close() error
}

// objectWriter is the storage-specific half of a Stage.
type objectWriter interface {
	write(ctx context.Context, objectPath, contentType string, metadata map[string]string, data []byte) error
	url(objectPath string) string
	bucket() string
	close() error
}

type stage struct {
	w      objectWriter
	now    func() time.Time
	logger *zap.Logger
}

func newStage(w objectWriter, logger *zap.Logger) *stage {
	return &stage{w: w, now: time.Now, logger: logger}
}

// ObjectPath builds the tenant-scoped path of an upload.
// Format: {namespace}/{userID}/{unixMillis}-{fileName}
func ObjectPath(namespace, userID string, at time.Time, fileName string) string {
	return fmt.Sprintf("%s/%s/%d-%s", namespace, userID, at.UnixMilli(), SanitizeFileName(fileName))
}

// SanitizeFileName keeps the base name of a client-provided file name so it
// can't escape the tenant prefix.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "file"
	}
	return name
}

// DataURI encodes data as an inline data URI.
func DataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// UploadBuffer implements Stage.
func (s *stage) UploadBuffer(ctx context.Context, data []byte, fileName, contentType, userID, namespace string) (*Upload, error) {
	switch {
	case len(data) == 0:
		return nil, errorsx.AddMessage(fmt.Errorf("%w: empty file", errorsx.ErrInvalidArgument), "The uploaded file is empty.")
	case userID == "" || namespace == "":
		return nil, errorsx.AddMessage(fmt.Errorf("%w: missing tenant", errorsx.ErrInvalidArgument), "User ID and namespace are required.")
	case contentType == "":
		contentType = "application/octet-stream"
	}

	objectPath := ObjectPath(namespace, userID, s.now(), fileName)
	metadata := map[string]string{
		MetadataUserID:    userID,
		MetadataNamespace: namespace,
		MetadataSource:    sourceName,
	}

	if err := s.w.write(ctx, objectPath, contentType, metadata, data); err != nil {
		return nil, err
	}

	s.logger.Info("File staged successfully",
		zap.String("bucket", s.w.bucket()),
		zap.String("path", objectPath),
		zap.Int("size", len(data)))

	return &Upload{
		URL:    s.w.url(objectPath),
		Path:   objectPath,
		Base64: DataURI(contentType, data),
	}, nil
}

// Bucket implements Stage.
func (s *stage) Bucket() string { return s.w.bucket() }

// Close implements Stage.
func (s *stage) Close() error { return s.w.close() }
