package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
)

// GCSArchive implements port.FileArchive on a Cloud Storage bucket.
// Objects are written only if they do not exist yet, so archiving the
// same file twice for one workflow is a no-op.
type GCSArchive struct {
	bucket    string
	prefix    string
	newWriter func(ctx context.Context, object string) io.WriteCloser
	logger    *zap.Logger
}

// NewGCSArchive creates an archive writing under prefix in bucket
func NewGCSArchive(client *storage.Client, bucket, prefix string, logger *zap.Logger) *GCSArchive {
	handle := client.Bucket(bucket)
	return newGCSArchive(bucket, prefix, func(ctx context.Context, object string) io.WriteCloser {
		return handle.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	}, logger)
}

func newGCSArchive(bucket, prefix string, newWriter func(ctx context.Context, object string) io.WriteCloser, logger *zap.Logger) *GCSArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCSArchive{bucket: bucket, prefix: prefix, newWriter: newWriter, logger: logger}
}

// Archive uploads srcPath to <prefix>/<workflowID>/<filename>
func (a *GCSArchive) Archive(ctx context.Context, srcPath, workflowID string) (entity.OriginalFile, error) {
	folder := SanitizeName(workflowID)
	filename := SanitizeName(filepath.Base(srcPath))
	if folder == "" || filename == "" {
		return entity.OriginalFile{}, fmt.Errorf("cannot archive %q for workflow %q", srcPath, workflowID)
	}
	object := path.Join(a.prefix, folder, filename)

	in, err := os.Open(srcPath)
	if err != nil {
		return entity.OriginalFile{}, fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	w := a.newWriter(ctx, object)
	size, err := io.Copy(w, in)
	if err != nil {
		_ = w.Close()
		if alreadyExists(err) {
			return a.existing(object, srcPath, size), nil
		}
		a.logger.Error("Failed to copy content to GCS object", zap.String("object", object), zap.Error(err))
		return entity.OriginalFile{}, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		if alreadyExists(err) {
			return a.existing(object, srcPath, size), nil
		}
		a.logger.Error("Failed to close GCS writer", zap.String("object", object), zap.Error(err))
		return entity.OriginalFile{}, fmt.Errorf("failed to finalize GCS write: %w", err)
	}

	a.logger.Debug("File archived to GCS", zap.String("object", object), zap.Int64("size", size))
	return entity.OriginalFile{
		Path:     a.url(object),
		Filename: filepath.Base(srcPath),
		Size:     size,
		FileID:   uuid.NewString(),
	}, nil
}

func (a *GCSArchive) existing(object, srcPath string, size int64) entity.OriginalFile {
	a.logger.Info("Object already archived, skipping", zap.String("object", object))
	if info, err := os.Stat(srcPath); err == nil {
		size = info.Size()
	}
	return entity.OriginalFile{
		Path:     a.url(object),
		Filename: filepath.Base(srcPath),
		Size:     size,
		FileID:   uuid.NewString(),
	}
}

func (a *GCSArchive) url(object string) string {
	return fmt.Sprintf("gs://%s/%s", a.bucket, object)
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// Verify interface compliance
var _ port.FileArchive = (*GCSArchive)(nil)
