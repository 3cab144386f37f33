// Package storage keeps permanent copies of the source documents behind
// booking orders.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// LocalArchive implements port.FileArchive on the local filesystem.
// Each workflow gets its own folder under baseDir.
type LocalArchive struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalArchive creates a new LocalArchive
func NewLocalArchive(baseDir string, logger *zap.Logger) *LocalArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalArchive{baseDir: baseDir, logger: logger}
}

// Archive copies srcPath into the workflow's folder and returns its reference
func (a *LocalArchive) Archive(ctx context.Context, srcPath, workflowID string) (entity.OriginalFile, error) {
	if err := ctx.Err(); err != nil {
		return entity.OriginalFile{}, err
	}

	folder := SanitizeName(workflowID)
	if folder == "" {
		return entity.OriginalFile{}, fmt.Errorf("cannot archive: empty workflow id")
	}
	filename := SanitizeName(filepath.Base(srcPath))
	if filename == "" {
		return entity.OriginalFile{}, fmt.Errorf("cannot archive: empty file name")
	}

	fullPath := filepath.Join(a.baseDir, folder, filename)
	if err := a.validatePath(fullPath); err != nil {
		return entity.OriginalFile{}, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		a.logger.Error("Failed to create archive folder",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return entity.OriginalFile{}, fmt.Errorf("failed to create directories: %w", err)
	}

	size, err := copyFile(srcPath, fullPath)
	if err != nil {
		a.logger.Error("Failed to archive file",
			zap.String("src", srcPath),
			zap.String("dst", fullPath),
			zap.Error(err))
		return entity.OriginalFile{}, err
	}

	a.logger.Debug("File archived",
		zap.String("workflow_id", workflowID),
		zap.String("path", fullPath),
		zap.Int64("size", size))

	return entity.OriginalFile{
		Path:     fullPath,
		Filename: filepath.Base(srcPath),
		Size:     size,
		FileID:   uuid.NewString(),
	}, nil
}

// validatePath checks that the path is safe and within baseDir
func (a *LocalArchive) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(a.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}
	return nil
}

// copyFile writes to a temp file first so a half-written copy never
// appears under the final name
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".archive-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to copy file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("failed to move file into archive: %w", err)
	}
	return n, nil
}

// SanitizeName returns a filesystem-safe version of the name.
// Path separators and parent references are removed.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	return unsafeChars.ReplaceAllString(name, "")
}

// Verify interface compliance
var _ port.FileArchive = (*LocalArchive)(nil)
