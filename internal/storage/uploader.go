// Package storage stores message attachments.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"huddle/internal/config"
	"huddle/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultUploadDir     = "/tmp/huddle/uploads"
	DefaultUploadBaseURL = "/uploads"
	MaxUploadBytes       = 25 * 1024 * 1024
)

// FileUploader persists attachment bytes and returns a URL clients can fetch them from.
type FileUploader interface {
	UploadFile(ctx context.Context, fileName string, data []byte) (string, error)
}

// LocalUploader writes attachments to a directory served under BaseURL.
type LocalUploader struct {
	dir     string
	baseURL string
}

// NewLocalUploader creates an uploader from the UPLOAD_* settings.
func NewLocalUploader(cfg *config.Config) *LocalUploader {
	dir := DefaultUploadDir
	baseURL := DefaultUploadBaseURL
	if cfg != nil {
		if cfg.UploadDir != "" {
			dir = cfg.UploadDir
		}
		if cfg.UploadBaseURL != "" {
			baseURL = cfg.UploadBaseURL
		}
	}
	return &LocalUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Dir is the directory files are written to.
func (u *LocalUploader) Dir() string {
	return u.dir
}

func (u *LocalUploader) UploadFile(ctx context.Context, fileName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", models.NewValidationError("file " + fileName + " is empty")
	}
	if len(data) > MaxUploadBytes {
		return "", models.NewValidationError(fmt.Sprintf("file %s exceeds %d bytes", fileName, MaxUploadBytes))
	}

	stored := uuid.NewString() + safeExt(fileName)
	if err := os.MkdirAll(u.dir, 0o750); err != nil {
		return "", models.NewInternalError(err)
	}
	if err := os.WriteFile(filepath.Join(u.dir, stored), data, 0o600); err != nil {
		return "", models.NewInternalError(err)
	}
	return u.baseURL + "/" + stored, nil
}

func safeExt(fileName string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(fileName)))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
