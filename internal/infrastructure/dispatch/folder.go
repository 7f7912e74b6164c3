package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Folder moves a stored document into a local directory.
type Folder struct {
	storage ports.ObjectStorage
}

func NewFolder(storage ports.ObjectStorage) *Folder {
	return &Folder{storage: storage}
}

func (f *Folder) Dispatch(ctx context.Context, doc *domain.Document, destination string) (string, error) {
	dir := strings.TrimSpace(destination)
	if dir == "" {
		return "", domain.WrapError(domain.ErrConfiguration, "folder dispatch", fmt.Errorf("destination directory is empty"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create destination dir: %w", err)
	}

	src, err := f.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open stored document: %w", err)
	}
	defer src.Close()

	target := filepath.Join(dir, filepath.Base(doc.Filename))
	tmp := target + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create destination file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("copy document: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close destination file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize destination file: %w", err)
	}

	if err := f.storage.Delete(ctx, doc.StoragePath); err != nil {
		slog.Warn("folder_dispatch_source_cleanup_failed",
			"document_id", doc.ID,
			"storage_path", doc.StoragePath,
			"error", err,
		)
	}
	return target, nil
}
