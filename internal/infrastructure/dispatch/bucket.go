package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Bucket uploads a stored document to "bucket/prefix" in the object store.
type Bucket struct {
	storage  ports.ObjectStorage
	uploader ports.BucketUploader
}

func NewBucket(storage ports.ObjectStorage, uploader ports.BucketUploader) *Bucket {
	return &Bucket{storage: storage, uploader: uploader}
}

func (b *Bucket) Dispatch(ctx context.Context, doc *domain.Document, destination string) (string, error) {
	if b.uploader == nil {
		return "", domain.WrapError(domain.ErrConfiguration, "bucket dispatch", fmt.Errorf("object store uploader is not configured"))
	}
	bucket, prefix := splitBucket(destination)
	if bucket == "" {
		return "", domain.WrapError(domain.ErrConfiguration, "bucket dispatch", fmt.Errorf("destination %q has no bucket", destination))
	}

	src, err := b.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open stored document: %w", err)
	}
	defer src.Close()
	raw, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("read stored document: %w", err)
	}

	key := path.Join(prefix, path.Base(doc.Filename))
	uri, err := b.uploader.Upload(ctx, bucket, key, bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("upload to %s: %w", bucket, err)
	}
	return uri, nil
}

// splitBucket accepts "bucket", "bucket/prefix" and "s3://bucket/prefix".
func splitBucket(destination string) (string, string) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(destination), "s3://")
	trimmed = strings.Trim(trimmed, "/")
	bucket, prefix, _ := strings.Cut(trimmed, "/")
	return bucket, prefix
}
