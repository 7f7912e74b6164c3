package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/storage/localfs"
)

func newStoredDocument(t *testing.T) (*localfs.Storage, *domain.Document) {
	t.Helper()
	store, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New() error = %v", err)
	}
	doc := &domain.Document{ID: "doc-1", Filename: "invoice.txt", StoragePath: "documents/abc_invoice.txt"}
	if err := store.Save(context.Background(), doc.StoragePath, strings.NewReader("invoice total")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return store, doc
}

func TestFolderMovesDocument(t *testing.T) {
	store, doc := newStoredDocument(t)
	dest := filepath.Join(t.TempDir(), "finance", "2026")

	path, err := NewFolder(store).Dispatch(context.Background(), doc, dest)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if path != filepath.Join(dest, "invoice.txt") {
		t.Fatalf("unexpected path %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil || string(raw) != "invoice total" {
		t.Fatalf("unexpected routed file %q err=%v", raw, err)
	}
	if _, err := store.Open(context.Background(), doc.StoragePath); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected source removed, got %v", err)
	}
}

type recordingUploader struct {
	bucket, key string
	body        []byte
}

func (u *recordingUploader) Upload(_ context.Context, bucket, key string, data io.Reader, _ int64) (string, error) {
	u.bucket, u.key = bucket, key
	u.body, _ = io.ReadAll(data)
	return "s3://" + bucket + "/" + key, nil
}

func TestBucketUploadsUnderPrefix(t *testing.T) {
	store, doc := newStoredDocument(t)
	uploader := &recordingUploader{}

	uri, err := NewBucket(store, uploader).Dispatch(context.Background(), doc, "s3://archive/finance")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if uri != "s3://archive/finance/invoice.txt" {
		t.Fatalf("unexpected uri %s", uri)
	}
	if !bytes.Equal(uploader.body, []byte("invoice total")) {
		t.Fatalf("unexpected uploaded body %q", uploader.body)
	}
}

func TestWebhookCapturesErrorBody(t *testing.T) {
	store, doc := newStoredDocument(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		http.Error(w, "erp rejected document", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	_, err := NewWebhook(store, 0).Dispatch(context.Background(), doc, server.URL)
	if err == nil || !strings.Contains(err.Error(), "erp rejected document") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestWebhookPostsFile(t *testing.T) {
	store, doc := newStoredDocument(t)
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		raw, _ := io.ReadAll(file)
		received = string(raw)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	location, err := NewWebhook(store, 0).Dispatch(context.Background(), doc, server.URL)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if location != server.URL || received != "invoice total" {
		t.Fatalf("unexpected location=%s received=%q", location, received)
	}
}
