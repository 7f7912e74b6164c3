package localfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

func TestSaveOpenDeleteNestedKey(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, "documents/abc_invoice.txt", strings.NewReader("invoice total")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rc, err := store.Open(ctx, "documents/abc_invoice.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "invoice total" {
		t.Fatalf("unexpected body %q", body)
	}

	if err := store.Delete(ctx, "documents/abc_invoice.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Open(ctx, "documents/abc_invoice.txt"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound after delete, got %v", err)
	}
}

func TestKeysCannotEscapeBasePath(t *testing.T) {
	base := t.TempDir()
	store, err := New(base)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	path, err := store.resolve("../../etc/passwd")
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if !strings.HasPrefix(path, base) {
		t.Fatalf("resolved path %q escapes %q", path, base)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestSaveLeavesNothingBehindOnWriteFailure(t *testing.T) {
	base := t.TempDir()
	store, err := New(base)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Save(context.Background(), "documents/broken.txt", failingReader{}); err == nil {
		t.Fatalf("expected Save() to fail")
	}
	entries, err := os.ReadDir(filepath.Join(base, "documents"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files after failed save, found %d", len(entries))
	}
}
