package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Webhook POSTs a stored document as multipart form data to an external API.
type Webhook struct {
	storage    ports.ObjectStorage
	httpClient *http.Client
}

func NewWebhook(storage ports.ObjectStorage, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{storage: storage, httpClient: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Dispatch(ctx context.Context, doc *domain.Document, destination string) (string, error) {
	endpoint := strings.TrimSpace(destination)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return "", domain.WrapError(domain.ErrConfiguration, "webhook dispatch", fmt.Errorf("destination %q is not an http url", destination))
	}

	src, err := w.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open stored document: %w", err)
	}
	defer src.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(doc.Filename))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	_ = form.WriteField("document_id", doc.ID)
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("external api status %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return endpoint, nil
}
