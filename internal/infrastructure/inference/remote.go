package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// RemoteClassifier calls the remote classification API with bearer auth.
type RemoteClassifier struct {
	client *Client
	path   string
}

func NewRemoteClassifier(client *Client, path string) *RemoteClassifier {
	if strings.TrimSpace(path) == "" {
		path = "/classify"
	}
	return &RemoteClassifier{client: client, path: path}
}

type remoteRequest struct {
	Text string `json:"text"`
}

type remoteResponse struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

func (r *RemoteClassifier) Classify(ctx context.Context, text string) (string, float64, error) {
	if r.client.apiKey == "" {
		return "", 0, domain.WrapError(domain.ErrConfiguration, "remote classify", fmt.Errorf("api key is not configured"))
	}
	if r.client.baseURL == "" {
		return "", 0, domain.WrapError(domain.ErrConfiguration, "remote classify", fmt.Errorf("api url is not configured"))
	}

	var resp remoteResponse
	if err := r.client.call(ctx, "remote_classify", r.path, remoteRequest{Text: text}, &resp); err != nil {
		return "", 0, err
	}
	category := strings.TrimSpace(resp.Category)
	if category == "" {
		return "", 0, fmt.Errorf("remote classifier returned empty category")
	}
	confidence := resp.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return category, confidence, nil
}
