package inference

import (
	"context"
	"fmt"
	"math"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// Model is a statistical model served over HTTP. It returns a probability
// distribution over a fixed label set.
type Model struct {
	client *Client
	labels []string
}

func NewModel(client *Client, labels []string) *Model {
	if len(labels) == 0 {
		labels = domain.DefaultLabels()
	}
	return &Model{client: client, labels: append([]string(nil), labels...)}
}

func (m *Model) Labels() []string {
	return append([]string(nil), m.labels...)
}

type predictRequest struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

type predictResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

func (m *Model) PredictProba(ctx context.Context, text string) ([]float64, error) {
	var resp predictResponse
	if err := m.client.call(ctx, "predict", "/predict", predictRequest{Text: text, Labels: m.labels}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Probabilities) != len(m.labels) {
		return nil, fmt.Errorf("model returned %d probabilities for %d labels", len(resp.Probabilities), len(m.labels))
	}
	for i, p := range resp.Probabilities {
		if math.IsNaN(p) || p < 0 {
			return nil, fmt.Errorf("model returned invalid probability %v for %s", p, m.labels[i])
		}
	}
	return resp.Probabilities, nil
}
