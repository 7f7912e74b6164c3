package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStageMetricsExposeOutcomes(t *testing.T) {
	m := NewStageMetrics("worker")
	m.MessageStarted("classify")
	m.MessageFinished("classify", "forwarded", 20*time.Millisecond)
	m.InboxSubmitted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`docpipe_stage_messages_total{outcome="forwarded",service="worker",stage="classify"} 1`,
		`docpipe_stage_in_flight{service="worker",stage="classify"} 0`,
		`docpipe_inbox_submitted_total{service="worker"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}
