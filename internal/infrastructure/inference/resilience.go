package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

// HTTPStatusError is a non-2xx answer from an inference endpoint.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s status: %s: %s", e.Operation, e.Status, body)
}

func (e *HTTPStatusError) unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func (e *HTTPStatusError) retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500 && e.StatusCode != http.StatusNotImplemented
	}
}

// classifyInferenceError retries network faults, throttling and server errors.
// Other 4xx answers are the request's fault and are neither retried nor
// counted against the breaker.
func classifyInferenceError(err error) resilience.ErrorClassification {
	transient := resilience.ErrorClassification{Retryable: true, RecordFailure: true}

	var statusErr *HTTPStatusError
	var netErr net.Error
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return transient
	case errors.As(err, &statusErr):
		if statusErr.retryable() {
			return transient
		}
		return resilience.ErrorClassification{}
	case errors.As(err, &netErr):
		return transient
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// wrapTemporaryIfNeeded maps transport failures onto domain kinds: auth
// rejections become ErrUnauthorized, recoverable faults ErrTemporary.
func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) || resilience.IsFatal(err) {
		return err
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.unauthorized() {
		return domain.WrapError(domain.ErrUnauthorized, operation, err)
	}
	if classifyInferenceError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
