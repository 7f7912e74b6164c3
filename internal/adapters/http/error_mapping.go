package httpadapter

import (
	"net/http"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrDocumentNotFound), domain.IsKind(err, domain.ErrRuleNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrDuplicateRule), domain.IsKind(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary), resilience.IsFatal(err), resilience.IsCircuitOpen(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
