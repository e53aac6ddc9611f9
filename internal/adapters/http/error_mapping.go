package httpadapter

import (
	"net/http"

	"github.com/kirillkom/docqa/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound), domain.IsKind(err, domain.ErrNoRelevantContext):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrAllTiersExhausted), domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// writeError hides internal error text behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{
		Error:     message,
		Code:      domain.ErrorCode(err),
		RequestID: requestIDFromContext(r.Context()),
	})
}
