package handler

import (
	"errors"
	"net/http"
	"time"

	"draftsync/internal/domain"
	"draftsync/internal/httputil"
)

// conflictResponse is the 409 body for rejected saves. It carries the
// server's current state so the client can reconcile programmatically
// instead of treating the failure as opaque.
type conflictResponse struct {
	Error     string    `json:"error"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// handleError converts domain errors to HTTP responses
func handleError(w http.ResponseWriter, err error) {
	var conflictErr *domain.ConflictError

	switch {
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		httputil.RespondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		httputil.RespondError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &conflictErr):
		httputil.RespondJSON(w, http.StatusConflict, conflictResponse{
			Error:     conflictErr.Message,
			Content:   conflictErr.Content,
			UpdatedAt: conflictErr.UpdatedAt,
		})
	default:
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
