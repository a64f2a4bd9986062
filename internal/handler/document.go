package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"draftsync/internal/domain/services"
	"draftsync/internal/httputil"
)

// DocumentHandler handles document HTTP requests
type DocumentHandler struct {
	docService services.DocumentService
	agentToken string
	logger     *slog.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(docService services.DocumentService, agentToken string, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		docService: docService,
		agentToken: agentToken,
		logger:     logger,
	}
}

// saveResponse is the success body for a save: the authoritative new state.
type saveResponse struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateDraft creates a new document in drafting status
// POST /api/docs
func (h *DocumentHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	doc, err := h.docService.CreateDraft(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, doc)
}

// GetDocument retrieves a document by ID
// GET /api/docs/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httputil.RespondError(w, http.StatusBadRequest, "document ID is required")
		return
	}

	doc, err := h.docService.GetDocument(r.Context(), userID, id)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, doc)
}

// ListDocuments lists the caller's documents
// GET /api/docs
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	docs, err := h.docService.ListDocuments(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, docs)
}

// SaveDocument persists user edits under the optimistic-concurrency check
// PUT /api/docs/{id}
// Returns 200 with the authoritative new state, or 409 with the server's
// current state when the client's base timestamp is stale.
func (h *DocumentHandler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httputil.RespondError(w, http.StatusBadRequest, "document ID is required")
		return
	}

	var req services.SaveDocumentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ClientID = r.Header.Get("X-Client-ID")

	doc, err := h.docService.SaveDocument(r.Context(), userID, id, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, saveResponse{
		Content:   doc.Content,
		UpdatedAt: doc.UpdatedAt,
	})
}

// completeRequest is the agent's delivery payload
type completeRequest struct {
	Content string `json:"content"`
}

// CompleteDraft accepts the generation agent's finished payload
// POST /api/docs/{id}/complete
// Authenticated by the shared agent token, not user identity.
func (h *DocumentHandler) CompleteDraft(w http.ResponseWriter, r *http.Request) {
	if !h.agentAuthorized(r) {
		httputil.RespondError(w, http.StatusUnauthorized, "invalid agent token")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httputil.RespondError(w, http.StatusBadRequest, "document ID is required")
		return
	}

	var req completeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := h.docService.CompleteDraft(r.Context(), id, req.Content)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, doc)
}

// FailDraft marks a generation job as failed
// POST /api/docs/{id}/fail
func (h *DocumentHandler) FailDraft(w http.ResponseWriter, r *http.Request) {
	if !h.agentAuthorized(r) {
		httputil.RespondError(w, http.StatusUnauthorized, "invalid agent token")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httputil.RespondError(w, http.StatusBadRequest, "document ID is required")
		return
	}

	if err := h.docService.FailDraft(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) agentAuthorized(r *http.Request) bool {
	if h.agentToken == "" {
		return false
	}
	token := r.Header.Get("X-Agent-Token")
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.agentToken)) == 1
}

// HealthCheck is a simple health check endpoint
func (h *DocumentHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now(),
	})
}
