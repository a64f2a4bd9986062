package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"draftsync/internal/domain"
	"draftsync/internal/domain/models"
	"draftsync/internal/domain/services"
	"draftsync/internal/httputil"
)

// fakeDocService returns canned results per method.
type fakeDocService struct {
	saveDoc  *models.Document
	saveErr  error
	getDoc   *models.Document
	getErr   error
	failErr  error
	lastSave *services.SaveDocumentRequest
}

func (f *fakeDocService) CreateDraft(ctx context.Context, userID string) (*models.Document, error) {
	return &models.Document{ID: "doc-new", OwnerID: userID, Status: models.StatusDrafting}, nil
}

func (f *fakeDocService) GetDocument(ctx context.Context, userID, docID string) (*models.Document, error) {
	return f.getDoc, f.getErr
}

func (f *fakeDocService) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	return []models.Document{}, nil
}

func (f *fakeDocService) SaveDocument(ctx context.Context, userID, docID string, req *services.SaveDocumentRequest) (*models.Document, error) {
	f.lastSave = req
	return f.saveDoc, f.saveErr
}

func (f *fakeDocService) CompleteDraft(ctx context.Context, docID, content string) (*models.Document, error) {
	return &models.Document{ID: docID, Content: content, Status: models.StatusCompleted}, nil
}

func (f *fakeDocService) FailDraft(ctx context.Context, docID string) error {
	return f.failErr
}

func newTestHandler(svc services.DocumentService) *DocumentHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDocumentHandler(svc, "agent-secret", logger)
}

// saveRequest issues a PUT through a mux so r.PathValue is populated, with
// the caller identity already placed in the request context the way the
// middleware would.
func saveRequest(t *testing.T, h *DocumentHandler, docID, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/docs/{id}", h.SaveDocument)

	req := httptest.NewRequest(http.MethodPut, "/api/docs/"+docID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", "session-1")
	if userID != "" {
		req = httputil.WithUserID(req, userID)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSaveDocumentSuccessBody(t *testing.T) {
	savedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeDocService{
		saveDoc: &models.Document{ID: "doc-1", Content: "edited", UpdatedAt: savedAt},
	}
	h := newTestHandler(svc)

	rec := saveRequest(t, h, "doc-1", "user-1", `{"content":"edited","updatedAt":"2026-03-01T11:00:00Z"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Content   string    `json:"content"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Content != "edited" {
		t.Errorf("content = %q, want %q", resp.Content, "edited")
	}
	if !resp.UpdatedAt.Equal(savedAt) {
		t.Errorf("updatedAt = %v, want %v", resp.UpdatedAt, savedAt)
	}

	if svc.lastSave == nil {
		t.Fatal("service never received the save request")
	}
	if svc.lastSave.ClientID != "session-1" {
		t.Errorf("client ID not threaded from header: %+v", svc.lastSave)
	}
	if svc.lastSave.UpdatedAt == nil {
		t.Error("base timestamp not decoded from request body")
	}
}

func TestSaveDocumentConflictBody(t *testing.T) {
	serverAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	svc := &fakeDocService{
		saveErr: &domain.ConflictError{
			Message:   "document was updated by another session",
			DocID:     "doc-1",
			Content:   "server version",
			UpdatedAt: serverAt,
		},
	}
	h := newTestHandler(svc)

	rec := saveRequest(t, h, "doc-1", "user-1", `{"content":"mine"}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Error     string    `json:"error"`
		Content   string    `json:"content"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal conflict body: %v", err)
	}
	if resp.Error == "" {
		t.Error("conflict body missing error message")
	}
	if resp.Content != "server version" {
		t.Errorf("conflict content = %q, want the server's current state", resp.Content)
	}
	if !resp.UpdatedAt.Equal(serverAt) {
		t.Errorf("conflict updatedAt = %v, want %v", resp.UpdatedAt, serverAt)
	}
}

func TestSaveDocumentErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		svcErr     error
		wantStatus int
	}{
		{"missing identity", "", nil, http.StatusUnauthorized},
		{"not found", "user-1", fmt.Errorf("document doc-1: %w", domain.ErrNotFound), http.StatusNotFound},
		{"forbidden", "user-1", fmt.Errorf("document doc-1: %w", domain.ErrForbidden), http.StatusForbidden},
		{"validation", "user-1", fmt.Errorf("%w: content too large", domain.ErrValidation), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeDocService{saveErr: tt.svcErr})
			rec := saveRequest(t, h, "doc-1", tt.userID, `{"content":"x"}`)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestSaveDocumentRejectsMalformedBody(t *testing.T) {
	h := newTestHandler(&fakeDocService{})
	rec := saveRequest(t, h, "doc-1", "user-1", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAgentEndpointsRequireToken(t *testing.T) {
	mux := http.NewServeMux()
	h := newTestHandler(&fakeDocService{})
	mux.HandleFunc("POST /api/docs/{id}/complete", h.CompleteDraft)
	mux.HandleFunc("POST /api/docs/{id}/fail", h.FailDraft)

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
	}{
		{"complete with valid token", "/api/docs/doc-1/complete", "agent-secret", http.StatusOK},
		{"complete with wrong token", "/api/docs/doc-1/complete", "nope", http.StatusUnauthorized},
		{"complete with no token", "/api/docs/doc-1/complete", "", http.StatusUnauthorized},
		{"fail with valid token", "/api/docs/doc-1/fail", "agent-secret", http.StatusNoContent},
		{"fail with wrong token", "/api/docs/doc-1/fail", "nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(`{"content":"draft"}`))
			req.Header.Set("Content-Type", "application/json")
			if tt.token != "" {
				req.Header.Set("X-Agent-Token", tt.token)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestAgentAuthDisabledWhenTokenUnset(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewDocumentHandler(&fakeDocService{}, "", logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/docs/{id}/complete", h.CompleteDraft)

	req := httptest.NewRequest(http.MethodPost, "/api/docs/doc-1/complete", strings.NewReader(`{"content":"x"}`))
	req.Header.Set("X-Agent-Token", "")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d with no configured token, want 401", rec.Code)
	}
}
