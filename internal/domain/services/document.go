package services

import (
	"context"
	"time"

	"draftsync/internal/domain/models"
)

// DocumentService handles document business logic
type DocumentService interface {
	// CreateDraft creates a new document in drafting status, owned by userID
	CreateDraft(ctx context.Context, userID string) (*models.Document, error)

	// GetDocument retrieves a document
	// userID is used for authorization check
	GetDocument(ctx context.Context, userID, docID string) (*models.Document, error)

	// ListDocuments lists the caller's documents
	ListDocuments(ctx context.Context, userID string) ([]models.Document, error)

	// SaveDocument persists new content under the optimistic-concurrency
	// check and notifies other live connections for the document.
	// clientID identifies the originating connection so the fan-out can
	// skip echoing the update back to its author.
	SaveDocument(ctx context.Context, userID, docID string, req *SaveDocumentRequest) (*models.Document, error)

	// CompleteDraft stores the agent-produced payload, marks the document
	// completed, and pushes the first draft to live connections.
	CompleteDraft(ctx context.Context, docID, content string) (*models.Document, error)

	// FailDraft marks a generation job as failed
	FailDraft(ctx context.Context, docID string) error
}

// SaveDocumentRequest represents a user save
type SaveDocumentRequest struct {
	Content string `json:"content"`
	// UpdatedAt is the client's base timestamp: the last server-confirmed
	// modification time it knows about. Nil skips the concurrency check.
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	ClientID  string     `json:"-"` // Set by handler from the X-Client-ID header
}
