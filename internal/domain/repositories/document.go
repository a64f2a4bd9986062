package repositories

import (
	"context"
	"time"

	"draftsync/internal/domain/models"
)

// DocumentRepository defines data access operations for documents
type DocumentRepository interface {
	// Create creates a new document
	Create(ctx context.Context, doc *models.Document) error

	// GetByID retrieves a document by ID
	GetByID(ctx context.Context, id string) (*models.Document, error)

	// ListByOwner lists documents belonging to an owner, newest first
	ListByOwner(ctx context.Context, ownerID string) ([]models.Document, error)

	// UpdateContent persists new content with a fresh server-issued timestamp.
	// When base is non-nil the write applies only if the stored timestamp is
	// not newer than base; the comparison and the write are one atomic
	// statement, so two racing saves with the same base cannot both win.
	// A stale base yields a domain.ConflictError carrying current state.
	UpdateContent(ctx context.Context, id, content string, base *time.Time) (*models.Document, error)

	// SetStatus transitions the document's lifecycle status. When content is
	// non-nil it is written in the same statement (agent completion path).
	SetStatus(ctx context.Context, id string, status models.DocumentStatus, content *string) (*models.Document, error)
}
