package service

import (
	"context"
	"fmt"
	"log/slog"

	"draftsync/internal/domain"
	"draftsync/internal/domain/models"
	"draftsync/internal/domain/repositories"
	"draftsync/internal/domain/services"
	"draftsync/internal/hub"

	"github.com/google/uuid"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Broadcaster is the slice of the connection hub the service needs.
// Fan-out is fire-and-forget: the save path never waits on delivery.
type Broadcaster interface {
	Broadcast(docID string, msg hub.Message, excludeClientID string)
}

// documentService implements the DocumentService interface
type documentService struct {
	docRepo         repositories.DocumentRepository
	broadcaster     Broadcaster
	maxContentBytes int
	logger          *slog.Logger
}

// NewDocumentService creates a new document service
func NewDocumentService(
	docRepo repositories.DocumentRepository,
	broadcaster Broadcaster,
	maxContentBytes int,
	logger *slog.Logger,
) services.DocumentService {
	return &documentService{
		docRepo:         docRepo,
		broadcaster:     broadcaster,
		maxContentBytes: maxContentBytes,
		logger:          logger,
	}
}

// CreateDraft creates a new document in drafting status, owned by userID
func (s *documentService) CreateDraft(ctx context.Context, userID string) (*models.Document, error) {
	doc := &models.Document{
		ID:      uuid.NewString(),
		OwnerID: userID,
		Content: "",
		Status:  models.StatusDrafting,
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info("draft created", "doc_id", doc.ID, "owner_id", userID)
	return doc, nil
}

// GetDocument retrieves a document after checking ownership
func (s *documentService) GetDocument(ctx context.Context, userID, docID string) (*models.Document, error) {
	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != userID {
		return nil, fmt.Errorf("document %s: %w", docID, domain.ErrForbidden)
	}
	return doc, nil
}

// ListDocuments lists the caller's documents
func (s *documentService) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	return s.docRepo.ListByOwner(ctx, userID)
}

// SaveDocument persists new content under the optimistic-concurrency check
// and fans the change out to every other live connection for the document.
// The ownership check happens before the write; the timestamp comparison
// happens inside it, atomically, at the storage layer.
func (s *documentService) SaveDocument(ctx context.Context, userID, docID string, req *services.SaveDocumentRequest) (*models.Document, error) {
	if err := validation.Validate(req.Content, validation.Length(0, s.maxContentBytes)); err != nil {
		return nil, fmt.Errorf("%w: content: %v", domain.ErrValidation, err)
	}

	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != userID {
		return nil, fmt.Errorf("document %s: %w", docID, domain.ErrForbidden)
	}

	saved, err := s.docRepo.UpdateContent(ctx, docID, req.Content, req.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// Notify peers without blocking the response. Delivery is best-effort;
	// clients that miss it recover via fetch-on-load.
	go s.broadcaster.Broadcast(docID, hub.UserSave(saved.Content, saved.UpdatedAt), req.ClientID)

	return saved, nil
}

// CompleteDraft stores the agent-produced payload, marks the document
// completed, and pushes the first draft to every live connection.
func (s *documentService) CompleteDraft(ctx context.Context, docID, content string) (*models.Document, error) {
	if err := validation.Validate(content, validation.Length(0, s.maxContentBytes)); err != nil {
		return nil, fmt.Errorf("%w: content: %v", domain.ErrValidation, err)
	}

	doc, err := s.docRepo.SetStatus(ctx, docID, models.StatusCompleted, &content)
	if err != nil {
		return nil, err
	}

	s.logger.Info("draft completed", "doc_id", docID, "content_bytes", len(content))
	go s.broadcaster.Broadcast(docID, hub.Draft(doc.Content), "")

	return doc, nil
}

// FailDraft marks a generation job as failed
func (s *documentService) FailDraft(ctx context.Context, docID string) error {
	if _, err := s.docRepo.SetStatus(ctx, docID, models.StatusError, nil); err != nil {
		return err
	}
	s.logger.Warn("draft failed", "doc_id", docID)
	return nil
}
