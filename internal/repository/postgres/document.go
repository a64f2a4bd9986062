package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"draftsync/internal/domain"
	"draftsync/internal/domain/models"
	"draftsync/internal/domain/repositories"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDocumentRepository implements the DocumentRepository interface
type PostgresDocumentRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(config *RepositoryConfig) repositories.DocumentRepository {
	return &PostgresDocumentRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const documentColumns = "id, owner_id, content, status, created_at, updated_at"

// Create creates a new document
func (r *PostgresDocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, content, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, r.tables.Documents)

	err := r.pool.QueryRow(ctx, query,
		doc.ID,
		doc.OwnerID,
		doc.Content,
		doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)

	if err != nil {
		if IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message: fmt.Sprintf("document %s already exists", doc.ID),
				DocID:   doc.ID,
			}
		}
		return fmt.Errorf("create document: %w", err)
	}

	return nil
}

// GetByID retrieves a document by ID
func (r *PostgresDocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE id = $1
	`, documentColumns, r.tables.Documents)

	var doc models.Document
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.Content,
		&doc.Status,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)

	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	return &doc, nil
}

// ListByOwner lists documents belonging to an owner, newest first
func (r *PostgresDocumentRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE owner_id = $1 ORDER BY updated_at DESC
	`, documentColumns, r.tables.Documents)

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(
			&doc.ID,
			&doc.OwnerID,
			&doc.Content,
			&doc.Status,
			&doc.CreatedAt,
			&doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// UpdateContent persists new content with a fresh server-issued timestamp.
// The optimistic check and the write are one UPDATE statement: the stored
// timestamp is compared inside the WHERE clause, so no read-modify-write
// window exists between comparison and persistence. Of two racing saves
// carrying the same base timestamp, the second matches zero rows.
func (r *PostgresDocumentRepository) UpdateContent(ctx context.Context, id, content string, base *time.Time) (*models.Document, error) {
	var query string
	var args []interface{}

	if base != nil {
		query = fmt.Sprintf(`
			UPDATE %s SET content = $2, updated_at = now()
			WHERE id = $1 AND updated_at <= $3
			RETURNING %s
		`, r.tables.Documents, documentColumns)
		args = []interface{}{id, content, *base}
	} else {
		query = fmt.Sprintf(`
			UPDATE %s SET content = $2, updated_at = now()
			WHERE id = $1
			RETURNING %s
		`, r.tables.Documents, documentColumns)
		args = []interface{}{id, content}
	}

	var doc models.Document
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.Content,
		&doc.Status,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)

	if err != nil {
		if IsPgNoRowsError(err) {
			// Either the id is unknown or the base timestamp is stale.
			// Re-fetch to tell the two apart and to hand the caller the
			// server's current state for reconciliation.
			current, getErr := r.GetByID(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return nil, &domain.ConflictError{
				Message:   "document was updated elsewhere",
				DocID:     id,
				Content:   current.Content,
				UpdatedAt: current.UpdatedAt,
			}
		}
		return nil, fmt.Errorf("update document: %w", err)
	}

	return &doc, nil
}

// SetStatus transitions the document's lifecycle status, optionally writing
// content in the same statement (agent completion path).
func (r *PostgresDocumentRepository) SetStatus(ctx context.Context, id string, status models.DocumentStatus, content *string) (*models.Document, error) {
	var query string
	var args []interface{}

	if content != nil {
		query = fmt.Sprintf(`
			UPDATE %s SET status = $2, content = $3, updated_at = now()
			WHERE id = $1
			RETURNING %s
		`, r.tables.Documents, documentColumns)
		args = []interface{}{id, status, *content}
	} else {
		query = fmt.Sprintf(`
			UPDATE %s SET status = $2, updated_at = now()
			WHERE id = $1
			RETURNING %s
		`, r.tables.Documents, documentColumns)
		args = []interface{}{id, status}
	}

	var doc models.Document
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.Content,
		&doc.Status,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)

	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("set document status: %w", err)
	}

	return &doc, nil
}
