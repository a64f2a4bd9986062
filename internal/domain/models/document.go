package models

import (
	"time"
)

// DocumentStatus tracks where a document is in its generation lifecycle.
type DocumentStatus string

const (
	StatusDrafting  DocumentStatus = "drafting"  // generation job started, content pending
	StatusCompleted DocumentStatus = "completed" // agent delivered the final payload
	StatusError     DocumentStatus = "error"     // generation failed
)

type Document struct {
	ID        string         `json:"id" db:"id"`
	OwnerID   string         `json:"owner_id" db:"owner_id"`
	Content   string         `json:"content" db:"content"`
	Status    DocumentStatus `json:"status" db:"status"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	// UpdatedAt is server-issued on every successful write and is the sole
	// authority for conflict detection. Clients never substitute their own
	// clock for it.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
