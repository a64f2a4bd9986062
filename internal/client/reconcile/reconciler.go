// Package reconcile decides what the user sees at document-open time when
// a locally buffered edit and a divergent server state both exist.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"draftsync/internal/client/cache"
	"draftsync/internal/domain/models"

	"golang.org/x/sync/errgroup"
)

// Policy picks the display side for a genuine conflict. The source product
// flip-flopped on this default, so it is configuration, not behavior.
type Policy string

const (
	// PreferLocal shows the buffered local edit, never silently losing
	// unsaved work. The server version stays one explicit action away.
	PreferLocal Policy = "local"
	// PreferServer shows the server version; the buffered edit stays in
	// the cache until discarded or flushed.
	PreferServer Policy = "server"
)

// Fetcher is the server read path. *api.Client satisfies it.
type Fetcher interface {
	GetDocument(ctx context.Context, docID string) (*models.Document, error)
}

// Cache is the slice of the durable buffer the reconciler needs.
type Cache interface {
	Get(docID string) (*cache.PendingSave, error)
	Remove(docID string) error
}

// Resolution is the outcome of a load: the content to display, the base
// timestamp to edit against, and - when a genuine conflict exists - the
// other side's state so the UI can offer an explicit choice.
type Resolution struct {
	Content       string
	BaseUpdatedAt time.Time
	Status        models.DocumentStatus

	// Conflict is set when the server moved past the buffered edit's base
	// timestamp. AltContent/AltUpdatedAt carry the non-displayed side.
	Conflict     bool
	AltContent   string
	AltUpdatedAt time.Time
}

// Reconciler resolves divergence between a recovered cache record and the
// server's current state.
type Reconciler struct {
	fetcher Fetcher
	cache   Cache
	policy  Policy
	logger  *slog.Logger
}

// New creates a reconciler with the given display policy.
func New(fetcher Fetcher, store Cache, policy Policy, logger *slog.Logger) *Reconciler {
	if policy == "" {
		policy = PreferLocal
	}
	return &Reconciler{
		fetcher: fetcher,
		cache:   store,
		policy:  policy,
		logger:  logger,
	}
}

// Load fetches the server state and the local cache record concurrently and
// resolves what to display:
//
//  1. no local record: server content, trivially;
//  2. local record based on a timestamp not older than the server's: the
//     local edit is the last known-good state, display it;
//  3. server strictly newer: genuine conflict - the policy side is
//     displayed, the other side rides along for an explicit user choice.
func (r *Reconciler) Load(ctx context.Context, docID string) (*Resolution, error) {
	var doc *models.Document
	var pending *cache.PendingSave

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		doc, err = r.fetcher.GetDocument(ctx, docID)
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = r.cache.Get(docID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if pending == nil {
		return &Resolution{
			Content:       doc.Content,
			BaseUpdatedAt: doc.UpdatedAt,
			Status:        doc.Status,
		}, nil
	}

	if !pending.BaseUpdatedAt.Before(doc.UpdatedAt) {
		// Nothing newer landed server-side; the buffered edit is the last
		// known-good state and will flush cleanly.
		return &Resolution{
			Content:       pending.Content,
			BaseUpdatedAt: pending.BaseUpdatedAt,
			Status:        doc.Status,
		}, nil
	}

	r.logger.Info("buffered edit diverged from server state",
		"doc_id", docID,
		"base", pending.BaseUpdatedAt,
		"server", doc.UpdatedAt,
		"policy", r.policy,
	)

	if r.policy == PreferServer {
		return &Resolution{
			Content:       doc.Content,
			BaseUpdatedAt: doc.UpdatedAt,
			Status:        doc.Status,
			Conflict:      true,
			AltContent:    pending.Content,
			AltUpdatedAt:  pending.BaseUpdatedAt,
		}, nil
	}

	return &Resolution{
		Content:       pending.Content,
		BaseUpdatedAt: pending.BaseUpdatedAt,
		Status:        doc.Status,
		Conflict:      true,
		AltContent:    doc.Content,
		AltUpdatedAt:  doc.UpdatedAt,
	}, nil
}

// DiscardLocal drops the buffered edit and adopts the server's version:
// the cache record is removed and the server's current state returned as
// the new display content and base timestamp.
func (r *Reconciler) DiscardLocal(ctx context.Context, docID string) (*Resolution, error) {
	doc, err := r.fetcher.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Remove(docID); err != nil {
		return nil, err
	}

	r.logger.Info("local edit discarded in favor of server version", "doc_id", docID)
	return &Resolution{
		Content:       doc.Content,
		BaseUpdatedAt: doc.UpdatedAt,
		Status:        doc.Status,
	}, nil
}
