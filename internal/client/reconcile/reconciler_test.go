package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"draftsync/internal/client/cache"
	"draftsync/internal/domain/models"
)

type fakeFetcher struct {
	doc *models.Document
	err error
}

func (f *fakeFetcher) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	return f.doc, f.err
}

type fakeCache struct {
	pending *cache.PendingSave
	getErr  error
	removed []string
}

func (f *fakeCache) Get(docID string) (*cache.PendingSave, error) {
	return f.pending, f.getErr
}

func (f *fakeCache) Remove(docID string) error {
	f.removed = append(f.removed, docID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	serverAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	olderAt  = serverAt.Add(-time.Hour)
)

func serverDoc() *models.Document {
	return &models.Document{
		ID:        "doc-1",
		Content:   "server content",
		Status:    models.StatusCompleted,
		UpdatedAt: serverAt,
	}
}

func TestLoadNoLocalRecordUsesServer(t *testing.T) {
	r := New(&fakeFetcher{doc: serverDoc()}, &fakeCache{}, PreferLocal, testLogger())

	res, err := r.Load(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Conflict {
		t.Error("conflict flagged with no local record")
	}
	if res.Content != "server content" {
		t.Errorf("content = %q, want server content", res.Content)
	}
	if !res.BaseUpdatedAt.Equal(serverAt) {
		t.Errorf("base = %v, want %v", res.BaseUpdatedAt, serverAt)
	}
}

func TestLoadLocalRecordStillCurrent(t *testing.T) {
	store := &fakeCache{pending: &cache.PendingSave{
		DocID:         "doc-1",
		Content:       "buffered edit",
		BaseUpdatedAt: serverAt, // same timestamp: nothing newer landed
	}}
	r := New(&fakeFetcher{doc: serverDoc()}, store, PreferLocal, testLogger())

	res, err := r.Load(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Conflict {
		t.Error("conflict flagged when the buffered edit is based on the current server state")
	}
	if res.Content != "buffered edit" {
		t.Errorf("content = %q, want the buffered edit", res.Content)
	}
	if len(store.removed) != 0 {
		t.Error("load removed the cache record; only a flush or discard may")
	}
}

func TestLoadConflictPreferLocal(t *testing.T) {
	store := &fakeCache{pending: &cache.PendingSave{
		DocID:         "doc-1",
		Content:       "buffered edit",
		BaseUpdatedAt: olderAt, // server moved past this
	}}
	r := New(&fakeFetcher{doc: serverDoc()}, store, PreferLocal, testLogger())

	res, err := r.Load(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !res.Conflict {
		t.Fatal("conflict not flagged for a diverged buffered edit")
	}
	if res.Content != "buffered edit" {
		t.Errorf("displayed content = %q, want the local edit under PreferLocal", res.Content)
	}
	if res.AltContent != "server content" {
		t.Errorf("alt content = %q, want the server version", res.AltContent)
	}
	if !res.AltUpdatedAt.Equal(serverAt) {
		t.Errorf("alt timestamp = %v, want %v", res.AltUpdatedAt, serverAt)
	}
}

func TestLoadConflictPreferServer(t *testing.T) {
	store := &fakeCache{pending: &cache.PendingSave{
		DocID:         "doc-1",
		Content:       "buffered edit",
		BaseUpdatedAt: olderAt,
	}}
	r := New(&fakeFetcher{doc: serverDoc()}, store, PreferServer, testLogger())

	res, err := r.Load(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !res.Conflict {
		t.Fatal("conflict not flagged")
	}
	if res.Content != "server content" {
		t.Errorf("displayed content = %q, want the server version under PreferServer", res.Content)
	}
	if res.AltContent != "buffered edit" {
		t.Errorf("alt content = %q, want the local edit", res.AltContent)
	}
	if len(store.removed) != 0 {
		t.Error("PreferServer removed the cache record; the edit stays until discarded or flushed")
	}
}

func TestLoadPropagatesFetchError(t *testing.T) {
	fetchErr := errors.New("server unreachable")
	r := New(&fakeFetcher{err: fetchErr}, &fakeCache{}, PreferLocal, testLogger())

	_, err := r.Load(context.Background(), "doc-1")
	if !errors.Is(err, fetchErr) {
		t.Errorf("error = %v, want %v", err, fetchErr)
	}
}

func TestDiscardLocalRemovesRecordAndAdoptsServer(t *testing.T) {
	store := &fakeCache{pending: &cache.PendingSave{
		DocID:         "doc-1",
		Content:       "buffered edit",
		BaseUpdatedAt: olderAt,
	}}
	r := New(&fakeFetcher{doc: serverDoc()}, store, PreferLocal, testLogger())

	res, err := r.DiscardLocal(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("DiscardLocal: %v", err)
	}
	if res.Content != "server content" {
		t.Errorf("content = %q, want the server version", res.Content)
	}
	if !res.BaseUpdatedAt.Equal(serverAt) {
		t.Errorf("base = %v, want %v", res.BaseUpdatedAt, serverAt)
	}
	if len(store.removed) != 1 || store.removed[0] != "doc-1" {
		t.Errorf("removed = %v, want the doc-1 record gone", store.removed)
	}
}

func TestEmptyPolicyDefaultsToLocal(t *testing.T) {
	store := &fakeCache{pending: &cache.PendingSave{
		DocID:         "doc-1",
		Content:       "buffered edit",
		BaseUpdatedAt: olderAt,
	}}
	r := New(&fakeFetcher{doc: serverDoc()}, store, "", testLogger())

	res, err := r.Load(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Content != "buffered edit" {
		t.Errorf("content = %q, want the local edit as the default policy", res.Content)
	}
}
