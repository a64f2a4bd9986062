// Package autosave owns the client's save policy: when in-progress edits
// are persisted and where (network vs local buffer), without ever blocking
// the editing surface.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"draftsync/internal/client/api"
	"draftsync/internal/client/cache"
	"draftsync/internal/domain"

	"golang.org/x/sync/errgroup"
)

// State is the controller's externally visible save status, for a UI
// indicator. Transitions: idle → saving → {saved → idle, error, offline}.
type State string

const (
	StateIdle    State = "idle"
	StateSaving  State = "saving"
	StateSaved   State = "saved"
	StateError   State = "error"
	StateOffline State = "offline"
)

// Saver is the network save path. *api.Client satisfies it.
type Saver interface {
	SaveDocument(ctx context.Context, docID, content string, base *time.Time) (*api.SaveResult, error)
}

// Cache is the local durable buffer. *cache.Store satisfies it.
type Cache interface {
	Save(docID, content string, baseUpdatedAt time.Time) error
	GetAll() ([]cache.PendingSave, error)
	Remove(docID string) error
	IncrementAttempts(docID string) (dropped bool, err error)
}

// Config tunes the flush policy. Tests compress the durations.
type Config struct {
	// Debounce is the idle window after the last edit before a flush fires.
	Debounce time.Duration
	// MaxDelta is the cumulative character-delta threshold that forces an
	// immediate flush, bounding worst-case loss on crash.
	MaxDelta int
	// SavedDisplay is how long the saved state shows before reverting to
	// idle.
	SavedDisplay time.Duration
	// SweepConcurrency bounds parallel replays on the reconnect sweep.
	SweepConcurrency int
}

// DefaultConfig mirrors the tuning the web editor shipped with.
func DefaultConfig() Config {
	return Config{
		Debounce:         5 * time.Second,
		MaxDelta:         500,
		SavedDisplay:     2 * time.Second,
		SweepConcurrency: 4,
	}
}

// Controller drives autosave for one open document. All methods are safe
// for concurrent use. Failures never propagate to the caller of
// TriggerSave; they resolve to one of the State values instead.
type Controller struct {
	docID  string
	saver  Saver
	cache  Cache
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	message    string // human-readable detail for error/offline states
	onState    func(State, string)
	timer      *time.Timer // pending debounced flush; at most one
	savedTimer *time.Timer // pending saved→idle revert
	pending    string      // latest content handed to TriggerSave
	dirty      bool        // pending holds an unflushed edit
	lastSaved  string      // last successfully saved content
	// lastSavedAt is the base timestamp: the last server-confirmed
	// modification time. Zero means the document has never round-tripped.
	lastSavedAt time.Time
	deltaChars  int
	online      bool
	closed      bool
}

// New creates a controller for docID. baseline and baselineAt seed the
// last-saved snapshot, normally from the reconciler's load result.
func New(docID string, saver Saver, store Cache, cfg Config, logger *slog.Logger) *Controller {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = DefaultConfig().MaxDelta
	}
	if cfg.SavedDisplay <= 0 {
		cfg.SavedDisplay = DefaultConfig().SavedDisplay
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = DefaultConfig().SweepConcurrency
	}

	return &Controller{
		docID:  docID,
		saver:  saver,
		cache:  store,
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
		online: true,
	}
}

// SetBaseline seeds the last-saved snapshot and base timestamp, typically
// with the reconciler's load result.
func (c *Controller) SetBaseline(content string, updatedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSaved = content
	c.lastSavedAt = updatedAt
}

// OnState registers a state-change callback for UI display. The callback
// runs with the controller's lock held and must not call back in.
func (c *Controller) OnState(fn func(state State, message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// State returns the current save status and its optional message.
func (c *Controller) State() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.message
}

// TriggerSave records the latest content and schedules a flush. The flush
// is immediate when the caller asks for it or when the cumulative character
// delta since the last successful save crosses the configured threshold;
// otherwise it fires after the debounce window of inactivity. Any pending
// timer is always cancelled before rescheduling, so one controller never
// has two in-flight timers.
func (c *Controller) TriggerSave(content string, immediate bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.pending = content
	c.dirty = true
	c.stopTimerLocked()

	delta := len(content) - len(c.lastSaved)
	if delta < 0 {
		delta = -delta
	}
	c.deltaChars += delta

	if immediate || c.deltaChars >= c.cfg.MaxDelta {
		c.deltaChars = 0
		c.mu.Unlock()
		go c.flush(content)
		return
	}

	c.timer = time.AfterFunc(c.cfg.Debounce, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.deltaChars = 0
		latest := c.pending
		c.mu.Unlock()
		c.flush(latest)
	})
	c.mu.Unlock()
}

// ForceSave cancels any pending timer and flushes immediately. It blocks
// until the flush resolves, so it can run ahead of teardown (save shortcut,
// before-unload).
func (c *Controller) ForceSave(ctx context.Context) {
	c.mu.Lock()
	if c.closed || !c.dirty {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.deltaChars = 0
	latest := c.pending
	c.mu.Unlock()
	c.flushCtx(ctx, latest)
}

// SetOnline feeds platform connectivity transitions into the controller.
// Coming back online kicks off a sweep that replays every buffered record
// across all documents, not just this one.
func (c *Controller) SetOnline(online bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	was := c.online
	c.online = online

	if !online {
		c.setStateLocked(StateOffline, "")
		c.mu.Unlock()
		return
	}

	if c.state == StateOffline {
		c.setStateLocked(StateIdle, "")
	}
	c.mu.Unlock()

	if !was {
		go c.Sweep(context.Background())
	}
}

// Close cancels all pending timers. No save fires after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimerLocked()
	if c.savedTimer != nil {
		c.savedTimer.Stop()
		c.savedTimer = nil
	}
}

func (c *Controller) flush(content string) {
	c.flushCtx(context.Background(), content)
}

// flushCtx attempts to persist content: to the server when online, to the
// durable cache otherwise. Repeated flushes of unchanged content are free.
func (c *Controller) flushCtx(ctx context.Context, content string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if content == c.lastSaved {
		if c.pending == content {
			c.dirty = false
		}
		c.mu.Unlock()
		return
	}

	base := c.lastSavedAt
	if !c.online {
		c.bufferLocked(content, base)
		c.mu.Unlock()
		return
	}

	c.setStateLocked(StateSaving, "")
	c.mu.Unlock()

	result, err := c.saver.SaveDocument(ctx, c.docID, content, basePtr(base))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if err == nil {
		c.lastSaved = content
		// The server's timestamp is authoritative; the local clock never
		// becomes the new base.
		c.lastSavedAt = result.UpdatedAt
		if c.pending == content {
			c.dirty = false
		}
		c.setStateLocked(StateSaved, "")
		c.scheduleSavedRevertLocked()
		return
	}

	var conflictErr *domain.ConflictError
	if errors.As(err, &conflictErr) {
		// Never overwrite local content automatically; surface the
		// conflict and let the user choose.
		c.setStateLocked(StateError, "document was updated elsewhere")
		return
	}

	// Any other failure while nominally online (connection dropped
	// mid-request, server unreachable) takes the offline path.
	c.logger.Warn("save failed, buffering locally", "doc_id", c.docID, "error", err)
	c.bufferLocked(content, base)
}

// bufferLocked writes content plus its base timestamp into the durable
// cache and marks the offline state. Callers hold c.mu.
func (c *Controller) bufferLocked(content string, base time.Time) {
	if err := c.cache.Save(c.docID, content, base); err != nil {
		c.logger.Error("failed to buffer save locally", "doc_id", c.docID, "error", err)
		c.setStateLocked(StateError, "failed to buffer save")
		return
	}
	c.setStateLocked(StateOffline, "will retry when back online")
}

// Sweep replays every buffered record, each with its own conflict and retry
// handling. Success consumes the record; a transient failure increments its
// attempt counter (the cache drops records that exhaust the bound); a
// conflict leaves the record for the reconciler to adjudicate at next open,
// since retrying cannot resolve it.
func (c *Controller) Sweep(ctx context.Context) {
	saves, err := c.cache.GetAll()
	if err != nil {
		c.logger.Error("failed to read offline buffer", "error", err)
		return
	}
	if len(saves) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.SweepConcurrency)

	for _, save := range saves {
		g.Go(func() error {
			c.replay(ctx, save)
			return nil
		})
	}
	g.Wait()
}

func (c *Controller) replay(ctx context.Context, save cache.PendingSave) {
	result, err := c.saver.SaveDocument(ctx, save.DocID, save.Content, basePtr(save.BaseUpdatedAt))
	if err == nil {
		if err := c.cache.Remove(save.DocID); err != nil {
			c.logger.Error("failed to remove flushed record", "doc_id", save.DocID, "error", err)
		}

		c.mu.Lock()
		if save.DocID == c.docID && !c.closed {
			c.lastSaved = save.Content
			c.lastSavedAt = result.UpdatedAt
			c.setStateLocked(StateSaved, "")
			c.scheduleSavedRevertLocked()
		}
		c.mu.Unlock()
		return
	}

	var conflictErr *domain.ConflictError
	if errors.As(err, &conflictErr) {
		c.logger.Info("buffered edit conflicts with server state, leaving for reconciliation",
			"doc_id", save.DocID,
		)
		c.mu.Lock()
		if save.DocID == c.docID && !c.closed {
			c.setStateLocked(StateError, "document was updated elsewhere")
		}
		c.mu.Unlock()
		return
	}

	dropped, incErr := c.cache.IncrementAttempts(save.DocID)
	if incErr != nil {
		c.logger.Error("failed to record flush attempt", "doc_id", save.DocID, "error", incErr)
		return
	}
	if dropped {
		// Bounded retry: this is the designed data-loss boundary.
		c.logger.Warn("buffered edit dropped after exhausting retries",
			"doc_id", save.DocID,
			"attempts", save.Attempts+1,
		)
	}
}

// stopTimerLocked cancels the pending debounce timer, if any. Callers hold c.mu.
func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// scheduleSavedRevertLocked arms the saved→idle revert, replacing any prior
// one. The revert only applies if saved is still the current state when the
// timer fires. Callers hold c.mu.
func (c *Controller) scheduleSavedRevertLocked() {
	if c.savedTimer != nil {
		c.savedTimer.Stop()
	}
	c.savedTimer = time.AfterFunc(c.cfg.SavedDisplay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.closed && c.state == StateSaved {
			c.setStateLocked(StateIdle, "")
		}
	})
}

func (c *Controller) setStateLocked(state State, message string) {
	c.state = state
	c.message = message
	if c.onState != nil {
		c.onState(state, message)
	}
}

func basePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
