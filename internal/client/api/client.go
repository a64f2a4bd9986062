// Package api is the HTTP client for the draftsync server. It maps the
// server's structured error bodies back onto domain errors so callers can
// branch on them with errors.Is/As.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"draftsync/internal/domain"
	"draftsync/internal/domain/models"
)

// Client communicates with a draftsync server over HTTP.
type Client struct {
	baseURL    string
	userID     string
	clientID   string
	httpClient *http.Client
}

// New creates a Client for the given server base URL. userID is the opaque
// caller identity forwarded on every request; clientID identifies this
// editing session so the server's fan-out can skip echoing our own saves.
func New(baseURL, userID, clientID string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		userID:   userID,
		clientID: clientID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ClientID returns the session identity used for fan-out exclusion.
func (c *Client) ClientID() string {
	return c.clientID
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// saveRequest mirrors the PUT body
type saveRequest struct {
	Content   string     `json:"content"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// SaveResult is the authoritative state returned by a successful save.
type SaveResult struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// conflictBody mirrors the server's 409 response
type conflictBody struct {
	Error     string    `json:"error"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GetDocument fetches a document's current server state.
func (c *Client) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/docs/"+docID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching document: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, docID); err != nil {
		return nil, err
	}

	var doc models.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return &doc, nil
}

// ListDocuments fetches the caller's documents.
func (c *Client) ListDocuments(ctx context.Context) ([]models.Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/docs", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, ""); err != nil {
		return nil, err
	}

	var docs []models.Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decoding documents: %w", err)
	}
	return docs, nil
}

// CreateDraft creates a new document in drafting status.
func (c *Client) CreateDraft(ctx context.Context) (*models.Document, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/docs", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("creating draft: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, ""); err != nil {
		return nil, err
	}

	var doc models.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return &doc, nil
}

// SaveDocument sends content with an optional base timestamp. A stale base
// yields a *domain.ConflictError carrying the server's current state; other
// non-2xx statuses map to the matching domain sentinel.
func (c *Client) SaveDocument(ctx context.Context, docID, content string, base *time.Time) (*SaveResult, error) {
	body, err := json.Marshal(saveRequest{Content: content, UpdatedAt: base})
	if err != nil {
		return nil, fmt.Errorf("encoding save request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, "/api/docs/"+docID, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		var cb conflictBody
		if err := json.NewDecoder(resp.Body).Decode(&cb); err != nil {
			return nil, fmt.Errorf("decoding conflict response: %w", err)
		}
		return nil, &domain.ConflictError{
			Message:   cb.Error,
			DocID:     docID,
			Content:   cb.Content,
			UpdatedAt: cb.UpdatedAt,
		}
	}

	if err := c.checkStatus(resp, docID); err != nil {
		return nil, err
	}

	var result SaveResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding save response: %w", err)
	}
	return &result, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-User-ID", c.userID)
	req.Header.Set("X-Client-ID", c.clientID)
	return req, nil
}

// checkStatus maps non-2xx responses onto domain sentinels. Conflict is
// handled by the save path, which needs the body.
func (c *Client) checkStatus(resp *http.Response, docID string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Problem-detail bodies are informative but not load-bearing here.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("document %s: %w", docID, domain.ErrNotFound)
	case http.StatusForbidden:
		return fmt.Errorf("document %s: %w", docID, domain.ErrForbidden)
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusBadRequest:
		return domain.ErrValidation
	default:
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
}
