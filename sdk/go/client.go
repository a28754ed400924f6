package edigatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a minimal Edigate HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. "http://127.0.0.1:8080/v0".
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Run mirrors the API run record model.
type Run struct {
	RunID         string          `json:"run_id"`
	CreatedAt     string          `json:"created_at"`
	Partner       string          `json:"partner"`
	DocType       string          `json:"doc_type"`
	Status        string          `json:"status"`
	PONumber      *string         `json:"po_number,omitempty"`
	RawInput      string          `json:"raw_input"`
	Canonical     json.RawMessage `json:"canonical,omitempty"`
	TargetPayload json.RawMessage `json:"target_payload,omitempty"`
	Error         *string         `json:"error,omitempty"`
}

// IngestResult is the success envelope of an ingestion.
type IngestResult struct {
	RunID         string          `json:"run_id"`
	Message       string          `json:"message"`
	Partner       string          `json:"partner"`
	DocType       string          `json:"doc_type"`
	Canonical     json.RawMessage `json:"canonical"`
	TargetPayload json.RawMessage `json:"target_payload"`
}

// ReplayResult carries both the stored and recomputed halves of a run.
type ReplayResult struct {
	RunID   string `json:"run_id"`
	Partner string `json:"partner"`
	DocType string `json:"doc_type"`
	Stored  struct {
		CreatedAt     string          `json:"created_at"`
		Status        string          `json:"status"`
		PONumber      *string         `json:"po_number,omitempty"`
		Canonical     json.RawMessage `json:"canonical,omitempty"`
		TargetPayload json.RawMessage `json:"target_payload,omitempty"`
		Error         *string         `json:"error,omitempty"`
	} `json:"stored"`
	Replayed struct {
		Canonical     json.RawMessage `json:"canonical,omitempty"`
		TargetPayload json.RawMessage `json:"target_payload,omitempty"`
		Error         *string         `json:"error,omitempty"`
	} `json:"replayed"`
}

// PaginatedRuns wraps list responses with cursors.
type PaginatedRuns struct {
	Items      []Run  `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Ingest submits a raw document for transformation and recording.
// partner may be empty to use the server's configured default.
func (c *Client) Ingest(ctx context.Context, docType, rawInput, partner string) (IngestResult, error) {
	var out IngestResult
	body := map[string]any{"raw_input": rawInput}
	if partner != "" {
		body["partner"] = partner
	}
	err := c.do(ctx, http.MethodPost, "/ingest/"+url.PathEscape(docType), body, &out)
	return out, err
}

// Replay re-executes a recorded run and returns both halves.
func (c *Client) Replay(ctx context.Context, runID string) (ReplayResult, error) {
	var out ReplayResult
	err := c.do(ctx, http.MethodGet, "/replay/"+url.PathEscape(runID), nil, &out)
	return out, err
}

// GetRun fetches one run record.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var out Run
	err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, &out)
	return out, err
}

// ListRuns pages through runs newest first.
func (c *Client) ListRuns(ctx context.Context, limit int, cursor string) (PaginatedRuns, error) {
	var out PaginatedRuns
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	} else if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{StatusCode: res.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
