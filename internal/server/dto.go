package server

import (
	"encoding/json"

	"edigate/internal/domain"
	"edigate/internal/engine"
)

// Request payloads

type IngestRequest struct {
	RawInput string `json:"raw_input" doc:"Verbatim partner document XML"`
	Partner  string `json:"partner,omitempty" doc:"Overrides the configured default partner for attribution"`
}

type ChatMapRequest struct {
	Message string `json:"message"`
}

// Response payloads

type IngestResponse struct {
	RunID         string          `json:"run_id"`
	Message       string          `json:"message"`
	Partner       string          `json:"partner"`
	DocType       string          `json:"doc_type" enum:"850,856"`
	Canonical     json.RawMessage `json:"canonical"`
	TargetPayload json.RawMessage `json:"target_payload"`
}

type ReplayResponse struct {
	Message string `json:"message"`
	engine.ReplayResult
}

type RunListResponse struct {
	Items      []domain.RunRecord `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type ChatMapResponse struct {
	Reply string `json:"reply"`
}
