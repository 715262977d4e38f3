package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Plot is one rendered visualization description. The core treats the spec
// as opaque; rendering belongs to the external presentation layer.
type Plot struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Kind  string          `json:"kind"` // e.g. "histogram", "scatter", "heatmap"
	Spec  json.RawMessage `json:"spec,omitempty"`
}

// PlotSet is the result of one regeneration call.
type PlotSet struct {
	RequestID   string    `json:"requestId"`
	RunID       string    `json:"runId"`
	SessionID   string    `json:"sessionId"`
	Fingerprint string    `json:"fingerprint"` // filter state the plots were built from
	Plots       []Plot    `json:"plots"`
	Message     string    `json:"message,omitempty"` // e.g. "no transactions matched the filters"
	GeneratedAt time.Time `json:"generatedAt"`
}

// RegenerationRequest carries everything the external plot service needs.
// RequestID is a fresh UUID per call; stale completions are discarded by
// comparing it against the controller's latest issued ID.
type RegenerationRequest struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"sessionId"`
	RunID        string        `json:"runId"`
	Fingerprint  string        `json:"fingerprint"`
	Transactions []Transaction `json:"transactions"`
}

// Regenerator is the external asynchronous plot regeneration service. The
// core decides when to call it and with what data; it never renders.
type Regenerator interface {
	Regenerate(ctx context.Context, req *RegenerationRequest) (*PlotSet, error)
}
