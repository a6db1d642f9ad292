package api

import "encoding/json"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status     string `json:"status"`
	StoreCount int    `json:"store_count"`
	EntryCount int    `json:"entry_count"`
}

// StoreResponse is one store in GET /api/v1/stores or GET /api/v1/stores/{name}.
type StoreResponse struct {
	Name             string `json:"name"`
	Kind             string `json:"kind"`
	DefaultTTL       string `json:"default_ttl"`
	DefaultRetries   int    `json:"default_retries,omitempty"`
	Entries          int    `json:"entries"`
	PendingEvictions int    `json:"pending_evictions"`
	Added            uint64 `json:"added"`
	Replaced         uint64 `json:"replaced"`
	Removed          uint64 `json:"removed"`
	Expired          uint64 `json:"expired"`
	Exhausted        uint64 `json:"exhausted"`
}

// EntryRequest is the body of POST /api/v1/stores/{name}/entries and
// PUT /api/v1/stores/{name}/entries/{id}.
//
// Lifetime: ExpiresAt wins over TTL; with neither, the store's default_ttl
// applies. Retries is only accepted by retry stores.
type EntryRequest struct {
	ID        string          `json:"id,omitempty"` // POST only; generated when empty
	Payload   json.RawMessage `json:"payload"`
	TTL       string          `json:"ttl,omitempty"`        // Go duration, e.g. "30s"
	ExpiresAt string          `json:"expires_at,omitempty"` // RFC3339
	Retries   *int            `json:"retries,omitempty"`
}

// EntryResponse describes one stored entry.
type EntryResponse struct {
	Store       string          `json:"store"`
	ID          string          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	ExpiresAt   string          `json:"expires_at"` // RFC3339Nano
	RetriesLeft *int            `json:"retries_left,omitempty"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every "stats" WebSocket message.
type SnapshotResponse struct {
	Stores      []StoreResponse `json:"stores"`
	GeneratedAt string          `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
