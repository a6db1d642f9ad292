package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/expirystore/expirystore/pkg/expiring"
	"github.com/expirystore/expirystore/server/internal/registry"
)

// maxBodyBytes caps request bodies for entry writes.
const maxBodyBytes = 1 << 20

const storesPrefix = "/api/v1/stores/"

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads and mutates the registry's stores and returns JSON responses.
type Handler struct {
	reg *registry.Registry
	mux *http.ServeMux
	now func() time.Time
}

// New creates a Handler wired to the given registry and registers all routes.
func New(reg *registry.Registry) http.Handler {
	h := &Handler{reg: reg, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/stores", h.listStores)
	h.mux.HandleFunc(storesPrefix, h.storeTree) // subtree: {name}[/entries[/{id}[/retry]]]
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stores := h.reg.List()
	resp := HealthResponse{Status: "ok", StoreCount: len(stores)}
	for _, st := range stores {
		resp.EntryCount += st.Len()
	}
	jsonResp(w, http.StatusOK, resp)
}

// listStores returns GET /api/v1/stores.
func (h *Handler) listStores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, storeResponses(h.reg))
}

// snapshot returns GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.reg))
}

// storeTree dispatches everything under /api/v1/stores/.
func (h *Handler) storeTree(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, storesPrefix), "/")
	if rest == "" {
		// Bare /api/v1/stores/ behaves like the list handler.
		h.listStores(w, r)
		return
	}

	parts := strings.Split(rest, "/")
	st, ok := h.reg.Lookup(parts[0])
	if !ok {
		jsonErr(w, http.StatusNotFound, "store not found")
		return
	}

	switch {
	case len(parts) == 1:
		h.getStore(w, r, st)
	case len(parts) == 2 && parts[1] == "entries":
		h.addEntry(w, r, st)
	case len(parts) == 3 && parts[1] == "entries":
		h.entry(w, r, st, parts[2])
	case len(parts) == 4 && parts[1] == "entries" && parts[3] == "retry":
		h.retryEntry(w, r, st, parts[2])
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

// getStore returns GET /api/v1/stores/{name}.
func (h *Handler) getStore(w http.ResponseWriter, r *http.Request, st *registry.Store) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, toStoreResponse(st))
}

// addEntry handles POST /api/v1/stores/{name}/entries as a strict add.
func (h *Handler) addEntry(w http.ResponseWriter, r *http.Request, st *registry.Store) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req, expiresAt, ok := h.decodeEntry(w, r, st)
	if !ok {
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if strings.Contains(id, "/") {
		jsonErr(w, http.StatusBadRequest, `id must not contain "/"`)
		return
	}

	var err error
	if req.Retries != nil {
		err = st.AddWithRetries(id, req.Payload, expiresAt, *req.Retries)
	} else {
		err = st.Add(id, req.Payload, expiresAt)
	}
	if err != nil {
		storeErr(w, err)
		return
	}

	w.Header().Set("Location", storesPrefix+st.Name()+"/entries/"+id)
	h.writeEntry(w, http.StatusCreated, st, id)
}

// entry handles GET, PUT and DELETE on /api/v1/stores/{name}/entries/{id}.
func (h *Handler) entry(w http.ResponseWriter, r *http.Request, st *registry.Store, id string) {
	switch r.Method {
	case http.MethodGet:
		h.writeEntry(w, http.StatusOK, st, id)

	case http.MethodPut:
		req, expiresAt, ok := h.decodeEntry(w, r, st)
		if !ok {
			return
		}
		var err error
		if req.Retries != nil {
			err = st.PutWithRetries(id, req.Payload, expiresAt, *req.Retries)
		} else {
			err = st.Put(id, req.Payload, expiresAt)
		}
		if err != nil {
			storeErr(w, err)
			return
		}
		h.writeEntry(w, http.StatusOK, st, id)

	case http.MethodDelete:
		st.Remove(id)
		w.WriteHeader(http.StatusNoContent)

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// retryEntry handles POST /api/v1/stores/{name}/entries/{id}/retry.
func (h *Handler) retryEntry(w http.ResponseWriter, r *http.Request, st *registry.Store, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payload, ok, err := st.RetryGet(id)
	if err != nil {
		storeErr(w, err)
		return
	}
	if !ok {
		jsonErr(w, http.StatusNotFound, "entry not found or retries exhausted")
		return
	}

	resp := EntryResponse{Store: st.Name(), ID: id, Payload: payload}
	// Another request may touch the entry between the two calls; the
	// payload above is authoritative, the rest is informational.
	if item, ok := st.Peek(id); ok {
		resp.ExpiresAt = item.ExpiresAt.UTC().Format(time.RFC3339Nano)
		left := item.RetriesLeft
		resp.RetriesLeft = &left
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

// decodeEntry parses and validates an EntryRequest and resolves its
// expiration time. On failure it has already written the response.
func (h *Handler) decodeEntry(w http.ResponseWriter, r *http.Request, st *registry.Store) (EntryRequest, time.Time, bool) {
	var req EntryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return req, time.Time{}, false
	}
	if p := bytes.TrimSpace(req.Payload); len(p) == 0 || bytes.Equal(p, []byte("null")) {
		jsonErr(w, http.StatusBadRequest, "payload is required")
		return req, time.Time{}, false
	}
	if req.Retries != nil && !st.IsRetry() {
		jsonErr(w, http.StatusBadRequest, "retries given for a store that does not count retries")
		return req, time.Time{}, false
	}

	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("ttl: %v", err))
			return req, time.Time{}, false
		}
		ttl = d
	}
	var at time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("expires_at: %v", err))
			return req, time.Time{}, false
		}
		at = t
	}
	return req, st.ExpiresAt(h.now(), ttl, at), true
}

// writeEntry answers with the current state of id, or 404.
func (h *Handler) writeEntry(w http.ResponseWriter, code int, st *registry.Store, id string) {
	item, ok := st.Peek(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "entry not found")
		return
	}
	jsonResp(w, code, toEntryResponse(st, item))
}

// BuildSnapshot returns every store's counters. Shared with the WebSocket hub.
func BuildSnapshot(reg *registry.Registry) SnapshotResponse {
	return SnapshotResponse{
		Stores:      storeResponses(reg),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func storeResponses(reg *registry.Registry) []StoreResponse {
	stores := reg.List()
	out := make([]StoreResponse, 0, len(stores))
	for _, st := range stores {
		out = append(out, toStoreResponse(st))
	}
	return out
}

func toStoreResponse(st *registry.Store) StoreResponse {
	s := st.Stats()
	resp := StoreResponse{
		Name:             st.Name(),
		Kind:             st.Config.Kind,
		DefaultTTL:       st.Config.DefaultTTL.String(),
		Entries:          s.Live,
		PendingEvictions: s.Pending,
		Added:            s.Added,
		Replaced:         s.Replaced,
		Removed:          s.Removed,
		Expired:          s.Expired,
		Exhausted:        s.Exhausted,
	}
	if st.IsRetry() {
		resp.DefaultRetries = st.Config.DefaultRetries
	}
	return resp
}

func toEntryResponse(st *registry.Store, item expiring.Item[registry.Payload]) EntryResponse {
	resp := EntryResponse{
		Store:     st.Name(),
		ID:        item.ID,
		Payload:   item.Payload,
		ExpiresAt: item.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
	if st.IsRetry() {
		left := item.RetriesLeft
		resp.RetriesLeft = &left
	}
	return resp
}

// storeErr maps store errors onto HTTP status codes.
func storeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, expiring.ErrExpired):
		jsonErr(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, expiring.ErrAlreadyExists):
		jsonErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, expiring.ErrClosed):
		jsonErr(w, http.StatusGone, err.Error())
	case errors.Is(err, registry.ErrNotRetry):
		jsonErr(w, http.StatusBadRequest, err.Error())
	default:
		jsonErr(w, http.StatusInternalServerError, err.Error())
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
