package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/expirystore/expirystore/pkg/expiring"
	"github.com/expirystore/expirystore/server/internal/config"
)

// eventBuffer is the depth of the eviction event channel. Events beyond it
// are dropped rather than stalling the stores' scheduler goroutines.
const eventBuffer = 1024

// Payload is the value type of every hosted store.
type Payload = json.RawMessage

// ErrNotRetry is returned by RetryGet on a plain store.
var ErrNotRetry = errors.New("store does not count retries")

// Backend is the operation set shared by plain and retry stores.
type Backend interface {
	Name() string
	Add(id string, payload Payload, expiresAt time.Time) error
	Put(id string, payload Payload, expiresAt time.Time) error
	Remove(id string)
	Get(id string) (Payload, bool)
	Peek(id string) (expiring.Item[Payload], bool)
	Len() int
	Stats() expiring.Stats
	Close() error
}

// Store is one hosted store together with the config it was built from.
type Store struct {
	Backend
	Config config.StoreConfig

	retry *expiring.RetryStore[Payload] // nil for plain stores
}

// IsRetry reports whether the store counts retries.
func (s *Store) IsRetry() bool { return s.retry != nil }

// AddWithRetries adds with an explicit budget; plain stores ignore it.
func (s *Store) AddWithRetries(id string, payload Payload, expiresAt time.Time, retries int) error {
	if s.retry == nil {
		return s.Add(id, payload, expiresAt)
	}
	return s.retry.AddWithRetries(id, payload, expiresAt, retries)
}

// PutWithRetries puts with an explicit budget; plain stores ignore it.
func (s *Store) PutWithRetries(id string, payload Payload, expiresAt time.Time, retries int) error {
	if s.retry == nil {
		return s.Put(id, payload, expiresAt)
	}
	return s.retry.PutWithRetries(id, payload, expiresAt, retries)
}

// RetryGet spends one retry. Plain stores return ErrNotRetry.
func (s *Store) RetryGet(id string) (Payload, bool, error) {
	if s.retry == nil {
		return nil, false, ErrNotRetry
	}
	p, ok := s.retry.RetryGet(id)
	return p, ok, nil
}

// ExpiresAt resolves an entry lifetime: an explicit deadline wins, then an
// explicit ttl, then the store's default ttl.
func (s *Store) ExpiresAt(now time.Time, ttl time.Duration, at time.Time) time.Time {
	switch {
	case !at.IsZero():
		return at
	case ttl != 0:
		return now.Add(ttl)
	default:
		return now.Add(s.Config.DefaultTTL)
	}
}

// Registry owns the set of named stores hosted by the server.
type Registry struct {
	logger *slog.Logger
	events chan expiring.Eviction

	mu     sync.RWMutex
	stores map[string]*Store
	closed bool
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		events: make(chan expiring.Eviction, eventBuffer),
		stores: make(map[string]*Store),
	}
}

// Events delivers every eviction from every hosted store. The channel is
// never closed.
func (r *Registry) Events() <-chan expiring.Eviction { return r.events }

// Apply reconciles the hosted stores with specs. New names are opened and
// names no longer listed are closed. A store whose kind or default_retries
// changed is reopened empty; any other change applies in place and keeps
// the store's entries.
func (r *Registry) Apply(specs []config.StoreConfig) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return expiring.ErrClosed
	}

	want := make(map[string]config.StoreConfig, len(specs))
	for _, sc := range specs {
		want[sc.Name] = sc
	}

	var stale []*Store
	for name, st := range r.stores {
		sc, ok := want[name]
		switch {
		case !ok:
			stale = append(stale, st)
			delete(r.stores, name)
		case sc.Kind != st.Config.Kind || sc.DefaultRetries != st.Config.DefaultRetries:
			stale = append(stale, st)
			r.stores[name] = r.open(sc)
			r.logger.Info("registry: store reopened", "store", name, "kind", sc.Kind)
		default:
			// Swap the wrapper rather than mutating it: handlers may hold st.
			r.stores[name] = &Store{Backend: st.Backend, Config: sc, retry: st.retry}
		}
	}
	for name, sc := range want {
		if _, ok := r.stores[name]; !ok {
			r.stores[name] = r.open(sc)
			r.logger.Info("registry: store opened", "store", name, "kind", sc.Kind,
				"default_ttl", sc.DefaultTTL, "default_retries", sc.DefaultRetries)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, st := range stale {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", st.Name(), err))
		}
		r.logger.Info("registry: store closed", "store", st.Name())
	}
	return errors.Join(errs...)
}

// Lookup returns the store registered under name.
func (r *Registry) Lookup(name string) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stores[name]
	return st, ok
}

// List returns all stores sorted by name.
func (r *Registry) List() []*Store {
	r.mu.RLock()
	out := make([]*Store, 0, len(r.stores))
	for _, st := range r.stores {
		out = append(out, st)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Close closes every store. Later Apply calls fail with expiring.ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stores := r.stores
	r.stores = make(map[string]*Store)
	r.mu.Unlock()

	var errs []error
	for _, st := range stores {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", st.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// open builds a store for sc. Callers hold r.mu.
func (r *Registry) open(sc config.StoreConfig) *Store {
	cfg := expiring.Config{
		Name:           sc.Name,
		DefaultRetries: sc.DefaultRetries,
		Logger:         r.logger,
		OnEvict:        r.publish,
	}
	if sc.Kind == config.KindRetry {
		rs := expiring.NewRetry[Payload](cfg)
		return &Store{Backend: rs, Config: sc, retry: rs}
	}
	return &Store{Backend: expiring.New[Payload](cfg), Config: sc}
}

func (r *Registry) publish(ev expiring.Eviction) {
	select {
	case r.events <- ev:
	default:
		r.logger.Debug("registry: event buffer full, dropping eviction",
			"store", ev.Store, "id", ev.ID, "reason", ev.Reason)
	}
}
