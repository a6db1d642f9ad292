package expiring

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRetries is the retry budget of a RetryStore entry when neither the
// store nor the caller picks one.
const DefaultRetries = 4

// storeCounter numbers auto-named stores for the lifetime of the process.
var storeCounter atomic.Uint64

func autoName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, storeCounter.Add(1))
}

// Config controls store construction.
//
// Zero-value defaults:
//   - Name == "" generates "Store-<n>" (or "RetryStore-<n>")
//   - DefaultRetries == 0 means DefaultRetries; only RetryStore reads it
//   - Logger == nil uses slog.Default()
type Config struct {
	Name           string
	DefaultRetries int
	Logger         *slog.Logger

	// OnEvict, if set, is called once for every entry that leaves the store
	// other than through Close. It runs after the store lock is released,
	// on the scheduler goroutine for timer evictions. It must not call Close.
	OnEvict func(Eviction)
}

// Reason says why an entry left the store.
type Reason string

const (
	ReasonExpired   Reason = "expired"
	ReasonRemoved   Reason = "removed"
	ReasonReplaced  Reason = "replaced"
	ReasonExhausted Reason = "exhausted"
)

// Eviction describes one entry leaving the store.
type Eviction struct {
	Store     string
	ID        string
	Reason    Reason
	ExpiresAt time.Time
}

// Item is a read-only view of a stored entry.
type Item[T any] struct {
	ID          string
	Payload     T
	ExpiresAt   time.Time
	RetriesLeft int
}

// Stats are cumulative counters for one store.
type Stats struct {
	Name      string
	Live      int
	Pending   int // scheduled evictions not yet fired
	Added     uint64
	Replaced  uint64
	Removed   uint64
	Expired   uint64
	Exhausted uint64
}

// Store is a concurrency-safe keyed collection whose entries remove
// themselves when their expiration time passes.
//
// Every operation, including timer-fired evictions, runs under one mutex,
// so no two mutations interleave. Each store owns a Scheduler; Close stops
// it.
type Store[T any] struct {
	name           string
	logger         *slog.Logger
	onEvict        func(Eviction)
	defaultRetries int
	now            func() time.Time // injectable for deterministic tests

	mu      sync.Mutex
	entries map[string]*entry[T]
	sched   *Scheduler
	closed  bool
	stats   Stats
}

// New creates a Store and starts its scheduler.
func New[T any](cfg Config) *Store[T] {
	return newStore[T](cfg, "Store")
}

func newStore[T any](cfg Config, prefix string) *Store[T] {
	name := cfg.Name
	if name == "" {
		name = autoName(prefix)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[T]{
		name:           name,
		logger:         logger,
		onEvict:        cfg.OnEvict,
		defaultRetries: cfg.DefaultRetries,
		now:            time.Now,
		entries:        make(map[string]*entry[T]),
		sched:          NewScheduler("scheduler for "+name, logger),
	}
}

// Name returns the store's diagnostic label.
func (s *Store[T]) Name() string { return s.name }

// Add stores payload under id until expiresAt.
// It fails with ErrExpired if expiresAt is not in the future and with
// ErrAlreadyExists if id is present; either way the store is unchanged.
func (s *Store[T]) Add(id string, payload T, expiresAt time.Time) error {
	return s.add(id, payload, expiresAt, s.defaultRetries)
}

// Put stores payload under id until expiresAt, replacing any entry with the
// same id. The replaced entry's eviction is canceled before Put returns.
func (s *Store[T]) Put(id string, payload T, expiresAt time.Time) error {
	return s.put(id, payload, expiresAt, s.defaultRetries)
}

func (s *Store[T]) add(id string, payload T, expiresAt time.Time, retries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store %s: %w", s.name, ErrClosed)
	}
	now := s.now()
	if err := checkLive(id, expiresAt, now); err != nil {
		return fmt.Errorf("store %s: %w", s.name, err)
	}
	// Checked before scheduling so a rejected Add leaves no timer behind.
	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("store %s: not adding %q: %w", s.name, id, ErrAlreadyExists)
	}

	e, err := newEntry(s.sched, now, id, payload, expiresAt, retries, s.expire)
	if err != nil {
		return fmt.Errorf("store %s: %w", s.name, err)
	}
	s.entries[id] = e
	s.stats.Added++
	return nil
}

func (s *Store[T]) put(id string, payload T, expiresAt time.Time, retries int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("store %s: %w", s.name, ErrClosed)
	}

	e, err := newEntry(s.sched, s.now(), id, payload, expiresAt, retries, s.expire)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store %s: %w", s.name, err)
	}

	old := s.entries[id]
	s.entries[id] = e
	s.stats.Added++
	if old != nil {
		old.cancel()
		s.stats.Replaced++
	}
	s.mu.Unlock()

	if old != nil {
		s.evicted(old, ReasonReplaced)
	}
	return nil
}

// Remove deletes id and cancels its eviction. Absent ids are ignored.
func (s *Store[T]) Remove(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		s.dropLocked(e)
		s.stats.Removed++
	}
	s.mu.Unlock()

	if ok {
		s.evicted(e, ReasonRemoved)
	}
}

// Get returns the payload stored under id. It does not touch the entry's
// expiration or retry budget.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	return e.payload, true
}

// Peek returns a read-only view of the entry stored under id.
func (s *Store[T]) Peek(id string) (Item[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Item[T]{}, false
	}
	return Item[T]{
		ID:          e.id,
		Payload:     e.payload,
		ExpiresAt:   e.expiresAt,
		RetriesLeft: e.retriesLeft,
	}, true
}

// Len returns the number of stored entries.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns a copy of the store's counters.
func (s *Store[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Name = s.name
	st.Live = len(s.entries)
	st.Pending = s.sched.Pending()
	return st
}

// Close stops the scheduler, cancels every pending eviction and drops all
// entries. The store stays permanently empty afterwards: reads miss, Remove
// is a no-op and Add/Put return ErrClosed. Close is safe to call multiple
// times and concurrently with other operations.
func (s *Store[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.sched.Shutdown()
	dropped := len(s.entries)
	s.entries = make(map[string]*entry[T])
	s.mu.Unlock()

	// Wait outside the lock: an eviction already running may be blocked on it.
	s.sched.Wait()
	s.logger.Debug("expiring: store closed", "store", s.name, "dropped", dropped)
	return nil
}

// expire is the eviction action every entry schedules for itself.
func (s *Store[T]) expire(e *entry[T]) {
	s.mu.Lock()
	ok := s.dropLocked(e)
	if ok {
		s.stats.Expired++
	}
	s.mu.Unlock()

	if ok {
		s.evicted(e, ReasonExpired)
	}
}

// dropLocked deletes e only if it is still the entry mapped under its id.
// A timer that fires after its entry was replaced or removed finds a
// different entry (or none) and does nothing.
func (s *Store[T]) dropLocked(e *entry[T]) bool {
	cur, ok := s.entries[e.id]
	if !ok || cur != e {
		return false
	}
	delete(s.entries, e.id)
	e.cancel()
	return true
}

func (s *Store[T]) evicted(e *entry[T], reason Reason) {
	s.logger.Debug("expiring: discard",
		"store", s.name,
		"id", e.id,
		"reason", reason,
		"expires_at", e.expiresAt,
	)
	if s.onEvict != nil {
		s.onEvict(Eviction{
			Store:     s.name,
			ID:        e.id,
			Reason:    reason,
			ExpiresAt: e.expiresAt,
		})
	}
}
