package expiring

import "time"

// RetryStore is a Store whose entries also carry a retry budget. Every
// RetryGet spends one retry; once the budget is gone the entry is discarded
// through the same path as Remove. Retry exhaustion and expiration race
// independently: whichever happens first removes the entry.
type RetryStore[T any] struct {
	*Store[T]
}

// NewRetry creates a RetryStore. cfg.DefaultRetries == 0 selects
// DefaultRetries.
func NewRetry[T any](cfg Config) *RetryStore[T] {
	if cfg.DefaultRetries == 0 {
		cfg.DefaultRetries = DefaultRetries
	}
	return &RetryStore[T]{Store: newStore[T](cfg, "RetryStore")}
}

// DefaultRetries returns the budget given to entries added without an
// explicit one.
func (r *RetryStore[T]) DefaultRetries() int { return r.defaultRetries }

// AddWithRetries is Add with an explicit retry budget for this entry.
func (r *RetryStore[T]) AddWithRetries(id string, payload T, expiresAt time.Time, retries int) error {
	return r.add(id, payload, expiresAt, retries)
}

// PutWithRetries is Put with an explicit retry budget. The replacement
// always starts from the given budget, whatever the old entry had left.
func (r *RetryStore[T]) PutWithRetries(id string, payload T, expiresAt time.Time, retries int) error {
	return r.put(id, payload, expiresAt, retries)
}

// RetryGet spends one retry of the entry under id and returns its payload.
// When the budget was already used up the entry is discarded and RetryGet
// reports a miss, exactly as for an absent id.
func (r *RetryStore[T]) RetryGet(id string) (T, bool) {
	var zero T

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return zero, false
	}

	if e.decrementAndGet() <= 0 {
		r.dropLocked(e)
		r.stats.Exhausted++
		r.mu.Unlock()
		r.evicted(e, ReasonExhausted)
		return zero, false
	}

	payload := e.payload
	r.mu.Unlock()
	return payload, true
}
