package expiring

import (
	"fmt"
	"time"
)

// entry is one stored payload bound to its lifetime. It never touches the
// store's map: when its deadline passes it hands itself to evict, which is
// the store's removal path.
type entry[T any] struct {
	id        string
	payload   T
	expiresAt time.Time
	task      *Task

	// retriesLeft is only read and written under the owning store's mutex.
	retriesLeft int
}

// newEntry validates expiresAt against now and schedules the eviction.
// On error nothing has been scheduled.
func newEntry[T any](
	sched *Scheduler,
	now time.Time,
	id string,
	payload T,
	expiresAt time.Time,
	retries int,
	evict func(*entry[T]),
) (*entry[T], error) {
	if err := checkLive(id, expiresAt, now); err != nil {
		return nil, err
	}

	e := &entry[T]{
		id:          id,
		payload:     payload,
		expiresAt:   expiresAt,
		retriesLeft: retries,
	}
	task, err := sched.Schedule(expiresAt, func() { evict(e) })
	if err != nil {
		return nil, fmt.Errorf("schedule eviction of %q: %w", id, err)
	}
	e.task = task
	return e, nil
}

// checkLive rejects an expiration time that is not strictly after now.
func checkLive(id string, expiresAt, now time.Time) error {
	if !expiresAt.After(now) {
		return fmt.Errorf("not adding %q because it expired at %s: %w",
			id, expiresAt.UTC().Format(time.RFC3339Nano), ErrExpired)
	}
	return nil
}

// cancel withdraws the pending eviction. Safe to call repeatedly and from
// inside the eviction itself.
func (e *entry[T]) cancel() {
	e.task.Cancel()
}

// decrementAndGet lowers the retry budget by one and returns the value it
// had before the call.
func (e *entry[T]) decrementAndGet() int {
	n := e.retriesLeft
	e.retriesLeft--
	return n
}
