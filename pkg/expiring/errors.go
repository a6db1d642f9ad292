package expiring

import "errors"

var (
	// ErrExpired is returned by Add and Put when the expiration time is not
	// strictly in the future. The store is left unchanged.
	ErrExpired = errors.New("entry already expired")

	// ErrAlreadyExists is returned by Add when the id is already stored.
	// The existing entry is left untouched.
	ErrAlreadyExists = errors.New("entry already exists")

	// ErrClosed is returned by mutations on a closed store and by Schedule
	// on a stopped Scheduler.
	ErrClosed = errors.New("store is closed")
)
