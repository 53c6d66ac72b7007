package engine

import "errors"

var (
	// ErrStoreClosed is returned when operations are performed on a closed store
	ErrStoreClosed = errors.New("store is closed")
	// ErrKeyNotFound is returned when a key has no value or was deleted
	ErrKeyNotFound = errors.New("key not found")
	// ErrLocked is returned when another process holds the data directory
	ErrLocked = errors.New("data directory is locked by another store")
)
