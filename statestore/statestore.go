// Package statestore holds the page-level state used by cached bricks.
//
// Every entry is keyed by a state key and updated atomically, so callers can
// build compare-and-swap protocols (such as last-writer-wins on a request
// id) on top of Update.
package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/agentstation/brickflow"
)

// ErrConflict is returned when an update kept losing races with concurrent
// writers.
var ErrConflict = errors.New("statestore: too many concurrent updates")

// Entry is the state kept under a key.
type Entry struct {
	// Data is the last successful value.
	Data any `json:"data,omitempty"`

	// IsFetching is set while a request for the key is in flight.
	IsFetching bool `json:"isFetching"`

	// RequestID identifies the most recent request. Older requests finding
	// a different id have been superseded.
	RequestID string `json:"requestId,omitempty"`

	// Error is the memoized failure of the last request, if any.
	Error *brickflow.SerializedError `json:"error,omitempty"`

	// ExpiresAt is when the entry goes stale. Zero never expires.
	ExpiresAt time.Time `json:"expiresAt"`

	// UpdatedAt is the time of the last write.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired reports whether the entry is stale at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Clone returns a shallow copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// UpdateFunc computes the next entry from the current one, which is nil when
// the key is absent. Returning a nil entry leaves the store unchanged.
type UpdateFunc func(cur *Entry) (*Entry, error)

// Store persists entries.
type Store interface {
	// Get returns the entry under key, or nil when absent.
	Get(ctx context.Context, key string) (*Entry, error)

	// Update atomically replaces the entry under key with fn's result and
	// returns the entry now stored.
	Update(ctx context.Context, key string, fn UpdateFunc) (*Entry, error)

	// Delete removes the entry under key.
	Delete(ctx context.Context, key string) error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
)
