// Package pending provides correlation registries that let one goroutine wait for
// an answer that arrives on another (approval, sampling and elicitation requests).
package pending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrDuplicateID is returned by Create when the ID is already registered
	ErrDuplicateID = errors.New("pending request already exists")
	// ErrNotFound is returned by Await when the ID is not registered
	ErrNotFound = errors.New("pending request not found")
	// ErrTimeout is returned by Await when no outcome arrived in time
	ErrTimeout = errors.New("timed out waiting for pending request")
	// ErrEmptyID is returned by Create for an empty ID
	ErrEmptyID = errors.New("pending request ID cannot be empty")
)

// Request is a pending request with a single-assignment outcome slot.
// Exactly one Resolve assigns the outcome; later attempts are no-ops.
type Request[T any] struct {
	ID        string
	Metadata  map[string]string
	CreatedAt time.Time

	once    sync.Once
	done    chan struct{}
	outcome T
}

func newRequest[T any](id string, metadata map[string]string) *Request[T] {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Request[T]{
		ID:        id,
		Metadata:  md,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// resolve assigns the outcome and reports whether this call was the one that set it
func (r *Request[T]) resolve(outcome T) bool {
	set := false
	r.once.Do(func() {
		r.outcome = outcome
		set = true
		close(r.done)
	})
	return set
}

// Done is closed once the outcome is assigned
func (r *Request[T]) Done() <-chan struct{} {
	return r.done
}

// Outcome returns the outcome and whether it has been assigned
func (r *Request[T]) Outcome() (T, bool) {
	select {
	case <-r.done:
		return r.outcome, true
	default:
		var zero T
		return zero, false
	}
}

// Wait blocks until the outcome is assigned, timeout elapses, or ctx is done
func (r *Request[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return r.outcome, nil
	case <-timer.C:
		return zero, fmt.Errorf("%w: %s after %v", ErrTimeout, r.ID, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Registry indexes pending requests by ID. The map is only the index; each
// request's done channel is the synchronization mechanism.
type Registry[T any] struct {
	name      string
	cancelled func() T
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*Request[T]
}

// NewRegistry creates a registry. cancelled produces the outcome used by CancelAll.
func NewRegistry[T any](name string, cancelled func() T, logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[T]{
		name:      name,
		cancelled: cancelled,
		logger:    logger,
		entries:   make(map[string]*Request[T]),
	}
}

// Create registers a new pending request
func (r *Registry[T]) Create(id string, metadata map[string]string) (*Request[T], error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return nil, fmt.Errorf("%s: %w: %s", r.name, ErrDuplicateID, id)
	}

	req := newRequest[T](id, metadata)
	r.entries[id] = req

	r.logger.Debug("Pending request created",
		"registry", r.name,
		"request_id", id,
	)
	return req, nil
}

// Resolve assigns an outcome. It returns false when the ID is unknown; a
// duplicate resolution of a known ID is ignored and still returns true.
func (r *Registry[T]) Resolve(id string, outcome T) bool {
	r.mu.Lock()
	req, ok := r.entries[id]
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("Resolve for unknown pending request",
			"registry", r.name,
			"request_id", id,
		)
		return false
	}

	if !req.resolve(outcome) {
		r.logger.Debug("Duplicate resolution ignored",
			"registry", r.name,
			"request_id", id,
		)
	}
	return true
}

// Await waits for the outcome of id. Elapsing the timeout does not remove the entry;
// callers remove it themselves with a deferred Remove.
func (r *Registry[T]) Await(ctx context.Context, id string, timeout time.Duration) (T, error) {
	req, ok := r.Get(id)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: %w: %s", r.name, ErrNotFound, id)
	}
	return req.Wait(ctx, timeout)
}

// Get returns the pending request for id
func (r *Registry[T]) Get(id string) (*Request[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.entries[id]
	return req, ok
}

// Remove deletes id. Removing an unknown ID is a no-op.
func (r *Registry[T]) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of registered requests
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Range calls fn for a snapshot of the registered requests until fn returns false
func (r *Registry[T]) Range(fn func(req *Request[T]) bool) {
	r.mu.Lock()
	snapshot := make([]*Request[T], 0, len(r.entries))
	for _, req := range r.entries {
		snapshot = append(snapshot, req)
	}
	r.mu.Unlock()

	for _, req := range snapshot {
		if !fn(req) {
			return
		}
	}
}

// CancelAll resolves every pending request with the cancellation outcome and
// clears the registry. It returns the number of requests that were still waiting.
func (r *Registry[T]) CancelAll() int {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Request[T])
	r.mu.Unlock()

	return r.cancel(entries)
}

// CancelMatching cancels and removes the requests whose metadata[key] equals value
func (r *Registry[T]) CancelMatching(key, value string) int {
	r.mu.Lock()
	matched := make(map[string]*Request[T])
	for id, req := range r.entries {
		if req.Metadata[key] == value {
			matched[id] = req
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	return r.cancel(matched)
}

func (r *Registry[T]) cancel(entries map[string]*Request[T]) int {
	cancelled := 0
	for _, req := range entries {
		var outcome T
		if r.cancelled != nil {
			outcome = r.cancelled()
		}
		if req.resolve(outcome) {
			cancelled++
		}
	}

	if cancelled > 0 {
		r.logger.Info("Cancelled pending requests",
			"registry", r.name,
			"count", cancelled,
		)
	}
	return cancelled
}
