// Package registry implements the in-process Operation Registry: a
// keyed map from an opaque operation id to an operation record,
// serving async-status polling for the Pool Engine (SPEC_FULL.md §4.2).
//
// The registry is a single mutex-protected map, held only across O(1)
// mutations and never across I/O (spec §5) — the same discipline the
// teacher's modules/cache/memory.go applies to its in-memory cache
// engine, adapted here from a TTL cache to a terminal-state sweep.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r33drichards/ip-allocator-webserver/internal/event"
)

// State is an Operation's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// ErrNotFound is returned by Get when id is unknown or has been
// garbage collected (HTTP 404 UnknownOperation at the edge).
var ErrNotFound = errors.New("registry: operation not found")

// defaultGCInterval is the sweep period Start uses to drive RunGCLoop,
// matching the interval cmd/poold previously hardcoded at the call site.
const defaultGCInterval = time.Minute

// Operation is the record described in spec §3: created when an event
// triggers at least one async must-succeed subscriber, and mutated
// exactly once from Pending to a terminal state.
type Operation struct {
	ID        string
	Kind      event.Kind
	State     State
	Message   string
	Result    any
	CreatedAt time.Time
	endedAt   time.Time
}

// Registry owns Operation creation (shared with the Engine) and
// terminal-state transitions (owned by the Dispatcher caller), per
// spec §3 Ownership.
type Registry struct {
	mu        sync.Mutex
	ops       map[string]*Operation
	retention time.Duration
	gcCancel  context.CancelFunc
}

// New builds a Registry retaining terminal operations for retention
// (spec §4.2 default 1 hour) before they become GC-eligible.
func New(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Registry{
		ops:       make(map[string]*Operation),
		retention: retention,
	}
}

// Create allocates a fresh Operation in the Pending state and returns
// its id: a random 128-bit value rendered as a hyphenated hex string
// (spec §4.2), i.e. a UUIDv4.
func (r *Registry) Create(kind event.Kind) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.ops[id] = &Operation{
		ID:        id,
		Kind:      kind,
		State:     StatePending,
		CreatedAt: time.Now(),
	}
	r.mu.Unlock()
	return id
}

// MarkSucceeded transitions id to Succeeded, storing the final
// business payload (item, token, ...) for later retrieval. A second
// call after a terminal state is a no-op on state, per spec §4.2
// idempotence, though it may still refresh Result.
func (r *Registry) MarkSucceeded(id string, result any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return
	}
	if op.State == StatePending {
		op.State = StateSucceeded
		op.endedAt = time.Now()
	}
	op.Result = result
}

// MarkFailed transitions id to Failed with message. Sticky per spec
// §4.2: once terminal, only the message may be updated.
func (r *Registry) MarkFailed(id string, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return
	}
	if op.State == StatePending {
		op.State = StateFailed
		op.endedAt = time.Now()
	}
	op.Message = message
}

// Get returns a copy of the operation record for id, or ErrNotFound.
func (r *Registry) Get(id string) (Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return Operation{}, ErrNotFound
	}
	return *op, nil
}

// GC removes operations that reached a terminal state more than
// retention ago, relative to now. Supplementing spec §4.2, which
// specifies the retention policy but not a mechanism (SPEC_FULL.md).
func (r *Registry) GC(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, op := range r.ops {
		if op.State == StatePending {
			continue
		}
		if now.Sub(op.endedAt) >= r.retention {
			delete(r.ops, id)
			removed++
		}
	}
	return removed
}

// Len reports how many operations are currently tracked, for tests
// and metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// Name implements appcore.Component.
func (r *Registry) Name() string { return "registry.gc" }

// Start implements appcore.Component: it launches RunGCLoop as a
// background goroutine against an internally-owned context, since
// Component.Start must not block and the ctx passed in is typically
// scoped to process startup, not the component's whole lifetime.
// Stop cancels that internal context to halt the sweep.
func (r *Registry) Start(ctx context.Context) error {
	gcCtx, cancel := context.WithCancel(context.Background())
	r.gcCancel = cancel
	go r.RunGCLoop(gcCtx, defaultGCInterval)
	return nil
}

// Stop implements appcore.Component by halting the GC sweep loop.
func (r *Registry) Stop(ctx context.Context) error {
	if r.gcCancel != nil {
		r.gcCancel()
	}
	return nil
}

// RunGCLoop sweeps terminal operations every interval until ctx is
// cancelled. Intended to be launched as a goroutine from Start, the
// way the teacher's cache module schedules its cleanup pass off a
// ticker rather than a cron expression (SPEC_FULL.md Domain stack
// notes on why robfig/cron was not wired in here).
func (r *Registry) RunGCLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			r.GC(t)
		}
	}
}
