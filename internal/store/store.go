// Package store provides the durable set-like abstraction over Redis
// that holds the pool's freelist (available items) and borrowed-set
// (items currently held, each bound to a borrow token).
//
// The Store is the only owner of FreeList/BorrowedSet membership (see
// SPEC_FULL.md §3 Ownership). Its operations are pushed to Redis
// server-side commands and Lua scripts so that the pop and the record
// of a borrow stay atomic without the Engine holding any lock of its
// own — see SPEC_FULL.md §4.1 Rationale for why the pop and the record
// are deliberately separate calls.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
)

// Errors returned by Store operations. Callers should use errors.Is.
var (
	// ErrEmpty is returned by FreelistPopOne when the freelist has no members.
	ErrEmpty = errors.New("store: freelist is empty")

	// ErrUnknownToken is returned by BorrowRemove when the supplied
	// token does not match the one on record for the item (including
	// the case where the item is not currently borrowed at all).
	ErrUnknownToken = errors.New("store: unknown or mismatched borrow token")

	// ErrAlreadyPresent is returned by BorrowRecord when the item is
	// already present in the freelist or the borrowed-set.
	ErrAlreadyPresent = errors.New("store: item already present")

	// ErrUnavailable wraps any transport-level failure talking to the
	// backing store (maps to StoreUnavailable / HTTP 503 at the edge).
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Item is an opaque JSON value. Two Items are the same pool member iff
// their canonical JSON encodings are byte-identical (spec §3).
type Item = json.RawMessage

// Store is the durable set abstraction the Pool Engine mediates
// between. Implementations must make FreelistPopOne, BorrowRecord and
// BorrowRemove atomic and non-blocking, per SPEC_FULL.md §4.1.
type Store interface {
	// FreelistAdd inserts item into the freelist. Adding an item
	// already present is a no-op (idempotent submit, spec P4).
	FreelistAdd(ctx context.Context, item Item) error

	// FreelistPopOne atomically removes and returns one arbitrary
	// item from the freelist. Returns ErrEmpty if none are available.
	// MUST NOT block.
	FreelistPopOne(ctx context.Context) (Item, error)

	// FreelistContains reports whether item is currently free.
	FreelistContains(ctx context.Context, item Item) (bool, error)

	// FreelistList returns every item currently in the freelist.
	FreelistList(ctx context.Context) ([]Item, error)

	// FreelistCount returns the freelist's cardinality.
	FreelistCount(ctx context.Context) (int64, error)

	// BorrowRecord atomically inserts (item, token) into the
	// borrowed-set. Returns ErrAlreadyPresent if item is already
	// present in either set.
	BorrowRecord(ctx context.Context, item Item, token string) error

	// BorrowRemove removes (item, token) from the borrowed-set iff
	// the stored token matches. Returns ErrUnknownToken otherwise,
	// without mutating state.
	BorrowRemove(ctx context.Context, item Item, token string) error

	// BorrowRemoveAny removes item from the borrowed-set regardless of
	// its token, for the relaxed return-compatibility mode described in
	// spec §9 (some source paths accept {item} without a token). Not
	// used on the canonical path. Returns ErrUnknownToken if item is
	// not currently borrowed.
	BorrowRemoveAny(ctx context.Context, item Item) error

	// BorrowCount returns the borrowed-set's cardinality.
	BorrowCount(ctx context.Context) (int64, error)

	// Ping verifies connectivity to the backing store, used by the
	// HTTP readiness probe.
	Ping(ctx context.Context) error
}

// Canonicalize renders item as canonical JSON: object keys sorted,
// no insignificant whitespace. Scalars are re-encoded by encoding/json:
// a string keeps its value though its escape sequences may change, and
// a number passes through float64, so 1.0 becomes 1 and integers
// beyond 2^53 are rounded. Canonical form is what the
// Store uses as the set/hash member key, giving JSON-canonical
// equality (spec §3) regardless of client key ordering.
func Canonicalize(item Item) (Item, error) {
	var v any
	if err := json.Unmarshal(item, &v); err != nil {
		return nil, err
	}
	canon, err := canonicalValue(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(canon), nil
}

func canonicalValue(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := canonicalValue(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := canonicalValue(e)
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(t)
	}
}
