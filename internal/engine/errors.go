package engine

import "errors"

// Error kinds from spec §7, returned to the HTTP layer for status-code
// mapping. Wrapped errors carry the Dispatcher's aggregated message
// where relevant.
var (
	// ErrPoolExhausted: freelist empty at borrow (404).
	ErrPoolExhausted = errors.New("engine: pool exhausted")

	// ErrInvalidToken: token mismatch at return (409).
	ErrInvalidToken = errors.New("engine: invalid borrow token")

	// ErrInvalidItem: submit payload malformed (400).
	ErrInvalidItem = errors.New("engine: invalid item")

	// ErrSubscriberFailed: a must-succeed subscriber aborted the
	// fan-out (502). The message is appended via %w-wrapped fmt.Errorf
	// at the call site.
	ErrSubscriberFailed = errors.New("engine: subscriber failed")

	// ErrStoreUnavailable: the Store could not be reached (503).
	ErrStoreUnavailable = errors.New("engine: store unavailable")
)
