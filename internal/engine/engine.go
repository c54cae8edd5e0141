// Package engine implements the Pool Engine: the state machine
// mediating between the HTTP layer, the Store, the Subscriber
// Dispatcher, and the Operation Registry (spec §2, §4.4).
//
// Each of Borrow/Return/Submit is a multi-step protocol with
// compensation, and each picks between inline execution and the
// async-operation pattern depending on whether the event has at least
// one must-succeed async subscriber configured (spec §4.4
// Operation-mode selection). This is the ~35% of the implementation
// budget spec.md allocates to the Engine (§2).
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/r33drichards/ip-allocator-webserver/internal/appcore"
	"github.com/r33drichards/ip-allocator-webserver/internal/dispatcher"
	"github.com/r33drichards/ip-allocator-webserver/internal/event"
	"github.com/r33drichards/ip-allocator-webserver/internal/registry"
	"github.com/r33drichards/ip-allocator-webserver/internal/store"
)

// BorrowResult is the business payload returned by a successful
// borrow, synchronously or via a completed Operation.
type BorrowResult struct {
	Item        json.RawMessage `json:"item"`
	BorrowToken string          `json:"borrow_token"`
}

// ReturnResult is the business payload for a successful return.
type ReturnResult struct {
	Status string `json:"status"`
}

// SubmitResult is the business payload for a successful submit.
type SubmitResult struct {
	Status string `json:"status"`
}

// Config holds the Engine's runtime knobs that don't belong to the
// Store or Dispatcher: currently just the return-token compatibility
// switch flagged in spec §9.
type Config struct {
	// AllowTokenlessReturn enables the relaxed compatibility mode: a
	// /return request may omit borrow_token. Default false (the
	// canonical, token-required path).
	AllowTokenlessReturn bool
}

// Engine implements the three pool lifecycle protocols.
type Engine struct {
	store      store.Store
	dispatcher *dispatcher.Dispatcher
	registry   *registry.Registry
	logger     appcore.Logger
	metrics    *Metrics
	cfg        Config
}

// New builds an Engine from its three collaborators (spec §2
// Dataflow: HTTP -> Pool Engine -> (Store, Dispatcher, Registry)).
func New(st store.Store, disp *dispatcher.Dispatcher, reg *registry.Registry, logger appcore.Logger, cfg Config) *Engine {
	return &Engine{
		store:      st,
		dispatcher: disp,
		registry:   reg,
		logger:     logger,
		metrics:    &Metrics{},
		cfg:        cfg,
	}
}

// Metrics exposes the engine's leak counter for the admin/stats handler.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// detach strips ctx's cancellation while preserving its values, so
// that a client disconnecting mid-request does not abort an in-flight
// protocol (spec §5 Cancellation & timeouts: "Client HTTP cancellation
// ... does NOT cancel an in-flight Pool Engine operation").
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// ---- Borrow ----------------------------------------------------------

// Borrow runs the borrow protocol (spec §4.4 Borrow). If the event has
// no subscribers, or only sync ones, it executes inline and the
// result/err are meaningful and operationID is empty. If a
// must-succeed async subscriber is configured, it creates an
// Operation, starts the protocol in the background, and returns the
// operation id immediately with result == nil, err == nil.
func (e *Engine) Borrow(ctx context.Context, params json.RawMessage) (*BorrowResult, string, error) {
	ctx = detach(ctx)

	if e.dispatcher.HasMustSucceedAsync(event.KindBorrow) {
		opID := e.registry.Create(event.KindBorrow)
		go func() {
			result, err := e.doBorrow(context.Background(), params)
			if err != nil {
				e.registry.MarkFailed(opID, err.Error())
				return
			}
			e.registry.MarkSucceeded(opID, result)
		}()
		return nil, opID, nil
	}

	result, err := e.doBorrow(ctx, params)
	return result, "", err
}

func (e *Engine) doBorrow(ctx context.Context, params json.RawMessage) (*BorrowResult, error) {
	item, err := e.store.FreelistPopOne(ctx)
	if err != nil {
		if isEmpty(err) {
			return nil, ErrPoolExhausted
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	token := uuid.NewString()

	verdict, msg := e.dispatcher.Dispatch(ctx, event.KindBorrow, event.Payload{Item: item, Params: params})

	if verdict == dispatcher.Aborted {
		e.compensate(ctx, item, "borrow aborted by subscriber")
		return nil, fmt.Errorf("%w: %s", ErrSubscriberFailed, msg)
	}

	if err := e.store.BorrowRecord(ctx, item, token); err != nil {
		// The pop already happened; the borrow never committed, so
		// the item must go back to the freelist (spec §7
		// StoreUnavailable: "compensation is attempted and logged if
		// it too fails").
		e.compensate(ctx, item, "borrow_record failed after pop")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &BorrowResult{Item: item, BorrowToken: token}, nil
}

// compensate returns item to the freelist after an aborted or failed
// borrow. Compensation is never cancellable (spec §5) and is attempted
// unconditionally; if it itself fails, the item is leaked and logged
// CRITICAL (spec §4.4 Borrow step 5, §7 LeakedItem, §8 P5).
func (e *Engine) compensate(ctx context.Context, item store.Item, reason string) {
	if err := e.store.FreelistAdd(context.WithoutCancel(ctx), item); err != nil {
		e.metrics.incLeaked()
		e.logger.Error("CRITICAL: item leaked, compensation failed",
			"item", string(item), "reason", reason, "error", err)
	}
}

// ---- Return -----------------------------------------------------------

// ReturnRequest is the decoded /return body (spec §6).
type ReturnRequest struct {
	Item        json.RawMessage `json:"item"`
	BorrowToken string          `json:"borrow_token"`
	Params      json.RawMessage `json:"params,omitempty"`
}

// Return runs the return protocol (spec §4.4 Return). See Borrow for
// the inline/async mode selection rule.
func (e *Engine) Return(ctx context.Context, req ReturnRequest) (*ReturnResult, string, error) {
	ctx = detach(ctx)

	if len(req.Item) == 0 {
		return nil, "", ErrInvalidItem
	}
	if req.BorrowToken == "" && !e.cfg.AllowTokenlessReturn {
		return nil, "", fmt.Errorf("%w: borrow_token is required", ErrInvalidToken)
	}

	if e.dispatcher.HasMustSucceedAsync(event.KindReturn) {
		opID := e.registry.Create(event.KindReturn)
		go func() {
			result, err := e.doReturn(context.Background(), req)
			if err != nil {
				e.registry.MarkFailed(opID, err.Error())
				return
			}
			e.registry.MarkSucceeded(opID, result)
		}()
		return nil, opID, nil
	}

	result, err := e.doReturn(ctx, req)
	return result, "", err
}

func (e *Engine) doReturn(ctx context.Context, req ReturnRequest) (*ReturnResult, error) {
	// Return fires subscribers at intent, before the Store commits
	// (spec §4.4 Return step 2, §9: "intent-before-commit" is
	// deliberate).
	verdict, msg := e.dispatcher.Dispatch(ctx, event.KindReturn, event.Payload{Item: req.Item, Params: req.Params})
	if verdict == dispatcher.Aborted {
		return nil, fmt.Errorf("%w: %s", ErrSubscriberFailed, msg)
	}

	var removeErr error
	if req.BorrowToken != "" {
		removeErr = e.store.BorrowRemove(ctx, req.Item, req.BorrowToken)
	} else {
		removeErr = e.store.BorrowRemoveAny(ctx, req.Item)
	}
	if removeErr != nil {
		if isUnknownToken(removeErr) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, removeErr)
	}

	if err := e.store.FreelistAdd(ctx, req.Item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &ReturnResult{Status: "ok"}, nil
}

// ---- Submit -----------------------------------------------------------

// Submit runs the submit protocol (spec §4.4 Submit).
func (e *Engine) Submit(ctx context.Context, item json.RawMessage) (*SubmitResult, string, error) {
	ctx = detach(ctx)

	if !isValidItem(item) {
		return nil, "", ErrInvalidItem
	}

	if e.dispatcher.HasMustSucceedAsync(event.KindSubmit) {
		opID := e.registry.Create(event.KindSubmit)
		go func() {
			result, err := e.doSubmit(context.Background(), item)
			if err != nil {
				e.registry.MarkFailed(opID, err.Error())
				return
			}
			e.registry.MarkSucceeded(opID, result)
		}()
		return nil, opID, nil
	}

	result, err := e.doSubmit(ctx, item)
	return result, "", err
}

func (e *Engine) doSubmit(ctx context.Context, item json.RawMessage) (*SubmitResult, error) {
	verdict, msg := e.dispatcher.Dispatch(ctx, event.KindSubmit, event.Payload{Item: item})
	if verdict == dispatcher.Aborted {
		return nil, fmt.Errorf("%w: %s", ErrSubscriberFailed, msg)
	}

	present, err := e.store.FreelistContains(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if present {
		// Idempotent submit (spec P4): already free, no-op.
		return &SubmitResult{Status: "ok"}, nil
	}

	if err := e.store.FreelistAdd(ctx, item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &SubmitResult{Status: "ok"}, nil
}

// isValidItem rejects malformed or null JSON (spec §4.4 Submit step 1).
func isValidItem(item json.RawMessage) bool {
	if len(item) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(item, &v); err != nil {
		return false
	}
	return v != nil
}

func isEmpty(err error) bool {
	return errors.Is(err, store.ErrEmpty)
}

func isUnknownToken(err error) bool {
	return errors.Is(err, store.ErrUnknownToken)
}
