// Package dispatcher implements the Subscriber Dispatcher: given a
// pool lifecycle event, it posts to every configured subscriber,
// enforces must-succeed/async semantics, and returns a single verdict
// for the fan-out (spec §4.3).
//
// The Engine has a one-way dependency on the Dispatcher: the Dispatcher
// knows nothing about FreeList/BorrowedSet and never calls back into the
// Engine (spec §9 Cyclic dependencies note). It is grounded on the
// teacher's modules/httpclient (the bounded-timeout *http.Client
// wrapper) and modules/eventbus's concurrent fan-out-to-many-
// subscribers shape, generalized here from pub/sub delivery to
// webhook POST-and-optionally-poll delivery.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/r33drichards/ip-allocator-webserver/internal/appcore"
	"github.com/r33drichards/ip-allocator-webserver/internal/event"
)

// Subscriber is the immutable config record for one webhook endpoint,
// keyed by (EventKind, Name) (spec §3).
type Subscriber struct {
	Name        string
	EventKind   event.Kind
	PostURL     string
	MustSucceed bool
	Async       bool
}

// Verdict is the Dispatcher's aggregated outcome for one fan-out
// (spec §4.3 step 4).
type Verdict int

const (
	// Committed means every must-succeed subscriber succeeded.
	Committed Verdict = iota
	// Aborted means at least one must-succeed subscriber failed.
	Aborted
)

// PollConfig tunes the async subscriber polling back-off schedule
// (spec §4.3 step 3).
type PollConfig struct {
	InitialInterval time.Duration
	Factor          float64
	MaxInterval     time.Duration
	Deadline        time.Duration
}

// DefaultPollConfig matches the spec's literal defaults.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialInterval: 500 * time.Millisecond,
		Factor:          1.5,
		MaxInterval:     5 * time.Second,
		Deadline:        60 * time.Second,
	}
}

// Dispatcher posts events to registered subscribers and polls async
// ones to completion.
type Dispatcher struct {
	client      *http.Client
	subscribers map[event.Kind][]Subscriber
	poll        PollConfig
	logger      appcore.Logger
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithTimeout sets the HTTP client's per-request timeout (spec §4.3
// step 1, default 30s, "must be configurable").
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.client.Timeout = d }
}

// WithPollConfig overrides the async polling back-off schedule.
func WithPollConfig(p PollConfig) Option {
	return func(disp *Dispatcher) { disp.poll = p }
}

// WithLogger attaches a logger for non-must-succeed failures, which
// are logged but never surfaced (spec §4.3 step 4, §7 SubscriberDegraded).
func WithLogger(l appcore.Logger) Option {
	return func(disp *Dispatcher) { disp.logger = l }
}

// New builds a Dispatcher for the given subscriber set.
func New(subscribers []Subscriber, opts ...Option) *Dispatcher {
	byKind := make(map[event.Kind][]Subscriber)
	for _, s := range subscribers {
		byKind[s.EventKind] = append(byKind[s.EventKind], s)
	}
	d := &Dispatcher{
		client:      &http.Client{Timeout: 30 * time.Second},
		subscribers: byKind,
		poll:        DefaultPollConfig(),
		logger:      appcore.NewLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HasMustSucceedAsync reports whether kind has at least one
// must-succeed async subscriber, which is exactly the Engine's
// trigger for creating an async Operation (spec §4.4 Operation-mode
// selection).
func (d *Dispatcher) HasMustSucceedAsync(kind event.Kind) bool {
	for _, s := range d.subscribers[kind] {
		if s.MustSucceed && s.Async {
			return true
		}
	}
	return false
}

// HasAny reports whether any subscriber at all is registered for kind.
func (d *Dispatcher) HasAny(kind event.Kind) bool {
	return len(d.subscribers[kind]) > 0
}

// Dispatch posts payload to every subscriber registered for kind and
// returns the fan-out verdict plus an aggregated message when Aborted.
//
// All subscribers fire concurrently with no ordering between them
// (spec §4.3 step 5). The call returns once every must-succeed
// subscriber has reached a verdict; non-must subscribers are allowed
// to outlive this call and are never cancelled, even on abort.
func (d *Dispatcher) Dispatch(ctx context.Context, kind event.Kind, payload event.Payload) (Verdict, string) {
	subs := d.subscribers[kind]
	if len(subs) == 0 {
		return Committed, ""
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Aborted, fmt.Sprintf("failed to encode event payload: %v", err)
	}

	var mu sync.Mutex
	var failures []string

	// Must-succeed subscribers fan out concurrently via errgroup; each
	// goroutine records its own failure rather than short-circuiting
	// the rest, since the verdict needs every must-succeed outcome,
	// not just the first error (spec §4.3 steps 4-5).
	var g errgroup.Group

	for _, s := range subs {
		s := s
		if !s.MustSucceed {
			// Fire-and-forget: detached from ctx so an abort never
			// cancels it (spec §4.3 step 5, §5 Cancellation).
			go func() {
				if err := d.callOne(context.Background(), s, body); err != nil {
					d.logger.Warn("non-must-succeed subscriber failed", "subscriber", s.Name, "event", kind, "error", err)
				}
			}()
			continue
		}

		g.Go(func() error {
			if err := d.callOne(ctx, s, body); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", s.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()

	if len(failures) > 0 {
		return Aborted, strings.Join(failures, "; ")
	}
	return Committed, ""
}

// callOne delivers payload to a single subscriber and resolves its
// verdict: synchronously for a sync subscriber, or by polling for an
// async one (spec §4.3 steps 2-3).
func (d *Dispatcher) callOne(ctx context.Context, s Subscriber, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.PostURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", s.PostURL, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}

	if !s.Async {
		return nil
	}

	var ack struct {
		OperationID string `json:"operation_id"`
	}
	if err := json.Unmarshal(respBody, &ack); err != nil || ack.OperationID == "" {
		return fmt.Errorf("async subscriber response missing operation_id")
	}

	return d.poll4Completion(ctx, s, ack.OperationID)
}

// poll4Completion implements the back-off schedule of spec §4.3 step 3:
// initial interval 500ms, factor 1.5, capped at 5s, bounded by an
// overall deadline.
func (d *Dispatcher) poll4Completion(ctx context.Context, s Subscriber, operationID string) error {
	origin, err := subscriberOrigin(s.PostURL)
	if err != nil {
		return fmt.Errorf("determine subscriber origin: %w", err)
	}
	statusURL := origin + "/operations/status?id=" + operationID

	deadlineCtx, cancel := context.WithTimeout(ctx, d.poll.Deadline)
	defer cancel()

	interval := d.poll.InitialInterval
	for {
		status, message, err := d.pollOnce(deadlineCtx, statusURL)
		if err != nil {
			return err
		}
		switch status {
		case "succeeded":
			return nil
		case "failed":
			if message != "" {
				return fmt.Errorf("async subscriber reported failure: %s", message)
			}
			return fmt.Errorf("async subscriber reported failure")
		case "pending":
			// continue polling
		default:
			return fmt.Errorf("async subscriber returned unknown status %q", status)
		}

		select {
		case <-deadlineCtx.Done():
			return fmt.Errorf("async subscriber %s timed out waiting for operation %s", s.Name, operationID)
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * d.poll.Factor)
		if interval > d.poll.MaxInterval {
			interval = d.poll.MaxInterval
		}
	}
}

func (d *Dispatcher) pollOnce(ctx context.Context, statusURL string) (status, message string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("build poll request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("poll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("poll returned status %d", resp.StatusCode)
	}

	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("decode poll response: %w", err)
	}
	return out.Status, out.Message, nil
}

// subscriberOrigin derives "<scheme>://<host>" from a subscriber's
// post URL, which is where the async status endpoint lives (spec
// §4.3 step 3: "GET <origin>/operations/status?id=<id>").
func subscriberOrigin(postURL string) (string, error) {
	idx := strings.Index(postURL, "://")
	if idx < 0 {
		return "", fmt.Errorf("post url %q has no scheme", postURL)
	}
	rest := postURL[idx+3:]
	slash := strings.Index(rest, "/")
	host := rest
	if slash >= 0 {
		host = rest[:slash]
	}
	return postURL[:idx+3] + host, nil
}
