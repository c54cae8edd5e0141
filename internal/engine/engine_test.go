package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r33drichards/ip-allocator-webserver/internal/appcore"
	"github.com/r33drichards/ip-allocator-webserver/internal/dispatcher"
	"github.com/r33drichards/ip-allocator-webserver/internal/event"
	"github.com/r33drichards/ip-allocator-webserver/internal/registry"
	"github.com/r33drichards/ip-allocator-webserver/internal/store"
)

func newTestEngine(t *testing.T, subs []dispatcher.Subscriber, opts ...dispatcher.Option) (*Engine, store.Store, *registry.Registry) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := registry.New(time.Hour)
	disp := dispatcher.New(subs, opts...)
	e := New(st, disp, reg, appcore.NewLogger(), Config{})
	return e, st, reg
}

func jsonItem(s string) json.RawMessage { return json.RawMessage(`"` + s + `"`) }

// Scenario 1: sync borrow success.
func TestBorrowSyncSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, st, _ := newTestEngine(t, []dispatcher.Subscriber{
		{Name: "s1", EventKind: event.KindBorrow, PostURL: srv.URL, MustSucceed: true},
	})
	require.NoError(t, st.FreelistAdd(t.Context(), jsonItem("10.0.0.3")))

	result, opID, err := e.Borrow(t.Context(), nil)
	require.NoError(t, err)
	require.Empty(t, opID)
	require.JSONEq(t, `"10.0.0.3"`, string(result.Item))
	require.NotEmpty(t, result.BorrowToken)

	free, _ := st.FreelistCount(t.Context())
	borrowed, _ := st.BorrowCount(t.Context())
	require.EqualValues(t, 0, free)
	require.EqualValues(t, 1, borrowed)
}

// Scenario 3: async return, with client-visible status polling.
func TestReturnAsyncFlow(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/operations/status" {
			select {
			case <-release:
				_, _ = w.Write([]byte(`{"status":"succeeded"}`))
			default:
				_, _ = w.Write([]byte(`{"status":"pending"}`))
			}
			return
		}
		_, _ = w.Write([]byte(`{"operation_id":"ext-op-1"}`))
	}))
	defer srv.Close()

	e, st, reg := newTestEngine(t, []dispatcher.Subscriber{
		{Name: "audit", EventKind: event.KindReturn, PostURL: srv.URL, MustSucceed: true, Async: true},
	}, dispatcher.WithPollConfig(dispatcher.PollConfig{
		InitialInterval: 10 * time.Millisecond, Factor: 1.2, MaxInterval: 20 * time.Millisecond, Deadline: 5 * time.Second,
	}))

	require.NoError(t, st.FreelistAdd(t.Context(), jsonItem("10.0.0.1")))
	borrowResult, _, err := e.Borrow(t.Context(), nil)
	require.NoError(t, err)

	_, opID, err := e.Return(t.Context(), ReturnRequest{Item: borrowResult.Item, BorrowToken: borrowResult.BorrowToken})
	require.NoError(t, err)
	require.NotEmpty(t, opID)

	op, err := reg.Get(opID)
	require.NoError(t, err)
	require.Equal(t, registry.StatePending, op.State)

	free, _ := st.FreelistCount(t.Context())
	require.EqualValues(t, 0, free, "freelist must not change until the async return commits")

	close(release)
	require.Eventually(t, func() bool {
		op, err := reg.Get(opID)
		return err == nil && op.State == registry.StateSucceeded
	}, time.Second, 5*time.Millisecond)

	free, _ = st.FreelistCount(t.Context())
	require.EqualValues(t, 1, free)
}

// Scenario 4: borrow rollback on must-succeed sync failure.
func TestBorrowRollbackOnSubscriberFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, st, _ := newTestEngine(t, []dispatcher.Subscriber{
		{Name: "gate", EventKind: event.KindBorrow, PostURL: srv.URL, MustSucceed: true},
	})
	require.NoError(t, st.FreelistAdd(t.Context(), jsonItem("X")))

	_, _, err := e.Borrow(t.Context(), nil)
	require.ErrorIs(t, err, ErrSubscriberFailed)

	free, _ := st.FreelistCount(t.Context())
	borrowed, _ := st.BorrowCount(t.Context())
	require.EqualValues(t, 1, free)
	require.EqualValues(t, 0, borrowed)

	ok, _ := st.FreelistContains(t.Context(), jsonItem("X"))
	require.True(t, ok)
}

// Scenario 5: invalid token return.
func TestReturnInvalidToken(t *testing.T) {
	e, st, _ := newTestEngine(t, nil)
	require.NoError(t, st.FreelistAdd(t.Context(), jsonItem("Y")))

	borrowResult, _, err := e.Borrow(t.Context(), nil)
	require.NoError(t, err)
	_ = borrowResult

	_, _, err = e.Return(t.Context(), ReturnRequest{Item: jsonItem("Y"), BorrowToken: "bogus"})
	require.ErrorIs(t, err, ErrInvalidToken)
}

// Scenario 6: submit idempotence.
func TestSubmitIdempotence(t *testing.T) {
	e, st, _ := newTestEngine(t, nil)

	_, _, err := e.Submit(t.Context(), jsonItem("Z"))
	require.NoError(t, err)
	_, _, err = e.Submit(t.Context(), jsonItem("Z"))
	require.NoError(t, err)

	free, _ := st.FreelistCount(t.Context())
	require.EqualValues(t, 1, free)
}

// Round-trip law: submit(i) then borrow() then return(i, token) yields
// FreeList = {i}, borrowed_count = 0.
func TestRoundTripLaw(t *testing.T) {
	e, st, _ := newTestEngine(t, nil)

	_, _, err := e.Submit(t.Context(), jsonItem("10.9.9.9"))
	require.NoError(t, err)

	borrowResult, _, err := e.Borrow(t.Context(), nil)
	require.NoError(t, err)

	_, _, err = e.Return(t.Context(), ReturnRequest{Item: borrowResult.Item, BorrowToken: borrowResult.BorrowToken})
	require.NoError(t, err)

	free, _ := st.FreelistCount(t.Context())
	borrowed, _ := st.BorrowCount(t.Context())
	require.EqualValues(t, 1, free)
	require.EqualValues(t, 0, borrowed)

	items, _ := st.FreelistList(t.Context())
	require.Len(t, items, 1)
	require.JSONEq(t, `"10.9.9.9"`, string(items[0]))
}

func TestBorrowPoolExhausted(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	_, _, err := e.Borrow(t.Context(), nil)
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestSubmitInvalidItemRejected(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	_, _, err := e.Submit(t.Context(), json.RawMessage(`null`))
	require.ErrorIs(t, err, ErrInvalidItem)

	_, _, err = e.Submit(t.Context(), json.RawMessage(``))
	require.ErrorIs(t, err, ErrInvalidItem)
}

func TestReturnRequiresTokenByDefault(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	_, _, err := e.Return(t.Context(), ReturnRequest{Item: jsonItem("A")})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestReturnAllowsTokenlessInRelaxedMode(t *testing.T) {
	st := store.NewMemoryStore()
	reg := registry.New(time.Hour)
	disp := dispatcher.New(nil)
	e := New(st, disp, reg, appcore.NewLogger(), Config{AllowTokenlessReturn: true})

	require.NoError(t, st.FreelistAdd(t.Context(), jsonItem("A")))
	borrowResult, _, err := e.Borrow(t.Context(), nil)
	require.NoError(t, err)
	_ = borrowResult

	_, _, err = e.Return(t.Context(), ReturnRequest{Item: jsonItem("A")})
	require.NoError(t, err)

	free, _ := st.FreelistCount(t.Context())
	require.EqualValues(t, 1, free)
}

func TestLeakedItemIncrementsMetricWhenCompensationFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := &failingCompensationStore{MemoryStore: store.NewMemoryStore()}
	reg := registry.New(time.Hour)
	disp := dispatcher.New([]dispatcher.Subscriber{
		{Name: "gate", EventKind: event.KindBorrow, PostURL: srv.URL, MustSucceed: true},
	})
	e := New(st, disp, reg, appcore.NewLogger(), Config{})

	require.NoError(t, st.MemoryStore.FreelistAdd(t.Context(), jsonItem("leak-me")))
	_, _, err := e.Borrow(t.Context(), nil)
	require.ErrorIs(t, err, ErrSubscriberFailed)
	require.EqualValues(t, 1, e.Metrics().Leaked())
}

// failingCompensationStore makes FreelistAdd always fail, simulating a
// Store outage exactly when the Engine tries to compensate (spec §7
// LeakedItem, §8 P5).
type failingCompensationStore struct {
	*store.MemoryStore
}

var errAlwaysFails = errors.New("simulated store outage")

func (f *failingCompensationStore) FreelistAdd(ctx context.Context, item store.Item) error {
	return errAlwaysFails
}
