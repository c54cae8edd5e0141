package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r33drichards/ip-allocator-webserver/internal/event"
)

func TestCreateStartsPending(t *testing.T) {
	r := New(time.Hour)
	id := r.Create(event.KindBorrow)
	require.NotEmpty(t, id)

	op, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatePending, op.State)
	require.Equal(t, event.KindBorrow, op.Kind)
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	r := New(time.Hour)
	_, err := r.Get("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTerminalTransitionIsSticky(t *testing.T) {
	r := New(time.Hour)
	id := r.Create(event.KindReturn)

	r.MarkSucceeded(id, map[string]string{"status": "ok"})
	op, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, op.State)

	// A subsequent failure must not flip a terminal state (P6: at
	// most one Pending -> terminal transition).
	r.MarkFailed(id, "too late")
	op, err = r.Get(id)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, op.State)
}

func TestMarkFailedSetsMessage(t *testing.T) {
	r := New(time.Hour)
	id := r.Create(event.KindSubmit)
	r.MarkFailed(id, "subscriber X returned 500")

	op, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, StateFailed, op.State)
	require.Equal(t, "subscriber X returned 500", op.Message)
}

func TestGCRemovesOnlyExpiredTerminalOperations(t *testing.T) {
	r := New(10 * time.Millisecond)

	pendingID := r.Create(event.KindBorrow)

	doneID := r.Create(event.KindReturn)
	r.MarkSucceeded(doneID, nil)

	require.Equal(t, 2, r.Len())

	time.Sleep(20 * time.Millisecond)
	removed := r.GC(time.Now())
	require.Equal(t, 1, removed)

	_, err := r.Get(doneID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Get(pendingID)
	require.NoError(t, err, "pending operations are never GC'd")
}
