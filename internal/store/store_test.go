package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// newTestRedisStore starts an in-process fake Redis server (miniredis,
// as used throughout the teacher's cache module test suite) and
// returns a RedisStore pointed at it.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultRedisConfig()
	cfg.URL = "redis://" + mr.Addr() + "/"
	s, err := NewRedisStore(cfg)
	require.NoError(t, err)
	return s
}

func item(s string) Item { return Item(`"` + s + `"`) }

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("pop empty returns ErrEmpty", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FreelistPopOne(ctx)
		require.ErrorIs(t, err, ErrEmpty)
	})

	t.Run("add then pop round trips", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.FreelistAdd(ctx, item("10.0.0.1")))
		n, err := s.FreelistCount(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		got, err := s.FreelistPopOne(ctx)
		require.NoError(t, err)
		require.JSONEq(t, `"10.0.0.1"`, string(got))

		n, err = s.FreelistCount(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 0, n)
	})

	t.Run("submit idempotence (P4)", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.FreelistAdd(ctx, item("Z")))
		require.NoError(t, s.FreelistAdd(ctx, item("Z")))
		n, err := s.FreelistCount(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	})

	t.Run("borrow record then remove with correct token", func(t *testing.T) {
		s := newStore(t)
		i := item("10.0.0.3")
		require.NoError(t, s.BorrowRecord(ctx, i, "tok-1"))
		bc, err := s.BorrowCount(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, bc)

		require.NoError(t, s.BorrowRemove(ctx, i, "tok-1"))
		bc, err = s.BorrowCount(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 0, bc)
	})

	t.Run("borrow remove with wrong token fails without mutating (P3)", func(t *testing.T) {
		s := newStore(t)
		i := item("Y")
		require.NoError(t, s.BorrowRecord(ctx, i, "tok-real"))

		err := s.BorrowRemove(ctx, i, "bogus")
		require.ErrorIs(t, err, ErrUnknownToken)

		bc, err := s.BorrowCount(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, bc, "state must be unchanged after a failed remove")
	})

	t.Run("borrow record rejects item already free or already borrowed", func(t *testing.T) {
		s := newStore(t)
		i := item("dup")
		require.NoError(t, s.FreelistAdd(ctx, i))
		err := s.BorrowRecord(ctx, i, "tok")
		require.ErrorIs(t, err, ErrAlreadyPresent)

		i2 := item("dup2")
		require.NoError(t, s.BorrowRecord(ctx, i2, "tok-a"))
		err = s.BorrowRecord(ctx, i2, "tok-b")
		require.ErrorIs(t, err, ErrAlreadyPresent)
	})

	t.Run("freelist contains and list", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.FreelistAdd(ctx, item("a")))
		require.NoError(t, s.FreelistAdd(ctx, item("b")))

		ok, err := s.FreelistContains(ctx, item("a"))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.FreelistContains(ctx, item("missing"))
		require.NoError(t, err)
		require.False(t, ok)

		list, err := s.FreelistList(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
	})
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return newTestRedisStore(t) })
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}
