package poolconfig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r33drichards/ip-allocator-webserver/internal/event"
)

func TestParseBasicDocument(t *testing.T) {
	doc, err := Parse([]byte(`
[borrow.subscribers.notify]
post = "https://hooks.example.com/borrow"
mustSucceed = true
async = false

[return.subscribers.audit]
post = "https://hooks.example.com/return"
mustSucceed = false
async = true
`))
	require.NoError(t, err)
	require.Len(t, doc.Subscribers, 2)

	byName := map[string]int{}
	for i, s := range doc.Subscribers {
		byName[s.Name] = i
	}

	notify := doc.Subscribers[byName["notify"]]
	require.Equal(t, event.KindBorrow, notify.EventKind)
	require.True(t, notify.MustSucceed)
	require.False(t, notify.Async)

	audit := doc.Subscribers[byName["audit"]]
	require.Equal(t, event.KindReturn, audit.EventKind)
	require.False(t, audit.MustSucceed)
	require.True(t, audit.Async)
}

func TestParseAcceptsHistoricTypoSpelling(t *testing.T) {
	doc, err := Parse([]byte(`
[submit.subscribers.legacy]
post = "https://hooks.example.com/submit"
mustSuceed = true
async = false
`))
	require.NoError(t, err)
	require.Len(t, doc.Subscribers, 1)
	require.True(t, doc.Subscribers[0].MustSucceed)
}

func TestParseTrueTakesPrecedenceWhenBothSpellingsPresent(t *testing.T) {
	doc, err := Parse([]byte(`
[submit.subscribers.both]
post = "https://hooks.example.com/submit"
mustSucceed = false
mustSuceed = true
`))
	require.NoError(t, err)
	require.True(t, doc.Subscribers[0].MustSucceed)
}

func TestParseRejectsDuplicateSubscriberName(t *testing.T) {
	_, err := Parse([]byte(`
[borrow.subscribers.dup]
post = "https://a.example.com"

[borrow.subscribers.dup]
post = "https://b.example.com"
`))
	// TOML itself rejects redefining a table, so this is expected to
	// fail at the decode stage already; assert we still surface an error.
	require.Error(t, err)
}

func TestParseRejectsEmptyPostURL(t *testing.T) {
	_, err := Parse([]byte(`
[borrow.subscribers.broken]
mustSucceed = true
`))
	require.Error(t, err)
}

func TestParseReturnAllowTokenless(t *testing.T) {
	doc, err := Parse([]byte(`
[return]
allow_tokenless = true
`))
	require.NoError(t, err)
	require.True(t, doc.Return.AllowTokenless)
}

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("REDIS_FREELIST_KEY", "")
	t.Setenv("REDIS_BORROWED_KEY", "")
	t.Setenv("POOL_BIND_ADDR", "")
	t.Setenv("POOL_SUBSCRIBER_TIMEOUT", "")
	t.Setenv("POOL_OPERATION_RETENTION", "")

	cfg := LoadEnv()
	require.Equal(t, "redis://127.0.0.1:6379/", cfg.RedisURL)
	require.Equal(t, "pool:freelist", cfg.RedisFreelistKey)
	require.Equal(t, "pool:borrowed", cfg.RedisBorrowedKey)
	require.Equal(t, ":8080", cfg.BindAddr)
}

// TestLoadEnvRedisKeysOverride guards spec §6's "Persisted state" key
// names MUST be configurable, to avoid collisions when multiple pools
// share one Redis instance.
func TestLoadEnvRedisKeysOverride(t *testing.T) {
	t.Setenv("REDIS_FREELIST_KEY", "tenant-a:freelist")
	t.Setenv("REDIS_BORROWED_KEY", "tenant-a:borrowed")

	cfg := LoadEnv()
	require.Equal(t, "tenant-a:freelist", cfg.RedisFreelistKey)
	require.Equal(t, "tenant-a:borrowed", cfg.RedisBorrowedKey)
}
