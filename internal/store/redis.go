package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a real or fake (miniredis) Redis
// server. Grounded on the teacher's modules/cache/redis.go, which
// follows the same "ParseURL, build a *redis.Client, Ping on connect"
// shape; the set/hash choice and the atomic Lua scripts here are new,
// since the cache module never needed set-membership semantics.
type RedisStore struct {
	cfg    RedisConfig
	client *redis.Client
}

// borrowRecordScript atomically checks that item is absent from both
// the freelist and the borrowed-set before recording the borrow,
// enforcing the BorrowedSet invariant from spec §3 even under races
// with a concurrent submit of the same item.
var borrowRecordScript = redis.NewScript(`
local freelist_key = KEYS[1]
local borrowed_key = KEYS[2]
local item = ARGV[1]
local token = ARGV[2]
if redis.call("SISMEMBER", freelist_key, item) == 1 then
	return {err = "already_present"}
end
if redis.call("HEXISTS", borrowed_key, item) == 1 then
	return {err = "already_present"}
end
redis.call("HSET", borrowed_key, item, token)
return "OK"
`)

// borrowRemoveScript atomically verifies the supplied token matches
// the one on record and removes the entry, never mutating state on a
// mismatch (spec §4.1 BorrowRemove contract).
var borrowRemoveScript = redis.NewScript(`
local borrowed_key = KEYS[1]
local item = ARGV[1]
local token = ARGV[2]
local current = redis.call("HGET", borrowed_key, item)
if current == false or current ~= token then
	return {err = "unknown_token"}
end
redis.call("HDEL", borrowed_key, item)
return "OK"
`)

// NewRedisStore parses cfg.URL and prepares a client. It does not
// connect until Start/Ping is called, matching the teacher's
// separation of construction from connection establishment.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	return &RedisStore{cfg: cfg, client: redis.NewClient(opts)}, nil
}

// Name implements appcore.Component.
func (s *RedisStore) Name() string { return "store.redis" }

// Start implements appcore.Component by verifying connectivity.
func (s *RedisStore) Start(ctx context.Context) error {
	return s.Ping(ctx)
}

// Stop implements appcore.Component.
func (s *RedisStore) Stop(ctx context.Context) error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) FreelistAdd(ctx context.Context, item Item) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, s.cfg.FreelistKey, string(canon)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) FreelistPopOne(ctx context.Context) (Item, error) {
	val, err := s.client.SPop(ctx, s.cfg.FreelistKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Item(val), nil
}

func (s *RedisStore) FreelistContains(ctx context.Context, item Item) (bool, error) {
	canon, err := Canonicalize(item)
	if err != nil {
		return false, err
	}
	ok, err := s.client.SIsMember(ctx, s.cfg.FreelistKey, string(canon)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

func (s *RedisStore) FreelistList(ctx context.Context) ([]Item, error) {
	members, err := s.client.SMembers(ctx, s.cfg.FreelistKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	items := make([]Item, len(members))
	for i, m := range members {
		items[i] = Item(m)
	}
	return items, nil
}

func (s *RedisStore) FreelistCount(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.cfg.FreelistKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) BorrowRecord(ctx context.Context, item Item, token string) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	_, err = borrowRecordScript.Run(ctx, s.client, []string{s.cfg.FreelistKey, s.cfg.BorrowedKey}, string(canon), token).Result()
	if err != nil {
		if isScriptErr(err, "already_present") {
			return ErrAlreadyPresent
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) BorrowRemove(ctx context.Context, item Item, token string) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	_, err = borrowRemoveScript.Run(ctx, s.client, []string{s.cfg.BorrowedKey}, string(canon), token).Result()
	if err != nil {
		if isScriptErr(err, "unknown_token") {
			return ErrUnknownToken
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) BorrowRemoveAny(ctx context.Context, item Item) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	n, err := s.client.HDel(ctx, s.cfg.BorrowedKey, string(canon)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return ErrUnknownToken
	}
	return nil
}

func (s *RedisStore) BorrowCount(ctx context.Context) (int64, error) {
	n, err := s.client.HLen(ctx, s.cfg.BorrowedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// isScriptErr reports whether err is the Lua script's {err=...} table
// carrying the given message, which go-redis surfaces as a plain
// error whose message equals the table's err field.
func isScriptErr(err error, msg string) bool {
	return err != nil && err.Error() == msg
}
