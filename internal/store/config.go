package store

import "time"

// RedisConfig configures the Redis-backed Store. Field tags follow the
// teacher's convention of annotating JSON/YAML/env-var sources and a
// validation hint; the env tags on URL, FreelistKey and BorrowedKey
// name the variables that poolconfig.LoadEnv actually reads and
// cmd/poold wires onto this struct. REDIS_DIAL_TIMEOUT is not read by
// LoadEnv, so DialTimeout keeps its DefaultRedisConfig value. No
// reflection-based feeder is used, so the tags are not machine-read.
type RedisConfig struct {
	// URL is the Redis connection string, e.g. "redis://127.0.0.1:6379/0".
	URL string `json:"url" yaml:"url" env:"REDIS_URL" validate:"required"`

	// FreelistKey names the Redis SET backing the freelist. Configurable
	// so multiple pools can share one Redis instance without colliding
	// (spec §6 Persisted state).
	FreelistKey string `json:"freelistKey" yaml:"freelistKey" env:"REDIS_FREELIST_KEY"`

	// BorrowedKey names the Redis HASH backing the borrowed-set.
	BorrowedKey string `json:"borrowedKey" yaml:"borrowedKey" env:"REDIS_BORROWED_KEY"`

	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration `json:"dialTimeout" yaml:"dialTimeout" env:"REDIS_DIAL_TIMEOUT"`
}

// DefaultRedisConfig returns sane defaults, mirroring the teacher's
// pattern of shipping usable zero-config defaults via a constructor
// rather than requiring every field to be set.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:         "redis://127.0.0.1:6379/",
		FreelistKey: "pool:freelist",
		BorrowedKey: "pool:borrowed",
		DialTimeout: 5 * time.Second,
	}
}
