package poolconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/r33drichards/ip-allocator-webserver/internal/dispatcher"
	"github.com/r33drichards/ip-allocator-webserver/internal/event"
)

// rawSubscriber mirrors one `[<kind>.subscribers.<name>]` table from
// spec §6's configuration file. MustSucceedCorrect and
// MustSucceedTypo are pointers so the loader can tell "absent" from
// "present and false", which the typo-compatibility rule needs (spec
// §4.5, §9 Configuration typo compatibility).
type rawSubscriber struct {
	Post               string `toml:"post"`
	Async              bool   `toml:"async"`
	MustSucceedCorrect *bool  `toml:"mustSucceed"`
	MustSucceedTypo    *bool  `toml:"mustSuceed"`
}

type rawSection struct {
	Subscribers    map[string]rawSubscriber `toml:"subscribers"`
	AllowTokenless bool                     `toml:"allow_tokenless"`
}

type rawDocument struct {
	Borrow rawSection `toml:"borrow"`
	Return rawSection `toml:"return"`
	Submit rawSection `toml:"submit"`
}

// resolveMustSucceed implements spec §4.5: the historic "mustSuceed"
// (single c) key must be accepted, and if both spellings are present
// true takes precedence over false.
func resolveMustSucceed(correct, typo *bool) bool {
	return (correct != nil && *correct) || (typo != nil && *typo)
}

// Load parses a TOML subscriber configuration document from path.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("poolconfig: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw TOML bytes into a validated Document.
func Parse(data []byte) (Document, error) {
	var raw rawDocument
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return Document{}, fmt.Errorf("poolconfig: parse toml: %w", err)
	}

	var subs []dispatcher.Subscriber
	sections := []struct {
		kind    event.Kind
		section rawSection
	}{
		{event.KindBorrow, raw.Borrow},
		{event.KindReturn, raw.Return},
		{event.KindSubmit, raw.Submit},
	}
	for _, sec := range sections {
		for name, rs := range sec.section.Subscribers {
			subs = append(subs, dispatcher.Subscriber{
				Name:        name,
				EventKind:   sec.kind,
				PostURL:     rs.Post,
				MustSucceed: resolveMustSucceed(rs.MustSucceedCorrect, rs.MustSucceedTypo),
				Async:       rs.Async,
			})
		}
	}

	doc := Document{
		Subscribers: subs,
		Return:      ReturnConfig{AllowTokenless: raw.Return.AllowTokenless},
	}
	if err := doc.validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// LoadEnv reads the process environment per spec §6, applying the
// documented defaults.
func LoadEnv() ServerConfig {
	cfg := ServerConfig{
		RedisURL:           getenv("REDIS_URL", "redis://127.0.0.1:6379/"),
		RedisFreelistKey:   getenv("REDIS_FREELIST_KEY", "pool:freelist"),
		RedisBorrowedKey:   getenv("REDIS_BORROWED_KEY", "pool:borrowed"),
		BindAddr:           getenv("POOL_BIND_ADDR", ":8080"),
		SubscriberConfig:   getenv("POOL_SUBSCRIBER_CONFIG", "subscribers.toml"),
		SubscriberTimeout:  getenvDuration("POOL_SUBSCRIBER_TIMEOUT", 30*time.Second),
		OperationRetention: getenvDuration("POOL_OPERATION_RETENTION", time.Hour),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
