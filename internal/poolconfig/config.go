// Package poolconfig parses the static subscriber configuration
// document (spec §4.5, §6 Configuration file) and the process
// environment (spec §6 Environment) into the types the rest of the
// service wires up at startup. Neither is hot-reloaded.
package poolconfig

import (
	"fmt"
	"time"

	"github.com/r33drichards/ip-allocator-webserver/internal/dispatcher"
	"github.com/r33drichards/ip-allocator-webserver/internal/event"
)

// ReturnConfig holds the return-specific compatibility switch flagged
// as an open question in spec §9: whether `/return` requires
// borrow_token. The canonical path (token required) is the default;
// AllowTokenless opts into the relaxed mode.
type ReturnConfig struct {
	AllowTokenless bool
}

// Document is the fully parsed, validated subscriber configuration:
// every subscriber across all three event kinds, ready to hand to
// dispatcher.New.
type Document struct {
	Subscribers []dispatcher.Subscriber
	Return      ReturnConfig
}

// duplicateKey identifies a subscriber by its (event_kind, name) pair,
// which spec §3 declares must be unique.
type duplicateKey struct {
	kind event.Kind
	name string
}

func (d Document) validate() error {
	seen := make(map[duplicateKey]bool)
	for _, s := range d.Subscribers {
		key := duplicateKey{kind: s.EventKind, name: s.Name}
		if seen[key] {
			return fmt.Errorf("poolconfig: duplicate subscriber %q for event %q", s.Name, s.EventKind)
		}
		seen[key] = true

		if s.PostURL == "" {
			return fmt.Errorf("poolconfig: subscriber %q for event %q has no post url", s.Name, s.EventKind)
		}
	}
	return nil
}

// ServerConfig captures the process environment (spec §6 Environment):
// Redis connectivity, bind address, subscriber timeout, and operation
// retention. Loaded once at startup from os.Getenv by LoadEnv.
type ServerConfig struct {
	RedisURL           string
	RedisFreelistKey   string
	RedisBorrowedKey   string
	BindAddr           string
	SubscriberConfig   string
	SubscriberTimeout  time.Duration
	OperationRetention time.Duration
}
