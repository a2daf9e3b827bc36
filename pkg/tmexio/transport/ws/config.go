package ws

import (
	"net/http"
	"time"

	"github.com/randalmurphal/tmexio/pkg/tmexio/config"
)

// Config configures a Server.
type Config struct {
	// Address is the listen address used by ListenAndServe. Default: ":8080"
	Address string

	// Path is the HTTP path the websocket endpoint is mounted on. Default: "/socket"
	Path string

	// ReadLimit is the maximum size in bytes of an inbound frame. Default: 1 MiB
	ReadLimit int64

	// WriteTimeout bounds every frame write. Default: 10s
	WriteTimeout time.Duration

	// PingInterval is how often the server pings idle peers. A peer that
	// does not answer within two intervals is disconnected. Zero disables
	// keepalive. Default: 25s
	PingInterval time.Duration

	// HandshakeTimeout bounds the wait for the connect frame. Default: 10s
	HandshakeTimeout time.Duration

	// MaxInFlight bounds concurrent dispatches per connection. The reader
	// stops reading while the bound is reached. Default: 16
	MaxInFlight int

	// SendBuffer is the number of outbound frames queued per connection.
	// Default: 64
	SendBuffer int

	// AllowedOrigins lists accepted Origin headers. Empty means same-origin
	// only; "*" accepts any origin.
	AllowedOrigins []string
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	Address:          ":8080",
	Path:             "/socket",
	ReadLimit:        1 << 20,
	WriteTimeout:     10 * time.Second,
	PingInterval:     25 * time.Second,
	HandshakeTimeout: 10 * time.Second,
	MaxInFlight:      16,
	SendBuffer:       64,
}

// ConfigFrom reads a Config from a config section, using DefaultConfig for
// missing keys.
//
// Keys: address, path, read_limit, write_timeout, ping_interval,
// handshake_timeout, max_in_flight, send_buffer, allowed_origins.
func ConfigFrom(c config.Config) Config {
	d := DefaultConfig
	return Config{
		Address:          c.String("address", d.Address),
		Path:             c.String("path", d.Path),
		ReadLimit:        int64(c.Int("read_limit", int(d.ReadLimit))),
		WriteTimeout:     c.Duration("write_timeout", d.WriteTimeout),
		PingInterval:     c.Duration("ping_interval", d.PingInterval),
		HandshakeTimeout: c.Duration("handshake_timeout", d.HandshakeTimeout),
		MaxInFlight:      c.Int("max_in_flight", d.MaxInFlight),
		SendBuffer:       c.Int("send_buffer", d.SendBuffer),
		AllowedOrigins:   c.StringSlice("allowed_origins", d.AllowedOrigins),
	}
}

// withDefaults fills zero fields from DefaultConfig. PingInterval is left
// alone since zero disables keepalive.
func (c Config) withDefaults() Config {
	d := DefaultConfig
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	return c
}

// checkOrigin returns the upgrader origin check for allowed. A nil result
// selects gorilla's same-origin check.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}
