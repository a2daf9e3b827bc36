package ws

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/tmexio/pkg/tmexio"
	"github.com/randalmurphal/tmexio/pkg/tmexio/config"
)

func TestConfigFrom(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, DefaultConfig, ConfigFrom(config.New(nil)))
	})

	t.Run("overrides", func(t *testing.T) {
		cfg := ConfigFrom(config.New(map[string]any{
			"address":           "127.0.0.1:9000",
			"path":              "/ws",
			"read_limit":        4096,
			"write_timeout":     "2s",
			"ping_interval":     0,
			"handshake_timeout": 3,
			"max_in_flight":     4,
			"send_buffer":       8,
			"allowed_origins":   []any{"https://example.com"},
		}))

		assert.Equal(t, Config{
			Address:          "127.0.0.1:9000",
			Path:             "/ws",
			ReadLimit:        4096,
			WriteTimeout:     2 * time.Second,
			PingInterval:     0,
			HandshakeTimeout: 3 * time.Second,
			MaxInFlight:      4,
			SendBuffer:       8,
			AllowedOrigins:   []string{"https://example.com"},
		}, cfg)
	})
}

func TestConfig_WithDefaults(t *testing.T) {
	got := Config{MaxInFlight: -1, Path: "/custom"}.withDefaults()

	assert.Equal(t, "/custom", got.Path)
	assert.Equal(t, DefaultConfig.MaxInFlight, got.MaxInFlight)
	assert.Equal(t, DefaultConfig.SendBuffer, got.SendBuffer)
	assert.Equal(t, DefaultConfig.ReadLimit, got.ReadLimit)
	assert.Zero(t, got.PingInterval, "zero ping interval disables keepalive")
}

func TestCheckOrigin(t *testing.T) {
	assert.Nil(t, checkOrigin(nil))

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard", []string{"*"}, "https://evil.test", true},
		{"listed", []string{"https://a.test", "https://b.test"}, "https://b.test", true},
		{"unlisted", []string{"https://a.test"}, "https://b.test", false},
		{"missing header", []string{"https://a.test"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/socket", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			check := checkOrigin(tt.allowed)
			require.NotNil(t, check)
			assert.Equal(t, tt.want, check(r))
		})
	}
}

func TestNewServer(t *testing.T) {
	assert.PanicsWithValue(t, "ws: router cannot be nil", func() {
		NewServer(nil, Config{})
	})

	compiled, err := tmexio.NewRouter().On("ping", func(ctx context.Context, kw tmexio.Kwargs) (tmexio.Result, error) {
		return tmexio.NoContent, nil
	}).Compile()
	require.NoError(t, err)

	srv := NewServer(compiled, Config{Path: "/events"})
	assert.Equal(t, "/events", srv.Config().Path)
	assert.Equal(t, DefaultConfig.Address, srv.Config().Address)
	assert.Zero(t, srv.Len())
}

func TestFrameCodec(t *testing.T) {
	f, err := decodeFrame([]byte(`{"type":"event","id":7,"event":"chat.send","args":[{"text":"hi"}]}`))
	require.NoError(t, err)
	assert.Equal(t, Frame{
		Type:  FrameEvent,
		ID:    7,
		Event: "chat.send",
		Args:  []any{map[string]any{"text": "hi"}},
	}, f)

	data, err := encodeFrame(Frame{Type: FrameConnected, SID: "abc"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connected","sid":"abc"}`, string(data))

	_, err = decodeFrame([]byte("{"))
	assert.Error(t, err)
}

func TestSessionMarkers(t *testing.T) {
	sess := newSession("sid-1", nil, nil, 1)

	got := SessionMarker.Extract(tmexio.ClientEvent{Context: sess})
	assert.Same(t, sess, got)

	emitter, ok := EmitterMarker.Extract(tmexio.ClientEvent{Context: sess}).(Emitter)
	require.True(t, ok)
	assert.Equal(t, "sid-1", emitter.SID())

	assert.Nil(t, SessionMarker.Extract(tmexio.ClientEvent{Context: "other"}))
	assert.Nil(t, EmitterMarker.Extract(tmexio.ClientEvent{Context: "other"}))
}
