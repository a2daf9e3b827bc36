package config

import (
	"time"

	"github.com/spf13/cast"
)

// Config wraps a map[string]any for type-safe value extraction.
// All accessor methods return default values if the key is missing
// or the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal if missing or not
// convertible. Numbers and booleans are formatted.
func (c Config) String(key, defaultVal string) string {
	v, ok := c.lookup(key)
	if !ok {
		return defaultVal
	}
	switch v.(type) {
	case []any, []string, map[string]any:
		return defaultVal
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return defaultVal
	}
	return s
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed as a Go duration ("30s", "1h30m")
//   - time.Duration: used directly
//   - int, int64, float64: interpreted as seconds
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	v, ok := c.lookup(key)
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case time.Duration:
		return val
	case string:
		d, err := time.ParseDuration(val)
		if err != nil {
			return defaultVal
		}
		return d
	case bool:
		return defaultVal
	}
	secs, err := cast.ToFloat64E(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs * float64(time.Second))
}

// Bool returns the boolean value for key, or defaultVal if missing or not
// convertible. Strings such as "true", "1" and "false" are accepted.
func (c Config) Bool(key string, defaultVal bool) bool {
	v, ok := c.lookup(key)
	if !ok {
		return defaultVal
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
// Floats convert only when they have no fractional part.
func (c Config) Int(key string, defaultVal int) int {
	v, ok := c.lookup(key)
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case bool:
		return defaultVal
	case float64:
		if val != float64(int(val)) {
			return defaultVal
		}
	case float32:
		if val != float32(int(val)) {
			return defaultVal
		}
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// Float returns the float64 value for key, or defaultVal if missing or not convertible.
func (c Config) Float(key string, defaultVal float64) float64 {
	v, ok := c.lookup(key)
	if !ok {
		return defaultVal
	}
	if _, isBool := v.(bool); isBool {
		return defaultVal
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return defaultVal
	}
	return f
}

// StringSlice returns the string slice for key, or defaultVal if missing or
// not convertible. A []any converts only when every element is a string.
func (c Config) StringSlice(key string, defaultVal []string) []string {
	v, ok := c.lookup(key)
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		for _, item := range val {
			if _, ok := item.(string); !ok {
				return defaultVal
			}
		}
		out, err := cast.ToStringSliceE(val)
		if err != nil {
			return defaultVal
		}
		return out
	}
	return defaultVal
}

// Sub returns the nested section stored under key. A missing or non-map
// value yields an empty Config.
func (c Config) Sub(key string) Config {
	v, ok := c.lookup(key)
	if !ok {
		return New(nil)
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return New(nil)
	}
	return New(m)
}

// lookup treats an explicit null like a missing key.
func (c Config) lookup(key string) (any, bool) {
	v, ok := c.data[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Any returns the raw value for key, or defaultVal if missing.
func (c Config) Any(key string, defaultVal any) any {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	return v
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map.
// The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}
