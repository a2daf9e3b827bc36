/*
Package config provides type-safe configuration extraction from map[string]any.

# Overview

config wraps a map[string]any and provides typed accessor methods that handle
missing keys and type mismatches by returning default values. Transports
read their settings through it:

	cfg, err := config.FromFile("tmexio.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	wsCfg := ws.ConfigFrom(cfg.Sub("websocket"))

# Basic Usage

	cfg := config.New(map[string]any{
	    "write_timeout": "10s",
	    "max_in_flight": 32,
	    "check_origin":  "false",
	})

	timeout := cfg.Duration("write_timeout", 5*time.Second) // 10s
	inFlight := cfg.Int("max_in_flight", 16)                 // 32
	check := cfg.Bool("check_origin", true)                  // false
	path := cfg.String("path", "/socket")                    // "/socket"

# Type Coercion

Duration accepts Go duration strings ("30s", "1h30m"), time.Duration, and
numbers interpreted as seconds.

Int, Float, Bool and String convert between scalar types where the value
is unambiguous, so "32" is a valid Int and 1 is a valid Bool. Floats with a
fractional part are not converted to Int.

# Files

FromFile picks YAML or JSON by extension and expands $VAR references from
the environment first, so secrets and paths can stay out of the file:

	database:
	  path: ${CHAT_DB}

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
