// Package config reads the environment devhost runs in. A .env file in the working
// directory is loaded first; variables already set in the process win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// HistoryOff disables the history journal when used as DEVHOST_HISTORY.
const HistoryOff = "off"

// Env holds every environment setting outside the preset cascade, which is resolved
// live on each restart instead. HOST is read by start and deploy straight from the
// environment they hand to the built server.
type Env struct {
	// Port is the dev server port when --port is not given.
	Port int `env:"PORT" envDefault:"3000"`
	// Devtools enables the devtools endpoints when set to any non-empty value.
	Devtools string `env:"DEVTOOLS"`
	// HistoryPath is the SQLite journal file.
	HistoryPath string `env:"DEVHOST_HISTORY" envDefault:".devhost/history.db"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"DEVHOST_LOG_LEVEL" envDefault:"info"`
	// TokenTTL bounds the lifetime of devtools control tokens. 0 means no expiry.
	TokenTTL time.Duration `env:"DEVHOST_TOKEN_TTL" envDefault:"24h"`
}

// Load reads the given dotenv files (".env" when none are given), ignoring any that do
// not exist, then parses the process environment.
func Load(dotenvFiles ...string) (*Env, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}

// Parse reads settings from the given variables instead of the process environment.
func Parse(environ map[string]string) (*Env, error) {
	var cfg Env
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}

// DevtoolsEnabled reports whether DEVTOOLS holds anything at all; "0" and "false"
// count as set.
func (e *Env) DevtoolsEnabled() bool {
	return e.Devtools != ""
}

// HistoryEnabled reports whether the journal should be written.
func (e *Env) HistoryEnabled() bool {
	return e.HistoryPath != HistoryOff
}

// ResolvePort returns the flag value when the flag was given, else the environment port.
func (e *Env) ResolvePort(flag int, flagSet bool) int {
	if flagSet {
		return flag
	}
	return e.Port
}
