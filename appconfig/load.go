package appconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFiles are tried in order when no config path is given.
var DefaultFiles = []string{"app.config.yaml", "app.config.yml", "app.config.json"}

// Options carries the CLI-derived settings that influence loading.
type Options struct {
	// Dir is the directory default config files are searched in. Defaults to the
	// working directory.
	Dir string
	// Stacks names extra router sets from the config's stacks section to enable.
	Stacks []string
}

// ParseStacks splits the --stack flag value into stack names.
func ParseStacks(value string) []string {
	var stacks []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			stacks = append(stacks, s)
		}
	}
	return stacks
}

// Loader loads an application definition. Every call reads the config from disk again.
type Loader func(ctx context.Context, configPath string, opts Options) (*App, error)

// Load reads, merges and validates the application config. It returns a new App on
// every successful call and never touches an App returned earlier.
func Load(ctx context.Context, configPath string, opts Options) (*App, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := resolvePath(configPath, opts.Dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read app config %s: %w", path, err)
	}

	// YAML is a superset of JSON, so one decoder covers every supported extension.
	var app App
	if err := yaml.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalid, path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve app config path: %w", err)
	}
	app.ConfigPath = absPath
	app.Root = filepath.Dir(absPath)
	if app.Name == "" {
		app.Name = filepath.Base(app.Root)
	}
	if app.CacheDir == "" {
		app.CacheDir = DefaultCacheDir
	}

	for _, name := range opts.Stacks {
		routers, ok := app.Stacks[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown stack %q", ErrInvalid, name)
		}
		app.Routers = append(app.Routers, routers...)
		app.Enabled = append(app.Enabled, name)
	}

	if err := app.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &app, nil
}

// resolvePath returns the config file to read. An explicit path must exist; otherwise
// the first existing default file in dir is used.
func resolvePath(configPath, dir string) (string, error) {
	if configPath != "" {
		if !filepath.IsAbs(configPath) && dir != "" {
			configPath = filepath.Join(dir, configPath)
		}
		return configPath, nil
	}
	for _, name := range DefaultFiles {
		candidate := name
		if dir != "" {
			candidate = filepath.Join(dir, name)
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to check %s: %w", candidate, err)
		}
	}
	return "", ErrNoConfig
}

// ResolvePath returns a router path relative to the application root as an absolute path.
func (a *App) ResolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.Root, p)
}
