// Package appconfig loads the application definition a development server is built from.
//
// An application is described by an app.config.yaml (or .yml/.json) file listing the
// routers mounted on the server. Each successful load produces a new *App; an App is
// never mutated after Load returns it.
package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrNoConfig is returned when no config path was given and no default file exists.
	ErrNoConfig = errors.New("no app config file found")
	// ErrInvalid wraps every validation failure of a config file.
	ErrInvalid = errors.New("invalid app config")
)

// RouterType identifies how a router serves requests under its base path.
type RouterType string

const (
	// RouterStatic serves files from a directory.
	RouterStatic RouterType = "static"
	// RouterProxy reverse-proxies to an already running upstream.
	RouterProxy RouterType = "proxy"
	// RouterService starts a command on an allocated port and proxies to it.
	RouterService RouterType = "service"
)

// Router is one mount point of the application.
type Router struct {
	Name       string            `yaml:"name"`
	Type       RouterType        `yaml:"type"`
	Base       string            `yaml:"base"`
	Dir        string            `yaml:"dir,omitempty"`
	Target     string            `yaml:"target,omitempty"`
	Command    string            `yaml:"command,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	HealthPath string            `yaml:"healthPath,omitempty"`
}

// App is the application definition consumed by the server instance factory.
type App struct {
	Name     string              `yaml:"name"`
	CacheDir string              `yaml:"cacheDir,omitempty"`
	Routers  []Router            `yaml:"routers"`
	Stacks   map[string][]Router `yaml:"stacks,omitempty"`

	// ConfigPath is the file the app was loaded from.
	ConfigPath string `yaml:"-"`
	// Root is the directory relative paths in the config are resolved against.
	Root string `yaml:"-"`
	// Enabled lists the stacks whose routers were merged into Routers.
	Enabled []string `yaml:"-"`
}

// DefaultCacheDir is used when the config does not name a cache directory.
const DefaultCacheDir = ".devhost/cache"

// ReservedBase is the path prefix the devtools endpoints are served under. No router
// may be mounted at or below it.
const ReservedBase = "/__devhost/"

// IsReserved reports whether base falls under ReservedBase.
func IsReserved(base string) bool {
	return strings.HasPrefix(strings.TrimSuffix(base, "/")+"/", ReservedBase)
}

// RoutersByBase returns the routers ordered so that longer base paths come first,
// which is the order they must be matched in.
func (a *App) RoutersByBase() []Router {
	routers := make([]Router, len(a.Routers))
	copy(routers, a.Routers)
	sort.SliceStable(routers, func(i, j int) bool {
		return len(routers[i].Base) > len(routers[j].Base)
	})
	return routers
}

// Router returns the router with the given name.
func (a *App) Router(name string) (Router, bool) {
	for _, r := range a.Routers {
		if r.Name == name {
			return r, true
		}
	}
	return Router{}, false
}

// Validate checks the routers of an app built in code. Load validates every app it
// returns.
func (a *App) Validate() error {
	if len(a.Routers) == 0 {
		return fmt.Errorf("%w: at least one router is required", ErrInvalid)
	}
	seen := make(map[string]bool, len(a.Routers))
	bases := make(map[string]string, len(a.Routers))
	for i, r := range a.Routers {
		if r.Name == "" {
			return fmt.Errorf("%w: router %d has no name", ErrInvalid, i)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate router name %q", ErrInvalid, r.Name)
		}
		seen[r.Name] = true
		if err := r.validate(); err != nil {
			return fmt.Errorf("%w: router %q: %v", ErrInvalid, r.Name, err)
		}
		if IsReserved(r.Base) {
			return fmt.Errorf("%w: router %q: base %q is reserved for devtools", ErrInvalid, r.Name, r.Base)
		}
		base := strings.TrimSuffix(r.Base, "/")
		if other, ok := bases[base]; ok {
			return fmt.Errorf("%w: routers %q and %q share base %q", ErrInvalid, other, r.Name, r.Base)
		}
		bases[base] = r.Name
	}
	return nil
}

func (r Router) validate() error {
	if err := validateBase(r.Base); err != nil {
		return err
	}
	switch r.Type {
	case RouterStatic:
		if r.Dir == "" {
			return fmt.Errorf("static router requires dir")
		}
	case RouterProxy:
		u, err := url.Parse(r.Target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy router requires an absolute target URL, got %q", r.Target)
		}
	case RouterService:
		if strings.TrimSpace(r.Command) == "" {
			return fmt.Errorf("service router requires command")
		}
		if r.HealthPath != "" && !strings.HasPrefix(r.HealthPath, "/") {
			return fmt.Errorf("healthPath %q must start with /", r.HealthPath)
		}
	default:
		return fmt.Errorf("unknown router type %q", r.Type)
	}
	return nil
}

// validateBase accepts "/" and clean absolute paths whose segments use only URL path
// characters that are literal in a ServeMux pattern.
func validateBase(base string) error {
	if !strings.HasPrefix(base, "/") {
		return fmt.Errorf("base %q must start with /", base)
	}
	trimmed := strings.TrimSuffix(base[1:], "/")
	if trimmed == "" {
		if base != "/" {
			return fmt.Errorf("base %q has an empty path segment", base)
		}
		return nil
	}
	for _, seg := range strings.Split(trimmed, "/") {
		switch seg {
		case "":
			return fmt.Errorf("base %q has an empty path segment", base)
		case ".", "..":
			return fmt.Errorf("base %q must not contain %q segments", base, seg)
		}
		for _, c := range seg {
			if !isBaseChar(c) {
				return fmt.Errorf("base %q contains invalid character %q", base, c)
			}
		}
	}
	return nil
}

func isBaseChar(c rune) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.ContainsRune("-._~!$&'()*+,;=:@", c)
}
