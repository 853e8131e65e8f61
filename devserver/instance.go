// Package devserver builds the HTTP server instances a development session runs: one
// instance per app definition, mounting every router of the app on a single port.
package devserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/tomyedwab/devhost/appconfig"
	"github.com/tomyedwab/devhost/devtools"
	"github.com/tomyedwab/devhost/processes"
)

// Instance is a server built from one app definition. Listen binds the port and starts
// serving; Close releases the port and everything the instance started.
type Instance interface {
	Listen(ctx context.Context) (Listener, error)
	Close(ctx context.Context) error
}

// Listener is the bound socket of a listening instance.
type Listener interface {
	// ShowURL prints the addresses the instance can be reached at.
	ShowURL()
	// URL returns the local address, e.g. http://localhost:3000.
	URL() string
}

// Identified is implemented by instances that carry an ID.
type Identified interface {
	ID() string
}

// Factory creates an instance from an app definition without binding its port.
type Factory func(ctx context.Context, app *appconfig.App, opts Options) (Instance, error)

// Options are the per-restart settings an instance is created with.
type Options struct {
	// Force clears the app cache directory before the instance is built.
	Force bool
	// Devtools mounts the /__devhost/ endpoints.
	Devtools bool
	// Port is the port Listen binds. 0 picks a free port.
	Port int
	// Host exposes the server on all interfaces instead of localhost.
	Host bool
	// Preset is handed to service routers as SERVER_PRESET.
	Preset string

	// Process-wide collaborators shared by every instance.
	Metrics http.Handler
	Trigger func()
	Tokens  *devtools.TokenIssuer
	Ports   *processes.PortManager
	Runner  *processes.Runner
	// Output receives ShowURL text. Defaults to stdout.
	Output io.Writer
	Logger *slog.Logger
}

// NewInstance is a Factory backed by New.
func NewInstance(ctx context.Context, app *appconfig.App, opts Options) (Instance, error) {
	return New(ctx, app, opts)
}
