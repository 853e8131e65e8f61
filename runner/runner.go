// Package runner runs a production build of the app locally, for the start and deploy
// commands. The built server entry is launched through processes.Runner with its
// output forwarded, and stopped when the context ends.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/tomyedwab/devhost/preset"
	"github.com/tomyedwab/devhost/processes"
)

// Entry is the server entry point produced by a build, relative to the app root.
const Entry = ".output/server/index.mjs"

// DefaultPort is exported as PORT when neither the flag nor the environment sets one.
const DefaultPort = 3000

// DefaultHost is exported as HOST when the environment does not set one. A built server
// always binds every interface.
const DefaultHost = "0.0.0.0"

// Mode selects how the preset is resolved.
type Mode int

const (
	// ModeStart falls back to runtime detection.
	ModeStart Mode = iota
	// ModeDeploy falls back to node-server directly.
	ModeDeploy
)

func (m Mode) String() string {
	switch m {
	case ModeStart:
		return "start"
	case ModeDeploy:
		return "deploy"
	default:
		return "unknown"
	}
}

// DefaultCommands maps the presets that can run locally to their shell command lines.
var DefaultCommands = map[string]string{
	preset.NodeServer: "node " + Entry,
	preset.Bun:        "bun run " + Entry,
}

// Options configure Run.
type Options struct {
	Mode   Mode
	Preset string // explicit --preset, empty when not given
	Port   int    // --port, zero when not given
	Dir    string // app root, empty for the working directory

	// Env is consulted for the preset cascade and the variables already set. Defaults to
	// the process environment.
	Env preset.Env
	// Commands overrides DefaultCommands.
	Commands map[string]string

	Stdout io.Writer
	Stderr io.Writer

	Runner *processes.Runner
	Logger *slog.Logger
}

// ResolvePreset returns the effective preset for the mode. SERVER_PRESET already set in
// the environment decides the preset, even over --preset; otherwise the cascade for the
// mode applies and its result is exported to the server.
func (o Options) ResolvePreset() string {
	env := o.env()
	if p, ok := env.LookupEnv("SERVER_PRESET"); ok {
		return p
	}
	if o.Mode == ModeDeploy {
		return preset.ResolveDeploy(o.Preset, env)
	}
	return preset.Resolve(o.Preset, env)
}

// ChildEnv returns the KEY=VALUE pairs exported to the server. Variables the
// environment already sets are left alone, so PORT and HOST from the environment win
// over --port.
func (o Options) ChildEnv(p string) []string {
	env := o.env()
	port := o.Port
	if port == 0 {
		port = DefaultPort
	}
	defaults := []struct{ key, value string }{
		{"PORT", strconv.Itoa(port)},
		{"HOST", DefaultHost},
		{"SERVER_PRESET", p},
	}
	var out []string
	for _, d := range defaults {
		if _, ok := env.LookupEnv(d.key); ok {
			continue
		}
		out = append(out, d.key+"="+d.value)
	}
	return out
}

func (o Options) env() preset.Env {
	if o.Env == nil {
		return preset.OSEnv{}
	}
	return o.Env
}

func (o Options) commands() map[string]string {
	if o.Commands == nil {
		return DefaultCommands
	}
	return o.Commands
}

// Run starts the built server and blocks until it exits or ctx is done, in which case
// the server is stopped. A preset that cannot run locally is reported on Stdout and is
// not an error.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "runner", "mode", opts.Mode.String())
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	pr := opts.Runner
	if pr == nil {
		pr = processes.NewRunner(processes.DefaultConfig(), logger)
	}

	p := opts.ResolvePreset()
	command, ok := opts.commands()[p]
	if !ok {
		fmt.Fprintf(stdout, "Couldn't run an app built with the %s preset locally. Deploy the app to a provider that supports it.\n", p)
		return nil
	}

	logger.Info("Running built app", "preset", p, "entry", Entry)
	mp, err := pr.Start(ctx, processes.Spec{
		Name:    "server",
		Command: command,
		Dir:     opts.Dir,
		Env:     opts.ChildEnv(p),
	}, stdout, stderr)
	if err != nil {
		return err
	}

	select {
	case <-mp.Done():
		if err := mp.ExitErr(); err != nil {
			return fmt.Errorf("server exited: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Stopping server")
		return pr.Stop(context.Background(), mp)
	}
}
