package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/devhost/appconfig"
	"github.com/tomyedwab/devhost/devserver"
	"github.com/tomyedwab/devhost/devtools"
	"github.com/tomyedwab/devhost/history"
	"github.com/tomyedwab/devhost/keypress"
	"github.com/tomyedwab/devhost/metrics"
	"github.com/tomyedwab/devhost/orchestrator"
	"github.com/tomyedwab/devhost/preset"
	"github.com/tomyedwab/devhost/processes"
	"github.com/tomyedwab/devhost/supervisor"
	"github.com/tomyedwab/devhost/watcher"
)

type devFlags struct {
	config   string
	force    bool
	devtools bool
	port     int
	host     bool
	stack    string
	preset   string
}

func newDevCmd(c *cli) *cobra.Command {
	var flags devFlags
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development server",
		Long: `Start the development server and restart it whenever the app config changes.

While it runs, press r to restart, u to show the server URL, h for help and q to quit.
If no valid app config exists yet, devhost waits for one to appear.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDev(cmd.Context(), flags, cmd.Flags().Changed("port"))
		},
	}
	cmd.Flags().StringVar(&flags.config, "config", "", "Path to the app config file (default: app.config.yaml)")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Clear the dependency cache before starting")
	cmd.Flags().BoolVar(&flags.devtools, "devtools", false, "Enable the devtools endpoints")
	cmd.Flags().IntVar(&flags.port, "port", 3000, "Port to listen on")
	cmd.Flags().BoolVar(&flags.host, "host", false, "Expose the server on the network")
	cmd.Flags().StringVarP(&flags.stack, "stack", "s", "", "Comma-separated stacks to enable")
	cmd.Flags().StringVar(&flags.preset, "preset", "", "Server preset (default: node-server)")
	return cmd
}

func (c *cli) runDev(ctx context.Context, flags devFlags, portSet bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	logger := c.logger

	var journal *history.Journal
	if c.env.HistoryEnabled() {
		journal, err = history.Open(c.env.HistoryPath)
		if err != nil {
			logger.Warn("History disabled", "path", c.env.HistoryPath, "error", err)
			journal = nil
		} else {
			defer journal.Close()
		}
	}

	ports, err := processes.NewPortManager(processes.DefaultMinPort, processes.DefaultMaxPort)
	if err != nil {
		return err
	}
	m := metrics.New()
	devtoolsOn := flags.devtools || c.env.DevtoolsEnabled()

	// orch is assigned below; the devtools restart endpoint only fires once it runs.
	var orch *orchestrator.Orchestrator
	opts := devserver.Options{
		Force:    flags.force,
		Devtools: devtoolsOn,
		Port:     c.env.ResolvePort(flags.port, portSet),
		Host:     flags.host,
		Metrics:  m.Handler(),
		Ports:    ports,
		Runner:   processes.NewRunner(processes.DefaultConfig(), logger),
		Output:   c.stdout,
		Logger:   logger,
	}
	if devtoolsOn {
		tokens, err := devtools.NewTokenIssuer(c.env.TokenTTL)
		if err != nil {
			return err
		}
		token, err := tokens.Issue(devtools.ScopeRestart)
		if err != nil {
			return err
		}
		opts.Tokens = tokens
		opts.Trigger = func() {
			// Never block a request handler on the event loop.
			go func() {
				if err := orch.Trigger(); err != nil {
					logger.Warn("Restart request dropped", "error", err)
				}
			}()
		}
		fmt.Fprintf(c.stdout, "  ➜ Devtools restart token: %s\n", token)
	}

	sup := supervisor.New(supervisor.Config{
		Factory: devserver.NewInstance,
		Preset:  preset.Resolver(flags.preset, preset.OSEnv{}),
		Options: opts,
		Metrics: m,
		Journal: journal,
		Logger:  logger,
	})

	keys := keypress.New(os.Stdin, keypress.Options{
		Out:    c.stdout,
		OnRaw:  c.setRaw,
		Logger: logger,
	})

	orch = orchestrator.New(orchestrator.Config{
		ConfigPath: flags.config,
		LoadOptions: appconfig.Options{
			Dir:    cwd,
			Stacks: appconfig.ParseStacks(flags.stack),
		},
		Supervisor: sup,
		NewWatcher: func(mode watcher.Mode) (orchestrator.Watcher, error) {
			w, err := watcher.New(cwd, watcher.DefaultPatterns(flags.config), mode, logger)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		Keys:    keys,
		Metrics: m,
		Journal: journal,
		Logger:  logger,
	})
	return orch.Run(ctx)
}
