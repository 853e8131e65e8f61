// Command devhost runs application development servers: a supervised dev server with
// config reload, the built production server, and a static file server.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/devhost/config"
	"github.com/tomyedwab/devhost/logging"
)

var version = "dev"

// cli is the state shared by every subcommand, filled in before any of them runs.
type cli struct {
	env    *config.Env
	logger *slog.Logger
	stdout *logging.TerminalWriter
	stderr *logging.TerminalWriter
}

func newRootCmd() *cobra.Command {
	c := &cli{
		stdout: logging.NewTerminalWriter(os.Stdout),
		stderr: logging.NewTerminalWriter(os.Stderr),
	}

	root := &cobra.Command{
		Use:           "devhost",
		Short:         "Develop, build and serve multi-router web applications",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(c.stderr, env.LogLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			c.env, c.logger = env, logger
			return nil
		},
	}

	root.AddCommand(
		newDevCmd(c),
		newStartCmd(c),
		newDeployCmd(c),
		newServeCmd(c),
		newHistoryCmd(c),
	)
	return root
}

// setRaw tells both terminal writers about raw mode.
func (c *cli) setRaw(raw bool) {
	c.stdout.SetRaw(raw)
	c.stderr.SetRaw(raw)
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("devhost failed", "error", err)
		os.Exit(1)
	}
}
