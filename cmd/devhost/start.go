package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/devhost/preset"
	"github.com/tomyedwab/devhost/processes"
	"github.com/tomyedwab/devhost/runner"
)

type runFlags struct {
	preset string
	port   int
}

func newStartCmd(c *cli) *cobra.Command {
	return newRunCmd(c, runner.ModeStart, "start", "Run the built app locally")
}

func newDeployCmd(c *cli) *cobra.Command {
	return newRunCmd(c, runner.ModeDeploy, "deploy", "Run the built app the way a deployment target would")
}

func newRunCmd(c *cli, mode runner.Mode, use, short string) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

The server entry .output/server/index.mjs is started with PORT, HOST and SERVER_PRESET
exported unless they are already set, so the environment wins over --port and a built
server binds 0.0.0.0 unless HOST says otherwise. SERVER_PRESET, when set, also wins
over --preset. Only the node-server and bun presets run locally.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBuilt(cmd.Context(), mode, flags)
		},
	}
	cmd.Flags().StringVar(&flags.preset, "preset", "", "Server preset (default: node-server)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "Port to listen on (default: 3000)")
	return cmd
}

func (c *cli) runBuilt(ctx context.Context, mode runner.Mode, flags runFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runner.Run(ctx, runner.Options{
		Mode:   mode,
		Preset: flags.preset,
		Port:   flags.port,
		Env:    preset.OSEnv{},
		Stdout: c.stdout,
		Stderr: c.stderr,
		Runner: processes.NewRunner(processes.DefaultConfig(), c.logger),
		Logger: c.logger,
	})
}
