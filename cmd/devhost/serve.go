package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/devhost/appconfig"
	"github.com/tomyedwab/devhost/devserver"
)

type serveFlags struct {
	dir  string
	base string
	port int
	host bool
}

func newServeCmd(c *cli) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a static directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context(), flags, cmd.Flags().Changed("port"))
		},
	}
	cmd.Flags().StringVar(&flags.dir, "dir", "", "Directory to serve (default: current directory)")
	cmd.Flags().StringVar(&flags.base, "base", "/", "Base path")
	cmd.Flags().IntVar(&flags.port, "port", 3000, "Port to listen on")
	cmd.Flags().BoolVar(&flags.host, "host", false, "Expose the server on the network")
	return cmd
}

// staticApp describes a single static router serving dir under base.
func staticApp(root, dir, base string) *appconfig.App {
	if dir == "" {
		dir = root
	}
	if base == "" {
		base = "/"
	}
	return &appconfig.App{
		Name: filepath.Base(root),
		Root: root,
		Routers: []appconfig.Router{{
			Name: "static",
			Type: appconfig.RouterStatic,
			Base: base,
			Dir:  dir,
		}},
	}
}

func (c *cli) runServe(ctx context.Context, flags serveFlags, portSet bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	app := staticApp(cwd, flags.dir, flags.base)
	if err := app.Validate(); err != nil {
		return err
	}
	srv, err := devserver.New(ctx, app, devserver.Options{
		Port:   c.env.ResolvePort(flags.port, portSet),
		Host:   flags.host,
		Output: c.stdout,
		Logger: c.logger,
	})
	if err != nil {
		return err
	}
	listener, err := srv.Listen(ctx)
	if err != nil {
		return err
	}
	listener.ShowURL()

	<-ctx.Done()
	c.logger.Info("Shutting down static server")
	return srv.Close(context.Background())
}
