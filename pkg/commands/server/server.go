// Package server defines the command serving the image store over HTTP.
package server

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/imgvault/pkg/cmdhelper"
	"github.com/wuxler/imgvault/pkg/commands/internal/options"
	"github.com/wuxler/imgvault/pkg/server"
	"github.com/wuxler/imgvault/pkg/util/xio"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// New creates a new ServerCommand.
func New(common *options.CommonOptions) *Command {
	return &Command{
		Common:        common,
		ServerOptions: options.NewServerOptions(),
	}
}

// Command is a command to start the server.
type Command struct {
	Common        *options.CommonOptions
	ServerOptions *options.ServerOptions
}

// ToCLI transforms to a *cli.Command.
func (c *Command) ToCLI() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"srv"},
		Usage:   "Start the server in service mode",
		UsageText: `imgvault server [OPTIONS]

# Start the server with the configured address, 127.0.0.1:8080 by default
$ imgvault server

# Start the server with a configuration file and a custom port
$ imgvault --config imgvault.yaml server --port 9000
`,
		Flags:  c.Flags(),
		Before: cli.BeforeFunc(cmdhelper.NoArgs()),
		Action: c.Run,
	}
}

// Flags defines the flags related to the current command.
func (c *Command) Flags() []cli.Flag {
	flags := []cli.Flag{}
	flags = append(flags, c.ServerOptions.Flags()...)
	return flags
}

// Run is the main function for the current command
func (c *Command) Run(ctx context.Context, cmd *cli.Command) error {
	ctx, cfg, err := c.Common.Setup(ctx)
	if err != nil {
		return err
	}
	c.ServerOptions.Apply(cfg)

	adapter, err := cfg.OpenBackend(ctx, "")
	if err != nil {
		return err
	}
	defer xio.CloseAndLogError(ctx, adapter, "close backend", adapter.Name())

	pipeline, err := cfg.NewPipeline(adapter)
	if err != nil {
		return err
	}
	cache, err := cfg.NewDerivativeCache(adapter, nil)
	if err != nil {
		return err
	}
	srv := server.New(pipeline, cache, server.Options{
		MaxUploadSize:   int64(cfg.Server.MaxUploadSize),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	address := options.Address(cfg)
	xlog.C(ctx).Info("starting server", "address", address, "backend", adapter.Name())
	cmdhelper.Fprintf(cmd.Root().Writer, "Server started at http://%s\n", address)
	cmdhelper.Fprintf(cmd.Root().Writer, "Press Ctrl+C to stop the server\n")
	return srv.Run(ctx, address)
}
