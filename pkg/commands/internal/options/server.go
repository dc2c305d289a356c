package options

import (
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/imgvault/pkg/config"
)

// ServerFlagCategory is the category of the server flags.
const ServerFlagCategory = "[Server]"

// NewServerOptions returns a new *ServerOptions with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{}
}

// ServerOptions defines the options for the server. Zero values keep the
// configured ones.
type ServerOptions struct {
	// Port is the port for the server to listen on.
	Port int64

	// Host is the host for the server to listen on.
	Host string
}

// Flags returns the []cli.Flag related to current options.
func (o *ServerOptions) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "port",
			Aliases:     []string{"p"},
			Usage:       "port to listen on, overrides server.port",
			Sources:     cli.EnvVars("IMGVAULT_SERVER_PORT"),
			Value:       o.Port,
			Destination: &o.Port,
			Category:    ServerFlagCategory,
		},
		&cli.StringFlag{
			Name:        "host",
			Usage:       "host to listen on, overrides server.host",
			Sources:     cli.EnvVars("IMGVAULT_SERVER_HOST"),
			Value:       o.Host,
			Destination: &o.Host,
			Category:    ServerFlagCategory,
		},
	}
}

// Apply writes the options set on the command line into cfg.
func (o *ServerOptions) Apply(cfg *config.Config) {
	if o.Host != "" {
		cfg.Server.Host = o.Host
	}
	if o.Port > 0 {
		cfg.Server.Port = int(o.Port)
	}
}

// Address returns the server address of cfg formatted as host:port.
func Address(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
}
