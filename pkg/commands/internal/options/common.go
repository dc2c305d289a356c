package options

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/imgvault/pkg/config"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// CommonFlagCategory is the category of the flags shared by all commands.
const CommonFlagCategory = "[Common]"

// NewCommonOptions returns a *CommonOptions with default values.
func NewCommonOptions() *CommonOptions {
	return &CommonOptions{}
}

// CommonOptions are options that are common to all commands.
type CommonOptions struct {
	ConfigFile string `json:"config,omitempty" yaml:"config,omitempty"`
	LogLevel   string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	Backend    string `json:"backend,omitempty" yaml:"backend,omitempty"`
	Debug      bool   `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// Flags returns the []cli.Flag related to current options.
func (o *CommonOptions) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path of the yaml configuration file",
			Sources:     cli.EnvVars("IMGVAULT_CONFIG"),
			Destination: &o.ConfigFile,
			Category:    CommonFlagCategory,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       `log level, oneof ["debug", "info", "warn", "error"]`,
			Sources:     cli.EnvVars("IMGVAULT_LOG_LEVEL"),
			Destination: &o.LogLevel,
			Category:    CommonFlagCategory,
		},
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "name of the configured backend to use",
			Sources:     cli.EnvVars("IMGVAULT_BACKEND"),
			Destination: &o.Backend,
			Category:    CommonFlagCategory,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Aliases:     []string{"d"},
			Usage:       "enable debug mode, same as --log-level=debug",
			Sources:     cli.EnvVars("IMGVAULT_DEBUG"),
			Destination: &o.Debug,
			Category:    CommonFlagCategory,
		},
	}
}

// LoadConfig reads the configuration file, or the defaults when no file is
// given, and applies the flag overrides.
func (o *CommonOptions) LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(o.ConfigFile)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.Debug {
		cfg.Log.Level = slog.LevelDebug.String()
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	return cfg, nil
}

// Setup loads the configuration and installs the default logger built from
// it. The returned context carries the logger.
func (o *CommonOptions) Setup(ctx context.Context) (context.Context, *config.Config, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return ctx, nil, err
	}
	lc, err := cfg.XLog()
	if err != nil {
		return ctx, nil, err
	}
	xlog.SetDefault(xlog.New(lc))
	return xlog.WithContext(ctx), cfg, nil
}
