package image

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/wuxler/imgvault/pkg/cmdhelper"
	"github.com/wuxler/imgvault/pkg/commands/internal/options"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xfs"
	"github.com/wuxler/imgvault/pkg/util/xio"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// NewFetchCommand returns a command with default values.
func NewFetchCommand(common *options.CommonOptions) *FetchCommand {
	return &FetchCommand{Common: common}
}

// FetchCommand resolves a derivative path like the server does.
type FetchCommand struct {
	Common *options.CommonOptions
	Output string
}

// ToCLI transforms to a *cli.Command.
func (c *FetchCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Resolve a derivative path and write its content",
		UsageText: `imgvault fetch [OPTIONS] PATH

# Write a 200px thumbnail to a file
$ imgvault fetch -o thumb.jpg s200/3Q/c9/zTPm0vB.jpg

# Write the original to stdout
$ imgvault fetch orig/3Q/c9/zTPm0vB.jpg > original.jpg
`,
		ArgsUsage: "PATH",
		Flags:     c.Flags(),
		Before:    cli.BeforeFunc(cmdhelper.ExactArgs(1)),
		Action:    c.Run,
	}
}

// Flags defines the flags related to the current command.
func (c *FetchCommand) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "file to write, defaults to stdout",
			Destination: &c.Output,
		},
	}
}

// Run is the main function for the current command
func (c *FetchCommand) Run(ctx context.Context, cmd *cli.Command) error {
	ctx, s, err := open(ctx, c.Common)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	cache, err := s.cfg.NewDerivativeCache(s.adapter, nil)
	if err != nil {
		return err
	}
	requestPath := cmd.Args().First()
	r, res, err := cache.Open(ctx, requestPath)
	var moved *errdefs.MovedError
	if errors.As(err, &moved) {
		cmdhelper.Fprintf(cmd.Root().ErrWriter, "%s moved to %s", requestPath, moved.Location)
		r, res, err = cache.Open(ctx, moved.Location)
	}
	if err != nil {
		return err
	}
	defer xio.CloseAndSkipError(r)
	xlog.C(ctx).Debug("resolved", "path", res.CanonicalPath, "mime", res.MIME)

	if c.Output == "" {
		_, err = io.Copy(cmd.Root().Writer, r)
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return xfs.WriteFileAtomic(afero.NewOsFs(), c.Output, data, 0o644)
}
