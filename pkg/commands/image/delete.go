package image

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/imgvault/pkg/cmdhelper"
	"github.com/wuxler/imgvault/pkg/commands/internal/options"
	"github.com/wuxler/imgvault/pkg/contentaddr"
)

// NewDeleteCommand returns a command with default values.
func NewDeleteCommand(common *options.CommonOptions) *DeleteCommand {
	return &DeleteCommand{Common: common}
}

// DeleteCommand removes an image and its cached derivatives.
type DeleteCommand struct {
	Common *options.CommonOptions
}

// ToCLI transforms to a *cli.Command.
func (c *DeleteCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete an image and purge its cached derivatives",
		UsageText: `imgvault delete ID`,
		ArgsUsage: "ID",
		Before:    cli.BeforeFunc(cmdhelper.ExactArgs(1)),
		Action:    c.Run,
	}
}

// Run is the main function for the current command
func (c *DeleteCommand) Run(ctx context.Context, cmd *cli.Command) error {
	id := contentaddr.ID(cmd.Args().First())
	if err := id.Validate(); err != nil {
		return err
	}
	ctx, s, err := open(ctx, c.Common)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	if err := s.adapter.Delete(ctx, id); err != nil {
		return err
	}
	cache, err := s.cfg.NewDerivativeCache(s.adapter, nil)
	if err != nil {
		return err
	}
	purged, err := cache.Purge(ctx, id)
	if err != nil {
		return err
	}
	cmdhelper.Fprintf(cmd.Root().Writer, "deleted %s, purged %d cached files", id, purged)
	return nil
}
