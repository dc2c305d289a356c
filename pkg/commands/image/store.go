package image

import (
	"context"
	"mime"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/imgvault/pkg/cmdhelper"
	"github.com/wuxler/imgvault/pkg/commands/internal/options"
	"github.com/wuxler/imgvault/pkg/ingest"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// NewStoreCommand returns a command with default values.
func NewStoreCommand(common *options.CommonOptions) *StoreCommand {
	return &StoreCommand{Common: common, Format: formatText}
}

// StoreCommand ingests local files.
type StoreCommand struct {
	Common *options.CommonOptions
	Name   string
	Format string
}

// ToCLI transforms to a *cli.Command.
func (c *StoreCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:  "store",
		Usage: "Store image files and print their ids",
		UsageText: `imgvault store [OPTIONS] FILE...

# Store two images into the default backend
$ imgvault store cat.jpg dog.png

# Store into a named backend and print json
$ imgvault --backend archive store --format json cat.jpg
`,
		ArgsUsage: "FILE...",
		Flags:     c.Flags(),
		Before:    cli.BeforeFunc(cmdhelper.ActionFuncChain(cmdhelper.MinimumNArgs(1), cmdhelper.ExistingFiles())),
		Action:    c.Run,
	}
}

// Flags defines the flags related to the current command.
func (c *StoreCommand) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "name",
			Usage:       "display name kept on the records, defaults to the file name",
			Destination: &c.Name,
		},
		&cli.StringFlag{
			Name:        "format",
			Aliases:     []string{"f"},
			Usage:       `output format, oneof ["text", "json"]`,
			Value:       c.Format,
			Destination: &c.Format,
		},
	}
}

// Run is the main function for the current command
func (c *StoreCommand) Run(ctx context.Context, cmd *cli.Command) error {
	ctx, s, err := open(ctx, c.Common)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	pipeline, err := s.cfg.NewPipeline(s.adapter)
	if err != nil {
		return err
	}
	for _, name := range cmd.Args().Slice() {
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		displayName := c.Name
		if displayName == "" {
			displayName = filepath.Base(name)
		}
		res, err := pipeline.Store(xlog.WithContext(ctx, "file", name), data, ingest.StoreOptions{
			ContentType: mime.TypeByExtension(filepath.Ext(name)),
			DisplayName: displayName,
		})
		if err != nil {
			return err
		}
		err = write(cmd.Root().Writer, c.Format, res, func() string {
			if res.Existed {
				return string(res.ID) + "\t" + res.Path + "\t(existed)"
			}
			return string(res.ID) + "\t" + res.Path
		})
		if err != nil {
			return err
		}
	}
	return nil
}
