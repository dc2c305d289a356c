// Package migrate defines the command copying images between backends.
package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/imgvault/pkg/cmdhelper"
	"github.com/wuxler/imgvault/pkg/commands/internal/options"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/migrate"
	"github.com/wuxler/imgvault/pkg/util/xio"
)

// New returns a command with default values.
func New(common *options.CommonOptions) *Command {
	return &Command{
		Common:   common,
		PageSize: migrate.DefaultPageSize,
		Format:   "text",
	}
}

// Command copies records from one configured backend into another.
type Command struct {
	Common          *options.CommonOptions
	From            string
	To              string
	Skip            int64
	Limit           int64
	PageSize        int64
	ID              string
	ContinueOnError bool
	Format          string
}

// ToCLI transforms to a *cli.Command.
func (c *Command) ToCLI() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Copy images between configured backends",
		UsageText: `imgvault migrate [OPTIONS] --to NAME

# Copy everything from the default backend into "archive"
$ imgvault migrate --to archive

# Resume a previous run at offset 1200, at most 500 images
$ imgvault migrate --from legacy --to archive --skip 1200 --limit 500

# Copy a single image
$ imgvault migrate --from legacy --to archive --id 3Qc9zTPm0vB
`,
		Flags:  c.Flags(),
		Before: cli.BeforeFunc(cmdhelper.NoArgs()),
		Action: c.Run,
	}
}

// Flags defines the flags related to the current command.
func (c *Command) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "from",
			Usage:       "source backend, defaults to the selected backend",
			Destination: &c.From,
		},
		&cli.StringFlag{
			Name:        "to",
			Usage:       "destination backend",
			Required:    true,
			Destination: &c.To,
		},
		&cli.IntFlag{
			Name:        "skip",
			Usage:       "offset of the first record, oldest first",
			Destination: &c.Skip,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "stop after this many migrated records, 0 means all",
			Destination: &c.Limit,
		},
		&cli.IntFlag{
			Name:        "page-size",
			Usage:       "records listed per source page",
			Value:       c.PageSize,
			Destination: &c.PageSize,
		},
		&cli.StringFlag{
			Name:        "id",
			Usage:       "migrate only this image",
			Destination: &c.ID,
		},
		&cli.BoolFlag{
			Name:        "continue-on-error",
			Usage:       "keep going after failed records instead of stopping at the end of the page",
			Destination: &c.ContinueOnError,
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
func (c *Command) Run(ctx context.Context, cmd *cli.Command) error {
	ctx, cfg, err := c.Common.Setup(ctx)
	if err != nil {
		return err
	}
	from := c.From
	if from == "" {
		from = cfg.Backend
	}
	if from == c.To {
		return errdefs.Newf(errdefs.ErrInvalidParameter, "source and destination are both %q", from)
	}

	source, err := cfg.OpenBackend(ctx, from)
	if err != nil {
		return err
	}
	defer xio.CloseAndLogError(ctx, source, "close source backend", from)
	dest, err := cfg.OpenBackend(ctx, c.To)
	if err != nil {
		return err
	}
	defer xio.CloseAndLogError(ctx, dest, "close destination backend", c.To)

	pipeline, err := cfg.NewPipeline(dest)
	if err != nil {
		return err
	}
	job, err := migrate.New(source, pipeline)
	if err != nil {
		return err
	}
	report, runErr := job.Run(ctx, migrate.Options{
		PageSize:        int(c.PageSize),
		Skip:            int(c.Skip),
		Limit:           int(c.Limit),
		ID:              contentaddr.ID(c.ID),
		ContinueOnError: c.ContinueOnError,
	})
	if report != nil {
		if err := c.print(cmd, report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d records failed, resume with --skip %d",
			report.Failed, report.Failed+report.Migrated, report.ResumeOffset)
	}
	return nil
}

func (c *Command) print(cmd *cli.Command, report *migrate.Report) error {
	if strings.EqualFold(c.Format, "json") {
		data, err := cmdhelper.PrettifyJSON(report)
		if err != nil {
			return err
		}
		cmdhelper.Fprintf(cmd.Root().Writer, "%s", data)
		return nil
	}
	for _, item := range report.Items {
		switch {
		case item.Error != "":
			cmdhelper.Fprintf(cmd.Root().Writer, "%d\t%s\tFAILED\t%s", item.Offset, item.ID, item.Error)
		case item.Existed:
			cmdhelper.Fprintf(cmd.Root().Writer, "%d\t%s\t%s\t(existed)", item.Offset, item.ID, item.NewID)
		default:
			cmdhelper.Fprintf(cmd.Root().Writer, "%d\t%s\t%s", item.Offset, item.ID, item.NewID)
		}
	}
	cmdhelper.Fprintf(cmd.Root().Writer, "migrated %d, failed %d, total %d, resume offset %d, took %s",
		report.Migrated, report.Failed, report.Total, report.ResumeOffset, report.Duration)
	return nil
}
