package image

import (
	"context"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/urfave/cli/v3"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/cmdhelper"
	"github.com/wuxler/imgvault/pkg/commands/internal/options"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
)

// NewExistsCommand returns a command with default values.
func NewExistsCommand(common *options.CommonOptions) *ExistsCommand {
	return &ExistsCommand{Common: common, Format: formatText}
}

// ExistsCommand checks whether an image is stored.
type ExistsCommand struct {
	Common *options.CommonOptions
	ID     string
	Hash   string
	File   string
	Format string
}

// ToCLI transforms to a *cli.Command.
func (c *ExistsCommand) ToCLI() *cli.Command {
	return &cli.Command{
		Name:  "exists",
		Usage: "Check whether an image is stored, exits 1 when it is not",
		UsageText: `imgvault exists [OPTIONS] [FILE]

# Check by id
$ imgvault exists --id 3Qc9zTPm0vB

# Check by any digest the content ever had
$ imgvault exists --hash sha256:2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae

# Check whether the content of a local file is stored
$ imgvault exists cat.jpg
`,
		ArgsUsage: "[FILE]",
		Flags:     c.Flags(),
		Before:    cli.BeforeFunc(cmdhelper.MaximumNArgs(1)),
		Action:    c.Run,
	}
}

// Flags defines the flags related to the current command.
func (c *ExistsCommand) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "id",
			Usage:       "image id",
			Destination: &c.ID,
		},
		&cli.StringFlag{
			Name:        "hash",
			Usage:       "content digest as algorithm:hex",
			Destination: &c.Hash,
		},
		&cli.StringFlag{
			Name:        "file",
			Usage:       "local file whose content is looked up",
			Destination: &c.File,
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
func (c *ExistsCommand) Run(ctx context.Context, cmd *cli.Command) error {
	if c.File == "" {
		c.File = cmd.Args().First()
	}
	ctx, s, err := open(ctx, c.Common)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	q, err := c.query(s)
	if err != nil {
		return err
	}
	rec, err := s.adapter.Lookup(ctx, q)
	if err != nil {
		return err
	}
	return write(cmd.Root().Writer, c.Format, rec, func() string {
		return string(rec.ID) + "\t" + rec.Filename
	})
}

func (c *ExistsCommand) query(s *session) (backend.Query, error) {
	var q backend.Query
	if c.ID != "" {
		q.ID = contentaddr.ID(c.ID)
		if err := q.ID.Validate(); err != nil {
			return q, err
		}
	}
	if c.Hash != "" {
		d, err := digest.Parse(c.Hash)
		if err != nil {
			return q, errdefs.NewE(errdefs.ErrInvalidParameter, err)
		}
		q.Hashes = append(q.Hashes, d)
	}
	if c.File != "" {
		data, err := os.ReadFile(c.File)
		if err != nil {
			return q, err
		}
		addr, err := s.cfg.Addresser()
		if err != nil {
			return q, err
		}
		q.Hashes = append(q.Hashes, addr.Hash(data))
	}
	if q.ID == "" && len(q.Hashes) == 0 {
		return q, errdefs.Newf(errdefs.ErrInvalidParameter, "one of --id, --hash, --file or FILE is required")
	}
	return q, nil
}
