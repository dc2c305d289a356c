package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/wuxler/imgvault/pkg/commands/image"
	"github.com/wuxler/imgvault/pkg/commands/internal/options"
	"github.com/wuxler/imgvault/pkg/commands/migrate"
	"github.com/wuxler/imgvault/pkg/commands/server"
)

// AppName is the name of the root command.
const AppName = "imgvault"

// NewRootCommand returns the root command with all sub-commands attached.
func NewRootCommand() *cli.Command {
	common := options.NewCommonOptions()
	return &cli.Command{
		Name:                  AppName,
		Usage:                 "imgvault is a content addressable image store",
		Suggest:               true,
		EnableShellCompletion: true,
		HideVersion:           true,
		HideHelpCommand:       true,
		Flags:                 common.Flags(),
		Commands: []*cli.Command{
			NewVersionCommand().ToCLI(),
			server.New(common).ToCLI(),
			image.NewStoreCommand(common).ToCLI(),
			image.NewExistsCommand(common).ToCLI(),
			image.NewFetchCommand(common).ToCLI(),
			image.NewDeleteCommand(common).ToCLI(),
			migrate.New(common).ToCLI(),
		},
	}
}
