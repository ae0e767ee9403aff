// Package command is the cobra command tree for the parley demo binary. The
// demo drives the collection synchronizer against the in-process simsdk
// server, so every layer of the library runs end to end from a terminal.
package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "parley"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Parley - chat data core demo",
		Long:          "Parley demonstrates the chat message data core against a simulated chat SDK.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "path to a TOML config file")
	cmd.PersistentFlags().Bool("debug", false, "verbose development logging")

	cmd.AddCommand(
		NewChatCmd(),
		NewSeedCmd(),
		NewConfigCmd(),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}
