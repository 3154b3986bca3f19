// otcbot - Matrix bot for Open Telekom Cloud chores
//
// Joins rooms it is invited to and mirrors container images between
// registries on request.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/opentelekomcloud/otcbot/cmd/otcbot/internal"
	"github.com/opentelekomcloud/otcbot/cmd/otcbot/internal/configcmd"
	"github.com/opentelekomcloud/otcbot/cmd/otcbot/internal/run"
	"github.com/opentelekomcloud/otcbot/cmd/otcbot/internal/version"
)

func NewOtcbotCommand() *cobra.Command {
	short := "Matrix bot for registry image imports"

	cmd := &cobra.Command{
		Use:          "otcbot",
		Short:        short,
		Long:         short + "\n\nVersion: " + internal.FormatVersion(),
		Example:      "otcbot run --config /etc/otcbot/config.yaml",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&internal.ConfigFlag, "config", "c", "",
		"config file (default $OTCBOT_CONFIG or ./config.yaml)")

	cmd.AddCommand(
		run.NewRunCommand(),
		configcmd.NewConfigCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewOtcbotCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
