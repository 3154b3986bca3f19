package configcmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opentelekomcloud/otcbot/cmd/otcbot/internal"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newCheckCommand(), newImagesCommand())
	return cmd
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d images, homeserver %s)\n",
				internal.GetConfigPath(), len(cfg.Images()), cfg.Matrix.Homeserver)
			return nil
		},
	}
}

func newImagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "images",
		Short: "List the registry image mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			images := cfg.Images()
			if len(images) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "registry.images is empty.")
				return nil
			}

			keys := make([]string, 0, len(images))
			for key := range images {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "IMAGE\tUPSTREAM\tDOWNSTREAM")
			for _, key := range keys {
				fmt.Fprintf(w, "%s\t%s\t%s\n", key, images[key].Upstream, images[key].Downstream)
			}
			return w.Flush()
		},
	}
}
