// Package cmd implements the vidsync command-line interface.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"vidsync/config"
)

// Version is set at build time with -ldflags "-X vidsync/cmd.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
	version    string
}

// Execute runs the root command
func Execute() error {
	return newRootCommand().ExecuteContext(context.Background())
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{version: Version}
	root := &cobra.Command{
		Use:           "vidsync",
		Short:         "Keep local copies of remote video playlists in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.Path("config.yaml"),
		"configuration file (env CONFIG_PATH)")

	root.AddCommand(
		newServeCommand(opts),
		newSyncCommand(opts),
		newResolveCommand(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "vidsync version %s\n", opts.version)
			},
		},
	)
	return root
}
