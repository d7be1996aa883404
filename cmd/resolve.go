package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"vidsync/services"
)

func newResolveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url>",
		Short: "Print the items behind a playlist or video URL as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, log, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			listing, err := services.NewLister(mgr, log).Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(listing)
		},
	}
}
