package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/imap2slack/config"
	"github.com/dhcgn/imap2slack/runner"
)

// NewValidateCmd checks config.toml and filters.toml without connecting.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and filters without polling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}
			set, err := runner.Preflight(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d publish rules, %d filters (%s)\n",
				len(cfg.Publish), set.Len(), cfg.Dir)
			return nil
		},
	}
}
