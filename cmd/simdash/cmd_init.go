package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/safesim/simdash/internal/config"
)

func newInitCmd(opts *options) *cobra.Command {
	var (
		project bool
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.Exists() && !force {
				return fmt.Errorf("a config file already exists, use --force to overwrite it")
			}

			cfg := config.DefaultConfig()
			if opts.server != "" {
				cfg.ServerURL = opts.server
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			if opts.noJournal {
				cfg.JournalEnabled = false
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}

			save, where := config.SaveToGlobal, "~/.simdash/config.yaml"
			if project {
				save, where = config.SaveToProject, ".simdash/config.yaml"
			}
			if err := save(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (server %s)\n", where, cfg.ServerURL)
			return nil
		},
	}
	cmd.Flags().BoolVar(&project, "project", false, "write to ./.simdash instead of the home directory")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}
