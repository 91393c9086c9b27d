package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexFlow/config"
	"github.com/dyike/CortexFlow/internal/debug"
)

const secretMask = "********"

// maskSecrets hides credentials so the config can be printed.
func maskSecrets(cfg config.Config) config.Config {
	for _, s := range []*string{&cfg.DeepSeekAPIKey, &cfg.MarketStatsAPIKey, &cfg.LongportAppSecret, &cfg.LongportAccessToken} {
		if *s != "" {
			*s = secretMask
		}
	}
	return cfg
}

// newConfigCmd creates the config command
func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Inspect and initialize the CortexFlow configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), maskSecrets(*cfg))
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and report optional integrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("directory validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			check := func(name string, ok bool, hint string) {
				if ok {
					fmt.Fprintf(out, "%s %s\n", completedStyle.Render("✓"), name)
					return
				}
				fmt.Fprintf(out, "%s %s %s\n", pendingStyle.Render("-"), name, labelStyle.Render("("+hint+")"))
			}
			check("LLM credentials", cfg.LLMProvider == "offline" || cfg.DeepSeekAPIKey != "", "set DEEPSEEK_API_KEY or llm_provider=offline")
			check("Live market statistics", cfg.MarketStatsURL != "", "set MARKET_STATS_URL; index estimates are used instead")
			check("Yahoo index proxy", len(cfg.YahooIndices) > 0, "no yahoo_indices configured")
			check("Longport index proxy", cfg.LongportAppKey != "" && cfg.LongportAppSecret != "" && cfg.LongportAccessToken != "", "set LONGPORT_APP_KEY, LONGPORT_APP_SECRET and LONGPORT_ACCESS_TOKEN")
			check("Shared progress cache", cfg.NATSURL != "", "set NATS_URL to share progress across processes")
			check("Job archive", cfg.ArchivePath != "", "set archive_path to keep finished jobs")
			check("Graph debugger", cfg.EinoDebug, "set EINO_DEBUG_ENABLED=true to inspect graphs at "+debug.DevopsURL)
			fmt.Fprintln(out, completedStyle.Render("Configuration is valid"))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the current environment configuration to the config file",
		Long:  "Create the config file (--config, or the user config directory) from the environment and .env. An existing file is left untouched.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			initial := config.DefaultConfig()
			mgr, err := config.NewManager(config.WithConfigPath(opts.configPath), config.WithInitialConfig(initial))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mgr.Path())
			return nil
		},
	})

	return configCmd
}
