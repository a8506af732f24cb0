// Package cmd implements the sniper command-line interface.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	infraconfig "github.com/jonesrussell/north-cloud/sniper/infrastructure/config"
	"github.com/jonesrussell/north-cloud/sniper/internal/config"
)

// Version is set at build time with -ldflags.
var Version = "dev"

const envPrefix = "SNIPER"

// NewRootCommand builds the command tree. Flags bind to SNIPER_CONFIG,
// SNIPER_DEBUG and SNIPER_LOG_LEVEL through viper.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "sniper",
		Short:         "Guardrail and scheduling engine for outreach automation",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("config", "", "config file (default $CONFIG_PATH or ./config.yml)")
	root.PersistentFlags().Bool("debug", false, "enable debug mode")
	root.PersistentFlags().String("log-level", "", "override logging.level")
	_ = v.BindPFlags(root.PersistentFlags())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	load := func() (*config.Config, error) {
		return loadConfig(v)
	}

	root.AddCommand(
		newServeCommand(load),
		newMigrateCommand(load),
		newEvaluateCommand(load),
		newUsageCommand(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "sniper version %s\n", Version)
			},
		},
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	_ = godotenv.Load()
	return NewRootCommand().ExecuteContext(context.Background())
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString("config")
	if path == "" {
		path = infraconfig.GetConfigPath("config.yml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v.GetBool("debug") {
		cfg.Debug = true
	}
	if level := v.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
		if err = cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
