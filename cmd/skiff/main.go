package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skiffbot/skiff/pkg/config"
	"github.com/skiffbot/skiff/pkg/logger"

	// Provider packages register themselves with the factory.
	_ "github.com/skiffbot/skiff/pkg/providers/anthropic"
	_ "github.com/skiffbot/skiff/pkg/providers/openai"
)

var version = "dev"

var (
	flagConfig string
	flagDebug  bool
)

func main() {
	root := &cobra.Command{
		Use:     "skiff",
		Short:   "skiff is a conversational AI agent runtime",
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				logger.SetLevel(logger.DEBUG)
			}
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultConfigPath(), "config file path")
	root.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug logging")

	root.AddCommand(
		newAgentCmd(),
		newGatewayCmd(),
		newSessionsCmd(),
		newCronCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig never fails: a broken or unreadable config file is reported
// and the returned defaults are used instead.
func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		logger.WarnCF("config", "Failed to load config, using defaults", map[string]any{
			"path":  flagConfig,
			"error": err.Error(),
		})
	}
	return cfg
}
