package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zen-systems/medorch/pkg/config"
	"github.com/zen-systems/medorch/pkg/logging"
)

var (
	configFile string
	logLevel   string
	jsonLogs   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medorch",
		Short: "AI provider orchestration for the medical knowledge platform",
		Long: `medorch routes generation requests across several LLM providers with
	per-provider circuit breakers, spend ledgers and credential rotation, and
	merges multi-provider answers into one ranked synthesis.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "extra provider config file layered over the defaults")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs")

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(synthesizeCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(rotateCmd())
	rootCmd.AddCommand(resetCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the default config locations plus --config.
func loadConfig() (*config.Config, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, err
	}
	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configFile, err)
		}
		paths = append(paths, configFile)
	}
	return config.LoadFiles(paths...)
}

// newLogger builds the logger; flags override the config file.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return logging.New(level, cfg.Log.JSON || jsonLogs)
}
