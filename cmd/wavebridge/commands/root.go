package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/gibberwallet/wavebridge/internal/config"
)

// Version is set at build time with -ldflags "-X ...commands.Version=...".
var Version = "dev"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wavebridge",
	Short: "Bridge host runtimes to a data-over-sound modem",
	Long: `wavebridge drives a GGWave-style acoustic modem session and exposes it
to host runtimes as promise-style commands and named events.

Configuration is read from wavebridge.yaml in the working directory (or
--config) and WAVEBRIDGE_* environment variables.`,
	SilenceUsage: true,
}

// Command returns the root cobra command for mounting into a parent CLI.
func Command() *cobra.Command {
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultFile+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(versionCmd)
}

// configPath returns the file to watch for reloads, or "" when none is used.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat(config.DefaultFile); err == nil {
		return config.DefaultFile
	}
	return ""
}

// loadConfig loads the configuration and applies --log-level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}
