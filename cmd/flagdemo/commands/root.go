package commands

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/TimurManjosov/flagship-webdemo/internal/config"
	"github.com/TimurManjosov/flagship-webdemo/internal/logging"
)

// v collects command-line flags; config.LoadFrom layers env and .env below them.
var v = viper.New()

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flagdemo",
	Short: "Feature flag web demo",
	Long: `flagdemo serves a small web site whose behaviour is driven by feature flags.

Configuration comes from flags, environment variables and an optional .env
file, in that order of precedence.

Examples:
  flagdemo serve --addr :8000 --workers 4
  flagdemo eval web-banner --user alice
  flagdemo eval --flag-file flags.yaml --format json`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (json, console)")
	pf.String("sdk-key", "", "Flag service SDK key")
	pf.String("base-url", "", "Base URL of the flag service")
	pf.String("flag-file", "", "Evaluate flags from a local YAML/JSON file")
	pf.Bool("offline", false, "Never contact the flag service")

	bindFlags(pf, map[string]string{
		"log-level":  "LOG_LEVEL",
		"log-format": "LOG_FORMAT",
		"sdk-key":    "SDK_KEY",
		"base-url":   "FLAGSHIP_BASE_URL",
		"flag-file":  "FLAG_FILE",
		"offline":    "FLAGSHIP_OFFLINE",
	})
}

// bindFlags maps flag names onto config keys.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// loadConfig reads the configuration and builds the root logger from it.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, nil).With().Str("app", "flagdemo").Logger()
	return cfg, logger, nil
}
