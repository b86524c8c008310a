// Command orbit runs the connector synchronization service.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/logger"
)

var version = "0.1.0"

// envPrefix scopes the environment overrides, e.g. ORBIT_CONFIG
const envPrefix = "ORBIT"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	root := &cobra.Command{
		Use:   "orbit",
		Short: "Orbit - connector synchronization service",
		Long: `Orbit moves records between external business systems and a canonical
store. It runs sync jobs on demand or on a schedule and keeps their history.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to YAML configuration file")
	root.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	for _, name := range []string{"config", "log-level"} {
		if err := viper.BindPFlag(name, root.PersistentFlags().Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to bind %s flag: %v\n", name, err)
		}
	}

	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newConnectorsCmd(),
		newArchiveCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("Orbit v%s\n", version)
				fmt.Printf("Go version: %s\n", runtime.Version())
				fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			},
		},
	)
	return root
}

// loadConfig reads the configured file over the defaults and applies flag
// and environment overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := viper.GetString("config"); path != "" {
		if err := config.LoadInto(path, cfg); err != nil {
			return nil, err
		}
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if listen := viper.GetString("listen"); listen != "" {
		cfg.API.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setup loads the configuration and installs the global logger
func setup() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
