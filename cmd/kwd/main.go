package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cvejlbo/avs-device-sdk/internal/config"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "kwd"
	serviceVersion    = "1.0.0"
)

// Shared CLI flags
var (
	cfgFile  string
	envFiles []string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Keyword detector bridge",
		Long: `kwd turns detections signalled by an external keyword engine over a
named pipe into keyword events carrying the shared audio stream position.

Run 'kwd serve' to start the service.`,
		Version:       serviceVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Variables already in the environment win over .env files
			_, err := config.LoadEnvFiles(envFiles...)
			return err
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "path to configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading configuration")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(mkfifoCmd())
	rootCmd.AddCommand(streamCmd())

	return rootCmd
}

// loadConfig reads --config, falling back to defaults plus environment
// overrides when the default file is absent
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit := false
	if f := cmd.Flag("config"); f != nil {
		explicit = f.Changed
	}
	if _, err := os.Stat(cfgFile); err != nil && !explicit {
		cfg := config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, fmt.Errorf("environment overrides: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
		return cfg, nil
	}
	return config.Load(cfgFile)
}
