package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"raydock/internal/app"
	"raydock/internal/config"
	"raydock/internal/paths"
)

var (
	appInstance *app.App
	logger      *logrus.Logger
	version     = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "raydock",
	Short: "raydock - xray-core appliance control plane",
	Long: `raydock - xray-core appliance control plane

  Stores inbound definitions, renders the xray configuration, supervises the
  xray process and enforces per-inbound traffic quotas.

  Quick start:
    raydock inbound add --protocol vless --port 443 --settings @vless.json
    raydock apply
    raydock serve`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["skipApp"] == "true" {
			return nil
		}
		return initApp(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Cleanup
		if appInstance != nil {
			err := appInstance.Close()
			appInstance = nil
			return err
		}
		return nil
	},
}

// initApp loads configuration and wires the application.
func initApp(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	appInstance, err = app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return nil
}

// loadConfig reads the config file and environment, applies the global
// flag overrides and sets the log level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		configFile, _ = paths.ConfigFile()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Database = db
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("invalid log level, keeping current")
	}
	return cfg, nil
}

// Execute executes the root command
func Execute(l *logrus.Logger) {
	logger = l
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db", "", "database path")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(xrayCmd)
	rootCmd.AddCommand(inboundCmd)
	rootCmd.AddCommand(dbCmd)
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print version information",
	Annotations: map[string]string{"skipApp": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("raydock %s\n", version)
	},
}
