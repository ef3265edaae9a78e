package cmd

import (
	"github.com/spf13/cobra"
	"lattis/internal/config"
	"lattis/internal/logger"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "lattis",
	Short: "Lattis - smart shelf inventory backend",
	Long: `Lattis is the backend daemon for a fleet of sensor-equipped retail shelves.
It ingests load-cell readings and device events from the message broker,
reconciles product stock, raises low-stock alerts, and pushes notifications
to connected dashboards in real time.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel("debug")
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(provisionCmd)
}

// loadConfiguration loads the config file (if any) and applies logging
// settings before any component starts.
func loadConfiguration() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if !verbose {
		logger.SetLevel(cfg.Logging.Level)
	}
	logger.SetConsoleMode(cfg.Logging.Console)

	return cfg, nil
}
