// Package cli provides the command-line interface for maigret-api.
package cli

import (
	"log/slog"

	"github.com/raphaelgruber/maigret-api/internal/client"
	"github.com/raphaelgruber/maigret-api/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config and API client
	cfg       config.Config
	apiClient *client.Client
	logger    *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "maigretctl",
	Short: "Run and follow username searches on a maigret-api server",
	Long: `maigretctl submits username searches to a maigret-api server and follows
their progress, either by polling the status endpoint or over the live
WebSocket stream.

The server address comes from --server or MAIGRET_SERVER_URL.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		logger = config.SetupCLILogger(verbose)
		logger.Debug("using server", "url", cfg.ServerURL, "timeout", cfg.ClientTimeout)

		apiClient = client.New(cfg.ServerURL, cfg.ClientTimeout)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default $MAIGRET_SERVER_URL or http://localhost:8000)")

	// Add subcommands
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sitesCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statsCmd)
}
