package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "focusgate",
	Short: "FocusGate - Usage tracking and limit enforcement for distracting websites",
	Long: `FocusGate is a local daemon that tracks time spent and visit counts on
configured websites, enforces daily time and open limits (per site or per
group), and redirects over-limit browser tabs to a block page. Browser
clients talk to it over a loopback HTTP API.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to the daemon when no subcommand is provided
		return runDaemon(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/focusgate/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
