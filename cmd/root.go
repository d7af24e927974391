package cmd

import (
	"fmt"
	"os"

	"AutoFM/logger"
	"AutoFM/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autofm",
	Short: "AutoFM is an automated DJ mix generation service.",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Info("Starting AutoFM server...")
		// server.Start handles its own startup logging and shutdown.
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
