package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mirlo-pipeline",
	Short: "Mirlo media processing pipeline",
	Long:  `Background media processing for Mirlo: audio transcoding, image optimization, album packaging and storage cleanup, driven by a Redis job queue.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Running without a subcommand starts the worker process.
		runWorkers()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
