package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"snapcapture/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "snapcapture",
	Short: "SnapCapture - turn photos into editable text",
	Long: `SnapCapture extracts the visible text from a photo or image.

Pick an image, optionally crop it, and send it to the configured extraction
provider (Gemini, an OpenAI-compatible endpoint, Google Cloud Vision or
Document AI). Results can be copied, exported as PDF or shared, and the ten
most recent captures are kept in a local history.

Run "snapcapture serve" for the browser UI or "snapcapture scan" to process a
single file from the terminal.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("SnapCapture CLI executed")

		fmt.Println("Welcome to SnapCapture!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
