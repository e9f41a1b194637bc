package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"snapcapture/internal/logger"
	"snapcapture/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SnapCapture web UI",
	Long: `Serve the capture UI over HTTP.

The UI walks through picking a photo, cropping it, extracting the text and
working with the result. Installing it from the browser caches the app shell
for offline start-up; extraction itself always needs the network.

Environment variables:
  HTTP_BIND, HTTP_PORT     - listen address (default 127.0.0.1:8080)
  SNAPCAPTURE_PROVIDER     - gemini, openai, vision or documentai
  SNAPCAPTURE_STORAGE      - sqlite, redis or memory
  GOOGLE_SHEET_URL         - optional spreadsheet used by the Share button`,
	Example: `  # Start on the default address
  snapcapture serve

  # Listen on all interfaces, port 9000
  snapcapture serve --bind 0.0.0.0 --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("bind", "", "Address to bind (overrides HTTP_BIND)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides HTTP_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	ctx := commandContext(cmd)

	a, err := openApp(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if bind, _ := cmd.Flags().GetString("bind"); bind != "" {
		a.cfg.HTTPBind = bind
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		a.cfg.HTTPPort = port
	}

	srv, err := web.NewServer(a.controller(), a.sharer, a.cfg.Addr(), version)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create web server")
		return fmt.Errorf("failed to create web server: %w", err)
	}

	log.Info().
		Str("addr", srv.Addr).
		Str("provider", a.cfg.Provider).
		Str("storage", a.cfg.StorageBackend).
		Bool("share", a.sharer != nil).
		Msg("Starting web UI")

	return web.Run(ctx, srv)
}
