package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"snapcapture/internal/history"
	"snapcapture/internal/logger"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear the capture history",
	Long: `The ten most recent successful captures are kept, newest first, in the
configured storage backend (SNAPCAPTURE_STORAGE). These commands read the same
history as the web UI and need no extraction credentials.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored captures, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print the text of one capture",
	Example: `  # Print a capture and save its image
  snapcapture history show 1718000000000 --image capture.png`,
	Args: cobra.ExactArgs(1),
	RunE: runHistoryShow,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored capture",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

// HistoryEntry is the JSON form of one capture.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyClearCmd)

	historyListCmd.Flags().Bool("json", false, "Output as JSON")
	historyShowCmd.Flags().String("image", "", "Write the capture's image to this path")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := openHistory(commandContext(cmd), log)
	if err != nil {
		return err
	}
	defer a.Close()

	entries := a.history.List()
	log.Debug().Int("entries", len(entries)).Msg("Listing history")

	out := cmd.OutOrStdout()
	if jsonOutput {
		items := make([]HistoryEntry, 0, len(entries))
		for _, e := range entries {
			items = append(items, HistoryEntry{ID: e.ID, Text: e.Text, Timestamp: e.Timestamp})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No history yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAPTURED\tTEXT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.ID, e.Timestamp.Local().Format("2006-01-02 15:04:05"), preview(e.Text, 60))
	}
	return w.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")
	imagePath, _ := cmd.Flags().GetString("image")

	a, err := openHistory(commandContext(cmd), log)
	if err != nil {
		return err
	}
	defer a.Close()

	entry, ok := a.history.Get(args[0])
	if !ok {
		return fmt.Errorf("no capture with id %q", args[0])
	}

	if imagePath != "" {
		if err := writeHistoryImage(a, entry, imagePath); err != nil {
			log.Error().Err(err).Str("id", entry.ID).Msg("Failed to write capture image")
			return err
		}
		log.Info().Str("id", entry.ID).Str("image", imagePath).Msg("Capture image written")
	}

	fmt.Fprintln(cmd.OutOrStdout(), entry.Text)
	return nil
}

func writeHistoryImage(a *app, entry history.Capture, path string) error {
	img, err := a.images.Open(entry.Image)
	if err != nil {
		return fmt.Errorf("capture image unavailable: %w", err)
	}
	if err := os.WriteFile(path, img.Data, 0644); err != nil {
		return fmt.Errorf("failed to write image file: %w", err)
	}
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")
	ctx := commandContext(cmd)

	a, err := openHistory(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()

	n := len(a.history.List())
	a.history.Clear(ctx)

	log.Info().Int("entries", n).Msg("History cleared")
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d capture(s).\n", n)
	return nil
}

// preview flattens text to a single line of at most n runes.
func preview(text string, n int) string {
	line := strings.Join(strings.Fields(text), " ")
	if r := []rune(line); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return line
}
