package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"snapcapture/internal/capture"
	"snapcapture/internal/export"
	"snapcapture/internal/logger"
	"snapcapture/internal/ocr"
)

var scanCmd = &cobra.Command{
	Use:   "scan [image-file]",
	Short: "Extract text from an image file",
	Long: `Send an image to the configured extraction provider and print the text.

The image may be cropped first with --crop, given as pixel corners of the
box to keep. Successful scans are added to the capture history shared with
the web UI. The result can also be written to a PDF, copied to the system
clipboard or shared to the configured Google Sheet.`,
	Example: `  # Print the text of a receipt
  snapcapture scan receipt.jpg

  # Crop to the top half of a 1000x800 photo and save a PDF
  snapcapture scan photo.png --crop 0,0,1000,400 --pdf photo.pdf

  # Copy the text to the clipboard and print JSON
  snapcapture scan card.jpg --copy --json`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

// ScanOutput represents the JSON output structure when --json flag is used
type ScanOutput struct {
	Text               string    `json:"text"`
	Phones             []string  `json:"phones,omitempty"`
	FileName           string    `json:"file_name"`
	FileSize           int64     `json:"file_size"`
	MIMEType           string    `json:"mime_type"`
	Crop               []int     `json:"crop,omitempty"`
	PDF                string    `json:"pdf,omitempty"`
	ProcessedAt        time.Time `json:"processed_at"`
	ProcessingDuration string    `json:"processing_duration"`
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	scanCmd.Flags().String("crop", "", "Crop box as x1,y1,x2,y2 in image pixels")
	scanCmd.Flags().String("pdf", "", "Also write a PDF with the image and text to this path")
	scanCmd.Flags().Bool("copy", false, "Copy the extracted text to the system clipboard")
	scanCmd.Flags().Bool("share", false, "Share the extracted text to the configured Google Sheet")
	scanCmd.Flags().Bool("json", false, "Output as JSON")
	scanCmd.Flags().Int("timeout", 120, "Processing timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("scan")

	outputPath, _ := cmd.Flags().GetString("output")
	cropArg, _ := cmd.Flags().GetString("crop")
	pdfPath, _ := cmd.Flags().GetString("pdf")
	copyText, _ := cmd.Flags().GetBool("copy")
	shareText, _ := cmd.Flags().GetBool("share")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	imagePath := args[0]

	log.Info().
		Str("file", imagePath).
		Str("crop", cropArg).
		Str("pdf", pdfPath).
		Bool("json", jsonOutput).
		Int("timeout", timeoutSecs).
		Msg("Starting scan")

	var box image.Rectangle
	if cropArg != "" {
		var err error
		if box, err = parseCropBox(cropArg); err != nil {
			return err
		}
	}

	fileInfo, err := validateImageFile(imagePath, log)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		log.Error().Err(err).Str("file", imagePath).Msg("Failed to read image file")
		return fmt.Errorf("failed to read image file: %w", err)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		log.Error().Str("file", imagePath).Str("mime", mimeType).Msg("File is not an image")
		return fmt.Errorf("not an image file (%s): %s", mimeType, imagePath)
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	a, err := openApp(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl := a.controller()
	if err := ctrl.SelectFile(data, mimeType); err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	if cropArg != "" {
		if err := applyCrop(ctx, ctrl, box); err != nil {
			log.Error().Err(err).Str("crop", cropArg).Msg("Crop failed")
			return err
		}
	}

	startTime := time.Now()
	text, err := ctrl.Analyze(ctx)
	if err != nil {
		return handleExtractError(err, log)
	}
	processingDuration := time.Since(startTime)

	log.Info().
		Dur("duration", processingDuration).
		Int("text_length", len(text)).
		Msg("Scan completed successfully")

	if pdfPath != "" {
		if err := writeScanPDF(ctrl, text, pdfPath, log); err != nil {
			return err
		}
	}
	if copyText {
		if err := export.Copy(export.SystemClipboard{}, text); err != nil {
			log.Warn().Err(err).Msg("Failed to copy text to clipboard")
			fmt.Fprintf(os.Stderr, "Warning: could not copy to clipboard: %v\n", err)
		} else {
			log.Info().Msg("Text copied to clipboard")
		}
	}
	if shareText {
		if err := export.Share(ctx, a.sharer, text); err != nil {
			log.Error().Err(err).Msg("Failed to share text")
			return fmt.Errorf("failed to share text: %w", err)
		}
		log.Info().Msg("Text shared")
	}

	var outputData []byte
	if jsonOutput {
		out := ScanOutput{
			Text:               text,
			Phones:             export.PhoneNumbers(text),
			FileName:           filepath.Base(fileInfo.Name()),
			FileSize:           fileInfo.Size(),
			MIMEType:           mimeType,
			PDF:                pdfPath,
			ProcessedAt:        time.Now(),
			ProcessingDuration: processingDuration.String(),
		}
		if cropArg != "" {
			out.Crop = []int{box.Min.X, box.Min.Y, box.Max.X, box.Max.Y}
		}
		outputData, err = json.MarshalIndent(out, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		outputData = append(outputData, '\n')
	} else {
		if text == "" {
			text = "No text found."
		}
		outputData = []byte(text + "\n")
	}

	return writeOutput(outputData, outputPath, log)
}

// applyCrop runs a crop session on the selected image.
func applyCrop(ctx context.Context, ctrl *capture.Controller, box image.Rectangle) error {
	if err := ctrl.StartCrop(); err != nil {
		return fmt.Errorf("failed to start crop: %w", err)
	}
	if err := ctrl.AdjustCrop(box); err != nil {
		_ = ctrl.CancelCrop()
		return fmt.Errorf("invalid crop box: %w", err)
	}
	if err := ctrl.ConfirmCrop(ctx); err != nil {
		_ = ctrl.CancelCrop()
		return fmt.Errorf("failed to crop image: %w", err)
	}
	if _, cropping := ctrl.Snapshot().State.(capture.Cropping); cropping {
		_ = ctrl.CancelCrop()
		return fmt.Errorf("crop box produced no image")
	}
	return nil
}

func writeScanPDF(ctrl *capture.Controller, text, path string, log zerolog.Logger) error {
	var imageData []byte
	if img, err := ctrl.Image(ctrl.Snapshot().Working); err == nil {
		imageData = img.Data
	} else {
		log.Warn().Err(err).Msg("Image unavailable for PDF")
	}

	f, err := os.Create(path)
	if err != nil {
		log.Error().Err(err).Str("pdf", path).Msg("Failed to create PDF file")
		return fmt.Errorf("failed to create PDF file: %w", err)
	}
	if err := export.WritePDF(f, imageData, text, time.Now()); err != nil {
		_ = f.Close()
		log.Error().Err(err).Str("pdf", path).Msg("Failed to write PDF")
		return fmt.Errorf("failed to write PDF: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close PDF file: %w", err)
	}

	log.Info().Str("pdf", path).Msg("PDF written")
	return nil
}

// parseCropBox parses "x1,y1,x2,y2".
func parseCropBox(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("crop box must be x1,y1,x2,y2, got %q", s)
	}
	var n [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("crop box must be x1,y1,x2,y2, got %q", s)
		}
		n[i] = v
	}
	r := image.Rect(n[0], n[1], n[2], n[3])
	if r.Empty() {
		return image.Rectangle{}, fmt.Errorf("crop box %q is empty", s)
	}
	return r, nil
}

// validateImageFile checks that the file exists, is regular, non-empty and
// within the provider size limit.
func validateImageFile(path string, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().Str("file", path).Msg("Image file not found")
			return nil, fmt.Errorf("image file not found: %s", path)
		}
		if os.IsPermission(err) {
			log.Error().Str("file", path).Msg("Permission denied accessing image file")
			return nil, fmt.Errorf("permission denied accessing image file: %s", path)
		}
		return nil, fmt.Errorf("error accessing image file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().Str("file", path).Msg("Path is not a regular file")
		return nil, fmt.Errorf("path is not a regular file: %s", path)
	}

	if fileInfo.Size() == 0 {
		log.Error().Str("file", path).Msg("Image file is empty")
		return nil, fmt.Errorf("image file is empty: %s", path)
	}

	if fileInfo.Size() > ocr.MaxImageSizeBytes {
		log.Error().
			Str("file", path).
			Int64("size", fileInfo.Size()).
			Int64("max_size", ocr.MaxImageSizeBytes).
			Msg("Image file exceeds maximum size limit")
		return nil, fmt.Errorf("image file too large (%d bytes). Maximum size is %d bytes (20MB)",
			fileInfo.Size(), ocr.MaxImageSizeBytes)
	}

	return fileInfo, nil
}

// writeOutput writes to outputPath, or stdout when it is empty.
func writeOutput(data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			log.Error().Err(err).Msg("Failed to write to stdout")
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("output_file", outputPath).
			Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}

	log.Info().
		Str("output_file", outputPath).
		Int("bytes", len(data)).
		Msg("Results written to file")
	return nil
}
