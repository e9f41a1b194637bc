package export

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"

	"snapcapture/internal/logger"
)

const (
	pageMargin     = 15.0
	headerY        = 20.0
	timestampY     = 26.0
	dividerY       = 30.0
	imageTop       = 40.0
	imageMaxHeight = 0.4 // fraction of page height
	bodyLineHeight = 5.0

	imagePlaceholder = "[Image could not be loaded]"
)

// FileName is the download name for a PDF generated at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("SnapCapture-%d.pdf", now.UnixMilli())
}

// WritePDF renders a one-page A4 report with the image and its text. An image
// that cannot be decoded is replaced by a placeholder line. Text that does not
// fit the page runs past the bottom margin.
func WritePDF(w io.Writer, image []byte, text string, now time.Time) error {
	log := logger.WithComponent("export-pdf")

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageWidth, pageHeight := pdf.GetPageSize()
	contentWidth := pageWidth - 2*pageMargin

	pdf.SetFont("Helvetica", "", 20)
	pdf.SetTextColor(40, 40, 40)
	pdf.Text(pageMargin, headerY, "SnapCapture Result")

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.Text(pageMargin, timestampY, tr("Generated on: "+now.Format("1/2/2006, 3:04:05 PM")))

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(pageMargin, dividerY, pageWidth-pageMargin, dividerY)

	y := imageTop
	if height, err := placeImage(pdf, image, contentWidth, pageHeight*imageMaxHeight, y); err != nil {
		log.Warn().Err(err).Msg("Could not add image to PDF")
		pdf.Text(pageMargin, y, imagePlaceholder)
		y += 10
	} else {
		y += height + 15
	}

	pdf.SetFont("Helvetica", "", 14)
	pdf.SetTextColor(0, 0, 0)
	pdf.Text(pageMargin, y, "Extracted Text:")
	y += 8

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(60, 60, 60)
	for _, line := range wrapText(pdf, tr(text), contentWidth) {
		pdf.Text(pageMargin, y, line)
		y += bodyLineHeight
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}
	return nil
}

// placeImage scales the image to the content width, caps its height and
// centres it. It returns the rendered height.
func placeImage(pdf *fpdf.Fpdf, data []byte, maxWidth, maxHeight, y float64) (float64, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return 0, fmt.Errorf("image has no pixels")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return 0, fmt.Errorf("failed to encode image: %w", err)
	}

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("capture", opts, &buf)
	if err := pdf.Error(); err != nil {
		pdf.ClearError()
		return 0, err
	}

	aspect := float64(bounds.Dx()) / float64(bounds.Dy())
	width := maxWidth
	height := width / aspect
	if height > maxHeight {
		height = maxHeight
		width = height * aspect
	}
	x := pageMargin + (maxWidth-width)/2

	pdf.ImageOptions("capture", x, y, width, height, false, opts, 0, "")
	return height, nil
}

// wrapText splits text into lines no wider than width, keeping the text's own
// line breaks. text is already translated to the core font's code page, so
// widths are measured per byte.
func wrapText(pdf *fpdf.Fpdf, text string, width float64) []string {
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		paragraph = strings.TrimRight(paragraph, "\r")
		line := ""
		for _, word := range strings.Fields(paragraph) {
			candidate := word
			if line != "" {
				candidate = line + " " + word
			}
			if pdf.GetStringWidth(candidate) <= width {
				line = candidate
				continue
			}
			if line != "" {
				lines = append(lines, line)
			}
			for pdf.GetStringWidth(word) > width {
				cut := fitPrefix(pdf, word, width)
				lines = append(lines, word[:cut])
				word = word[cut:]
			}
			line = word
		}
		lines = append(lines, line)
	}
	return lines
}

// fitPrefix returns the length of the longest prefix of s that fits width,
// never less than one byte.
func fitPrefix(pdf *fpdf.Fpdf, s string, width float64) int {
	n := 1
	for n < len(s) && pdf.GetStringWidth(s[:n+1]) <= width {
		n++
	}
	return n
}
