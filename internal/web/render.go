package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"snapcapture/internal/blob"
	"snapcapture/internal/capture"
	"snapcapture/internal/crop"
	"snapcapture/internal/export"
	"snapcapture/internal/history"
	"snapcapture/internal/logger"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "capture" or "history"
	Refresh bool   // reload while an extraction is in flight
}

// Phone is a detected number with its dial link.
type Phone struct {
	Number string
	URI    template.URL
}

// CapturePageData is the template data for the capture screen.
type CapturePageData struct {
	PageData
	State       string
	ImageURL    template.URL
	CanRevert   bool
	CanShare    bool
	Text        string
	FromHistory bool
	Phones      []Phone
	Message     string
	CropOptions string
	CropBox     [4]int
	CropBounds  [2]int
}

// HistoryItem is one row on the history screen.
type HistoryItem struct {
	ID       string
	ImageURL template.URL
	Text     string
	Time     string
}

// HistoryPageData is the template data for the history screen.
type HistoryPageData struct {
	PageData
	Items []HistoryItem
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	log       zerolog.Logger
}

// NewRenderer parses the layout and one clone per page from templateFS.
func NewRenderer(templateFS fs.FS, version string) (*Renderer, error) {
	funcMap := template.FuncMap{
		"lines": func(s string) int { return strings.Count(s, "\n") + 1 },
	}

	layoutTmpl, err := template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	pages := map[string]string{
		"capture": "capture.html",
		"history": "history.html",
		"error":   "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t, err := layoutTmpl.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(templateFS, file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		log:       logger.WithComponent("render"),
	}, nil
}

func (r *Renderer) page(title, nav string) PageData {
	return PageData{Title: title, Version: r.version, Nav: nav}
}

// renderPage renders a named page template with HTTP 200.
func (r *Renderer) renderPage(w http.ResponseWriter, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		r.log.Error().Str("template", name).Msg("Template not found")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.log.Error().Err(err).Str("template", name).Msg("Template execution error")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError writes message with status, as JSON when the client asks for it.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, status int, message string) {
	if strings.Contains(req.Header.Get("Accept"), "application/json") {
		renderJSON(w, status, map[string]any{
			"error": map[string]any{"message": message, "status": status},
		})
		return
	}
	r.renderPageStatus(w, status, "error", ErrorPageData{
		PageData:   r.page(fmt.Sprintf("Error %d", status), ""),
		StatusCode: status,
		Message:    message,
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// imageURL is where the browser loads ref from.
func imageURL(ref blob.Ref) template.URL {
	switch {
	case ref.IsTransient():
		return template.URL("/images/" + ref.ID())
	case ref.IsEmbedded():
		return template.URL(string(ref))
	default:
		return ""
	}
}

func capturePage(r *Renderer, snap capture.Snapshot, canShare bool) CapturePageData {
	data := CapturePageData{
		PageData:  r.page("SnapCapture", "capture"),
		State:     snap.State.Name(),
		ImageURL:  imageURL(snap.Working),
		CanRevert: snap.CanRevert,
		CanShare:  canShare,
	}

	switch s := snap.State.(type) {
	case capture.Loading:
		data.Refresh = true
	case capture.Cropping:
		data.CropOptions = cropOptionsJSON(s.Options)
		data.CropBox = [4]int{s.Box.Min.X, s.Box.Min.Y, s.Box.Max.X, s.Box.Max.Y}
		data.CropBounds = [2]int{s.Bounds.Dx(), s.Bounds.Dy()}
	case capture.Result:
		data.ImageURL = imageURL(s.Image)
		data.Text = s.Text
		data.FromHistory = s.FromHistory
		for _, n := range export.PhoneNumbers(s.Text) {
			data.Phones = append(data.Phones, Phone{Number: n, URI: template.URL(export.TelURI(n))})
		}
	case capture.Failed:
		data.Message = s.Message
	}
	return data
}

func historyPage(r *Renderer, entries []history.Capture) HistoryPageData {
	items := make([]HistoryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, HistoryItem{
			ID:       e.ID,
			ImageURL: imageURL(e.Image),
			Text:     e.Text,
			Time:     e.Timestamp.Local().Format(time.DateTime),
		})
	}
	return HistoryPageData{PageData: r.page("History", "history"), Items: items}
}

func cropOptionsJSON(opts crop.Options) string {
	raw, err := json.Marshal(opts)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
