package web

import (
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"snapcapture/internal/blob"
	"snapcapture/internal/capture"
	"snapcapture/internal/export"
	"snapcapture/internal/ocr"
)

// maxUploadBytes leaves room for multipart framing around the largest
// image the extractors accept.
const maxUploadBytes = ocr.MaxImageSizeBytes + 1<<20

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	ctrl     *capture.Controller
	sharer   export.Sharer
	renderer *Renderer
	now      func() time.Time
}

// NewHandlers parses the embedded templates. sharer may be nil.
func NewHandlers(ctrl *capture.Controller, sharer export.Sharer, version string) (*Handlers, error) {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to create template sub-FS: %w", err)
	}
	renderer, err := NewRenderer(templateSub, version)
	if err != nil {
		return nil, err
	}
	return &Handlers{
		ctrl:     ctrl,
		sharer:   sharer,
		renderer: renderer,
		now:      time.Now,
	}, nil
}

// HandleIndex handles GET / and renders the active view.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	snap := h.ctrl.Snapshot()
	if snap.View == capture.ViewHistory {
		h.renderer.renderPage(w, "history", historyPage(h.renderer, snap.History))
		return
	}
	h.renderer.renderPage(w, "capture", capturePage(h.renderer, snap, h.sharer != nil))
}

// HandleCapture handles POST /capture with a multipart "image" file.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("image")
	if tooLarge := new(*http.MaxBytesError); errors.As(err, tooLarge) {
		h.renderer.renderError(w, r, http.StatusRequestEntityTooLarge, "The image is too large.")
		return
	}
	if err != nil {
		h.renderer.renderError(w, r, http.StatusBadRequest, "An image file is required.")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.renderer.renderError(w, r, http.StatusRequestEntityTooLarge, "The image is too large.")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		h.renderer.renderError(w, r, http.StatusUnsupportedMediaType, "Please choose an image file.")
		return
	}

	if err := h.ctrl.SelectFile(data, mimeType); err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirectHome(w, r)
}

// HandleCropStart handles POST /crop.
func (h *Handlers) HandleCropStart(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.StartCrop(); err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirectHome(w, r)
}

// HandleCropConfirm handles POST /crop/confirm. The form may carry the crop
// box as x1, y1, x2, y2 in image pixels; without it the current box is used.
func (h *Handlers) HandleCropConfirm(w http.ResponseWriter, r *http.Request) {
	if box, ok, err := parseBox(r); err != nil {
		h.renderer.renderError(w, r, http.StatusBadRequest, err.Error())
		return
	} else if ok {
		if err := h.ctrl.AdjustCrop(box); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if err := h.ctrl.ConfirmCrop(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirectHome(w, r)
}

// HandleCropCancel handles POST /crop/cancel.
func (h *Handlers) HandleCropCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.CancelCrop(); err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirectHome(w, r)
}

// HandleRevert handles POST /revert.
func (h *Handlers) HandleRevert(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Revert(); err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirectHome(w, r)
}

// HandleAnalyze handles POST /analyze. Extraction failures are shown by the
// Failed state, so only rejected transitions are reported as errors.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	_, err := h.ctrl.Analyze(r.Context())
	var te *capture.TransitionError
	if errors.As(err, &te) {
		h.fail(w, r, err)
		return
	}
	h.redirectHome(w, r)
}

// HandleReset handles POST /reset.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Reset()
	h.redirectHome(w, r)
}

// HandleText handles POST /text with the edited "text" field.
func (h *Handlers) HandleText(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.SetText(r.FormValue("text")); err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.redirectHome(w, r)
}

// HandleHistory handles GET /history.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	h.ctrl.SetView(capture.ViewHistory)
	h.renderer.renderPage(w, "history", historyPage(h.renderer, h.ctrl.History()))
}

// HandleHistorySelect handles POST /history/{id}/select.
func (h *Handlers) HandleHistorySelect(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.SelectHistory(chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirectHome(w, r)
}

// HandleHistoryClear handles POST /history/clear.
func (h *Handlers) HandleHistoryClear(w http.ResponseWriter, r *http.Request) {
	h.ctrl.ClearHistory(r.Context())
	h.redirectHome(w, r)
}

// HandleView handles POST /view/{view}.
func (h *Handlers) HandleView(w http.ResponseWriter, r *http.Request) {
	view, err := capture.ParseView(chi.URLParam(r, "view"))
	if err != nil {
		h.renderer.renderError(w, r, http.StatusNotFound, "Unknown view.")
		return
	}
	h.ctrl.SetView(view)
	h.redirectHome(w, r)
}

// HandleImage handles GET /images/{id} for transient image handles.
func (h *Handlers) HandleImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.ctrl.Image(blob.FromID(chi.URLParam(r, "id")))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", img.MIME)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	_, _ = w.Write(img.Data)
}

// HandleExportPDF handles GET /export/pdf.
func (h *Handlers) HandleExportPDF(w http.ResponseWriter, r *http.Request) {
	result, ok := h.result(w, r)
	if !ok {
		return
	}

	var data []byte
	if img, err := h.ctrl.Image(result.Image); err == nil {
		data = img.Data
	}

	now := h.now()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.FileName(now)))
	if err := export.WritePDF(w, data, result.Text, now); err != nil {
		logFor(r, "export").Error().Err(err).Msg("Failed to write PDF")
	}
}

// HandleExportText handles GET /export/text.
func (h *Handlers) HandleExportText(w http.ResponseWriter, r *http.Request) {
	result, ok := h.result(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="SnapCapture-%d.txt"`, h.now().UnixMilli()))
	_, _ = io.WriteString(w, result.Text)
}

// HandleShare handles POST /share, sending the current text to the
// configured share target.
func (h *Handlers) HandleShare(w http.ResponseWriter, r *http.Request) {
	result, ok := h.result(w, r)
	if !ok {
		return
	}
	err := export.Share(r.Context(), h.sharer, result.Text)
	switch {
	case errors.Is(err, export.ErrShareUnavailable):
		h.renderer.renderError(w, r, http.StatusNotImplemented, "Sharing is not available.")
		return
	case err != nil:
		logFor(r, "export").Error().Err(err).Msg("Share failed")
		h.renderer.renderError(w, r, http.StatusBadGateway, "Sharing failed. Please try again.")
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]string{"status": "shared"})
		return
	}
	h.redirectHome(w, r)
}

// result returns the displayed result or writes 409 when there is none.
func (h *Handlers) result(w http.ResponseWriter, r *http.Request) (capture.Result, bool) {
	result, ok := h.ctrl.Snapshot().State.(capture.Result)
	if !ok {
		h.renderer.renderError(w, r, http.StatusConflict, "There is no result to export.")
	}
	return result, ok
}

// fail maps controller errors to responses.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, capture.ErrInvalidTransition):
		h.renderer.renderError(w, r, http.StatusConflict, "That action is not available right now.")
	case errors.Is(err, capture.ErrUnknownCapture), errors.Is(err, blob.ErrUnknownRef):
		h.renderer.renderError(w, r, http.StatusNotFound, "That capture no longer exists.")
	case errors.Is(err, ocr.ErrEmptyImage):
		h.renderer.renderError(w, r, http.StatusBadRequest, "The image is empty.")
	default:
		logFor(r, "web").Error().Err(err).Msg("Request failed")
		h.renderer.renderError(w, r, http.StatusUnprocessableEntity, "The image could not be processed.")
	}
}

func (h *Handlers) redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// parseBox reads x1, y1, x2, y2 from the form. ok is false when none are set.
func parseBox(r *http.Request) (box image.Rectangle, ok bool, err error) {
	names := [4]string{"x1", "y1", "x2", "y2"}
	var v [4]int
	present := 0
	for i, name := range names {
		raw := r.FormValue(name)
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return image.Rectangle{}, false, fmt.Errorf("invalid %s: %q", name, raw)
		}
		v[i] = int(f + 0.5)
		present++
	}
	switch present {
	case 0:
		return image.Rectangle{}, false, nil
	case 4:
		return image.Rect(v[0], v[1], v[2], v[3]), true, nil
	default:
		return image.Rectangle{}, false, fmt.Errorf("crop box needs x1, y1, x2 and y2")
	}
}
