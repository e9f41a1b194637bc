// Package capture drives one capture session: select a photo, optionally
// crop it, extract its text, and keep the result in history.
//
// The controller owns two image handles. working is what gets cropped and
// analyzed; original is the selection as it arrived and is only used to
// revert. Every handle the controller creates is released by Reset, by a new
// selection or by the transition that replaces it. History entries hold
// their own handles.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"snapcapture/internal/blob"
	"snapcapture/internal/crop"
	"snapcapture/internal/history"
	"snapcapture/internal/logger"
	"snapcapture/internal/ocr"
)

// Snapshot is a consistent copy of the controller for rendering.
type Snapshot struct {
	State     State
	View      View
	Working   blob.Ref
	Original  blob.Ref
	CanRevert bool
	History   []history.Capture
}

// Controller is safe for concurrent use. Analyze does not hold the lock
// while the extraction request is in flight.
type Controller struct {
	mu sync.Mutex

	images    *blob.Registry
	history   history.Store
	extractor ocr.Extractor
	cropper   *crop.Adapter
	now       func() time.Time
	log       zerolog.Logger

	state      State
	view       View
	working    blob.Ref
	original   blob.Ref
	recalled   blob.Ref // handle owned by a history-sourced Result
	generation uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the clock used for capture ids.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithCropper replaces the default canvas-backed crop adapter.
func WithCropper(a *crop.Adapter) Option {
	return func(c *Controller) { c.cropper = a }
}

func NewController(images *blob.Registry, store history.Store, extractor ocr.Extractor, opts ...Option) *Controller {
	c := &Controller{
		images:    images,
		history:   store,
		extractor: extractor,
		cropper:   crop.NewAdapter(crop.DefaultOptions(), nil),
		now:       time.Now,
		log:       logger.WithComponent("capture"),
		state:     Prompt{},
		view:      ViewCapture,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SelectFile starts a new session with data as both the working and the
// original image.
func (c *Controller) SelectFile(data []byte, mimeType string) error {
	if len(data) == 0 {
		return fmt.Errorf("select file: %w", ocr.ErrEmptyImage)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.working = c.images.Create(data, mimeType)
	original, err := c.images.Duplicate(c.working)
	if err != nil {
		c.images.Release(c.working)
		c.working = ""
		return err
	}
	c.original = original
	c.state = Preview{}
	c.view = ViewCapture

	c.log.Debug().Str("mime_type", mimeType).Int("bytes", len(data)).Msg("Image selected")
	return nil
}

// StartCrop mounts the crop widget on the working image.
func (c *Controller) StartCrop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.(Preview); !ok {
		return invalid("StartCrop", c.state)
	}
	img, err := c.images.Open(c.working)
	if err != nil {
		return err
	}
	if err := c.cropper.Mount(img.Data); err != nil {
		return fmt.Errorf("start crop: %w", err)
	}
	c.state = Cropping{}
	return nil
}

// AdjustCrop moves the crop box.
func (c *Controller) AdjustCrop(r image.Rectangle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.(Cropping); !ok {
		return invalid("AdjustCrop", c.state)
	}
	return c.cropper.Adjust(r)
}

// ConfirmCrop replaces the working image with the cropped PNG. An empty
// export leaves the controller cropping and returns nil.
func (c *Controller) ConfirmCrop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.(Cropping); !ok {
		return invalid("ConfirmCrop", c.state)
	}

	data, err := c.cropper.Confirm(ctx)
	if errors.Is(err, crop.ErrNoData) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("confirm crop: %w", err)
	}

	c.images.Release(c.working)
	c.working = c.images.Create(data, "image/png")
	c.state = Preview{}

	c.log.Debug().Int("bytes", len(data)).Msg("Crop applied")
	return nil
}

// CancelCrop leaves the working image untouched.
func (c *Controller) CancelCrop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.(Cropping); !ok {
		return invalid("CancelCrop", c.state)
	}
	c.cropper.Unmount()
	c.state = Preview{}
	return nil
}

// CanRevert reports whether the working image differs from the original.
func (c *Controller) CanRevert() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canRevertLocked()
}

func (c *Controller) canRevertLocked() bool {
	return c.working != "" && c.original != "" && !c.images.Same(c.working, c.original)
}

// Revert makes the original image the working image again.
func (c *Controller) Revert() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.(Preview); !ok || !c.canRevertLocked() {
		return invalid("Revert", c.state)
	}

	restored, err := c.images.Duplicate(c.original)
	if err != nil {
		return err
	}
	c.images.Release(c.working)
	c.working = restored
	return nil
}

// Analyze extracts the working image's text. On success the result is shown
// and added to history; on failure the controller shows FailureMessage and
// the underlying error is returned. Analyze from Failed retries the same
// request.
func (c *Controller) Analyze(ctx context.Context) (string, error) {
	c.mu.Lock()
	switch c.state.(type) {
	case Preview, Failed:
	default:
		state := c.state
		c.mu.Unlock()
		return "", invalid("Analyze", state)
	}
	img, err := c.images.Open(c.working)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.generation++
	gen := c.generation
	c.state = Loading{Generation: gen}
	c.mu.Unlock()

	c.log.Info().Uint64("generation", gen).Int("bytes", len(img.Data)).Msg("Analyzing image")
	text, extractErr := c.extractor.ExtractText(ctx, img.Data, img.MIME)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		c.log.Warn().Uint64("generation", gen).Uint64("current", c.generation).Msg("Discarding extraction result after reset")
		return "", ErrStaleResult
	}

	if extractErr != nil {
		c.log.Error().Err(extractErr).Msg("Text extraction failed")
		c.state = Failed{Message: FailureMessage}
		return "", extractErr
	}

	entryImage, err := c.images.Duplicate(c.working)
	if err != nil {
		c.log.Warn().Err(err).Msg("Could not keep image for history")
	} else {
		c.history.Add(ctx, history.Capture{
			ID:    strconv.FormatInt(c.now().UnixMilli(), 10),
			Image: entryImage,
			Text:  text,
		})
	}

	c.state = Result{Image: c.working, Text: text}
	c.log.Info().Int("chars", len(text)).Msg("Text extracted")
	return text, nil
}

// SetText replaces the result text with the user's edit. The history entry
// keeps the extracted text.
func (c *Controller) SetText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.state.(Result)
	if !ok {
		return invalid("SetText", c.state)
	}
	r.Text = text
	c.state = r
	return nil
}

// Reset returns to Prompt and releases everything the session held. Any
// in-flight extraction result will be discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.generation++
	c.cropper.Unmount()
	c.images.Release(c.working)
	c.images.Release(c.original)
	c.images.Release(c.recalled)
	c.working, c.original, c.recalled = "", "", ""
	c.state = Prompt{}
}

// SelectHistory shows a stored capture. There is no working image, so it
// cannot be re-analyzed or cropped.
func (c *Controller) SelectHistory(id string) error {
	entry, ok := c.history.Get(id)
	if !ok {
		return fmt.Errorf("select history %q: %w", id, ErrUnknownCapture)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	img, err := c.images.Duplicate(entry.Image)
	if err != nil {
		return fmt.Errorf("select history %q: %w", id, err)
	}
	c.recalled = img
	c.state = Result{Image: img, Text: entry.Text, FromHistory: true}
	c.view = ViewCapture
	return nil
}

func (c *Controller) SetView(v View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = v
}

// ClearHistory empties the history. A history-sourced result on screen keeps
// its own handle.
func (c *Controller) ClearHistory(ctx context.Context) {
	c.history.Clear(ctx)
}

func (c *Controller) History() []history.Capture {
	return c.history.List()
}

// Snapshot returns the current state for rendering.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.state
	if _, ok := state.(Cropping); ok {
		state = Cropping{
			Box:     c.cropper.Box(),
			Bounds:  c.cropper.Bounds(),
			Options: c.cropper.Options(),
		}
	}

	return Snapshot{
		State:     state,
		View:      c.view,
		Working:   c.working,
		Original:  c.original,
		CanRevert: c.canRevertLocked(),
		History:   c.history.List(),
	}
}

// Image resolves a handle for display or export.
func (c *Controller) Image(ref blob.Ref) (blob.Image, error) {
	return c.images.Open(ref)
}
