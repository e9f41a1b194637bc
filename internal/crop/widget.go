package crop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
)

var (
	// ErrNoData is returned when exporting the crop box produced no image.
	ErrNoData = errors.New("crop produced no image data")

	// ErrNotAttached is returned when the widget has no image attached.
	ErrNotAttached = errors.New("crop widget is not attached")
)

// Options configures a crop widget. The JSON form is handed unchanged to the
// browser-side cropper.
type Options struct {
	ViewMode     int     `json:"viewMode"`
	DragMode     string  `json:"dragMode"`
	AspectRatio  float64 `json:"initialAspectRatio,omitempty"` // 0 means free-form
	AutoCropArea float64 `json:"autoCropArea"`
	Guides       bool    `json:"guides"`
	Background   bool    `json:"background"`
	Responsive   bool    `json:"responsive"`
}

// DefaultOptions: free aspect, crop box restricted to the canvas, move-drag,
// 80% initial area, guides on, background grid off.
func DefaultOptions() Options {
	return Options{
		ViewMode:     1,
		DragMode:     "move",
		AutoCropArea: 0.8,
		Guides:       true,
		Background:   false,
		Responsive:   true,
	}
}

// Widget is the capability surface of an interactive cropper.
type Widget interface {
	Attach(src []byte, opts Options) error
	Bounds() image.Rectangle
	SetCropBox(r image.Rectangle) error
	CropBox() image.Rectangle
	Export(ctx context.Context) ([]byte, error)
	Destroy()
}

// CanvasWidget crops decoded images in memory.
type CanvasWidget struct {
	img  image.Image
	box  image.Rectangle
	opts Options
}

func NewCanvasWidget() Widget {
	return &CanvasWidget{}
}

// Attach decodes src (honouring EXIF orientation) and places the initial crop box.
func (w *CanvasWidget) Attach(src []byte, opts Options) error {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}
	w.img = img
	w.opts = opts
	w.box = initialBox(img.Bounds(), opts)
	return nil
}

func (w *CanvasWidget) Bounds() image.Rectangle {
	if w.img == nil {
		return image.Rectangle{}
	}
	return w.img.Bounds()
}

// SetCropBox moves the crop box. With ViewMode >= 1 the box is clipped to
// the image; a fixed aspect ratio shrinks the height to match the width.
func (w *CanvasWidget) SetCropBox(r image.Rectangle) error {
	if w.img == nil {
		return ErrNotAttached
	}
	r = r.Canon()
	if w.opts.ViewMode >= 1 {
		r = r.Intersect(w.img.Bounds())
	}
	if w.opts.AspectRatio > 0 && !r.Empty() {
		h := int(float64(r.Dx()) / w.opts.AspectRatio)
		if h < r.Dy() {
			r.Max.Y = r.Min.Y + h
		}
	}
	if r.Empty() {
		return fmt.Errorf("crop box (%d,%d)-(%d,%d) is empty", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
	}
	w.box = r
	return nil
}

func (w *CanvasWidget) CropBox() image.Rectangle {
	return w.box
}

// Export renders the crop box to a PNG.
func (w *CanvasWidget) Export(ctx context.Context) ([]byte, error) {
	if w.img == nil {
		return nil, ErrNotAttached
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.box.Empty() {
		return nil, ErrNoData
	}

	cropped := imaging.Crop(w.img, w.box)
	if cropped.Bounds().Empty() {
		return nil, ErrNoData
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, cropped); err != nil {
		return nil, fmt.Errorf("failed to encode cropped image: %w", err)
	}
	if buf.Len() == 0 {
		return nil, ErrNoData
	}
	return buf.Bytes(), nil
}

// Destroy drops the decoded image. The widget can be attached again.
func (w *CanvasWidget) Destroy() {
	w.img = nil
	w.box = image.Rectangle{}
}

// initialBox centres a box covering AutoCropArea of each dimension.
func initialBox(bounds image.Rectangle, opts Options) image.Rectangle {
	area := opts.AutoCropArea
	if area <= 0 || area > 1 {
		area = 1
	}
	w := int(float64(bounds.Dx()) * area)
	h := int(float64(bounds.Dy()) * area)
	if opts.AspectRatio > 0 {
		if fit := int(float64(w) / opts.AspectRatio); fit <= h {
			h = fit
		} else {
			w = int(float64(h) * opts.AspectRatio)
		}
	}
	x := bounds.Min.X + (bounds.Dx()-w)/2
	y := bounds.Min.Y + (bounds.Dy()-h)/2
	return image.Rect(x, y, x+w, y+h)
}
