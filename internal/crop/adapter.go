// Package crop wraps an interactive crop widget.
//
// The Adapter, not its callers, owns the widget: every way out of a crop
// session (confirm, cancel, or the image changing) goes through Confirm or
// Unmount, which destroy the widget so no stale overlay survives.
package crop

import (
	"context"
	"errors"
	"image"

	"github.com/rs/zerolog"

	"snapcapture/internal/logger"
)

type Adapter struct {
	opts      Options
	newWidget func() Widget
	widget    Widget
	log       zerolog.Logger
}

// NewAdapter creates an unmounted adapter. A nil factory uses NewCanvasWidget.
func NewAdapter(opts Options, newWidget func() Widget) *Adapter {
	if newWidget == nil {
		newWidget = NewCanvasWidget
	}
	return &Adapter{
		opts:      opts,
		newWidget: newWidget,
		log:       logger.WithComponent("crop"),
	}
}

// Mount attaches a fresh widget to src, destroying any previous one first.
func (a *Adapter) Mount(src []byte) error {
	a.Unmount()

	w := a.newWidget()
	if err := w.Attach(src, a.opts); err != nil {
		w.Destroy()
		return err
	}
	a.widget = w
	return nil
}

func (a *Adapter) Mounted() bool {
	return a.widget != nil
}

func (a *Adapter) Options() Options {
	return a.opts
}

// Adjust moves the crop box.
func (a *Adapter) Adjust(r image.Rectangle) error {
	if a.widget == nil {
		return ErrNotAttached
	}
	return a.widget.SetCropBox(r)
}

// Box returns the current crop box, or the zero rectangle when unmounted.
func (a *Adapter) Box() image.Rectangle {
	if a.widget == nil {
		return image.Rectangle{}
	}
	return a.widget.CropBox()
}

// Bounds returns the attached image's bounds.
func (a *Adapter) Bounds() image.Rectangle {
	if a.widget == nil {
		return image.Rectangle{}
	}
	return a.widget.Bounds()
}

// Confirm exports the crop box as PNG bytes and unmounts. When the export
// yields nothing, ErrNoData is returned and the widget stays mounted.
func (a *Adapter) Confirm(ctx context.Context) ([]byte, error) {
	if a.widget == nil {
		return nil, ErrNotAttached
	}
	data, err := a.widget.Export(ctx)
	if errors.Is(err, ErrNoData) || (err == nil && len(data) == 0) {
		a.log.Debug().Msg("Crop export produced no data")
		return nil, ErrNoData
	}
	if err != nil {
		return nil, err
	}
	a.Unmount()
	return data, nil
}

// Unmount destroys the widget. Safe to call when nothing is mounted.
func (a *Adapter) Unmount() {
	if a.widget == nil {
		return
	}
	a.widget.Destroy()
	a.widget = nil
}
