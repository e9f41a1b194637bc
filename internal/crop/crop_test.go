package crop

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeWidget records lifecycle calls.
type fakeWidget struct {
	destroyed *int
	export    []byte
	box       image.Rectangle
}

func (f *fakeWidget) Attach([]byte, Options) error         { return nil }
func (f *fakeWidget) Bounds() image.Rectangle              { return image.Rect(0, 0, 10, 10) }
func (f *fakeWidget) SetCropBox(r image.Rectangle) error   { f.box = r; return nil }
func (f *fakeWidget) CropBox() image.Rectangle             { return f.box }
func (f *fakeWidget) Export(context.Context) ([]byte, error) { return f.export, nil }
func (f *fakeWidget) Destroy()                             { *f.destroyed++ }

func TestCanvasWidget_InitialBoxCoversEightyPercent(t *testing.T) {
	w := NewCanvasWidget()
	require.NoError(t, w.Attach(encodePNG(t, 100, 50), DefaultOptions()))

	assert.Equal(t, image.Rect(10, 5, 90, 45), w.CropBox())
	assert.Equal(t, image.Rect(0, 0, 100, 50), w.Bounds())
}

func TestCanvasWidget_ExportIsPNGOfCropBox(t *testing.T) {
	w := NewCanvasWidget()
	require.NoError(t, w.Attach(encodePNG(t, 100, 50), DefaultOptions()))
	require.NoError(t, w.SetCropBox(image.Rect(20, 10, 60, 30)))

	data, err := w.Export(context.Background())
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	// Lossless: the top-left pixel of the crop matches the source pixel at (20,10).
	r, g, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(20), r>>8)
	assert.Equal(t, uint32(10), g>>8)
}

func TestCanvasWidget_SetCropBoxClipsToImage(t *testing.T) {
	w := NewCanvasWidget()
	require.NoError(t, w.Attach(encodePNG(t, 100, 100), DefaultOptions()))

	require.NoError(t, w.SetCropBox(image.Rect(80, 80, -10, 150)))
	assert.Equal(t, image.Rect(0, 80, 80, 100), w.CropBox())

	assert.Error(t, w.SetCropBox(image.Rect(200, 200, 300, 300)))
}

func TestCanvasWidget_FixedAspectRatio(t *testing.T) {
	opts := DefaultOptions()
	opts.AspectRatio = 2
	w := NewCanvasWidget()
	require.NoError(t, w.Attach(encodePNG(t, 100, 100), opts))

	box := w.CropBox()
	assert.Equal(t, 80, box.Dx())
	assert.Equal(t, 40, box.Dy())

	require.NoError(t, w.SetCropBox(image.Rect(0, 0, 50, 50)))
	assert.Equal(t, image.Rect(0, 0, 50, 25), w.CropBox())
}

func TestCanvasWidget_AttachRejectsGarbage(t *testing.T) {
	w := NewCanvasWidget()
	assert.Error(t, w.Attach([]byte("not an image"), DefaultOptions()))
}

func TestCanvasWidget_ExportAfterDestroy(t *testing.T) {
	w := NewCanvasWidget()
	require.NoError(t, w.Attach(encodePNG(t, 10, 10), DefaultOptions()))
	w.Destroy()

	_, err := w.Export(context.Background())
	assert.ErrorIs(t, err, ErrNotAttached)
}

func TestAdapter_ConfirmDestroysWidget(t *testing.T) {
	destroyed := 0
	a := NewAdapter(DefaultOptions(), func() Widget {
		return &fakeWidget{destroyed: &destroyed, export: []byte("png")}
	})

	require.NoError(t, a.Mount([]byte("img")))
	data, err := a.Confirm(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []byte("png"), data)
	assert.Equal(t, 1, destroyed)
	assert.False(t, a.Mounted())
}

func TestAdapter_EmptyExportKeepsWidget(t *testing.T) {
	destroyed := 0
	a := NewAdapter(DefaultOptions(), func() Widget {
		return &fakeWidget{destroyed: &destroyed}
	})

	require.NoError(t, a.Mount([]byte("img")))
	_, err := a.Confirm(context.Background())

	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 0, destroyed)
	assert.True(t, a.Mounted())
}

func TestAdapter_RemountAndUnmountDestroy(t *testing.T) {
	destroyed := 0
	a := NewAdapter(DefaultOptions(), func() Widget {
		return &fakeWidget{destroyed: &destroyed}
	})

	require.NoError(t, a.Mount([]byte("first")))
	require.NoError(t, a.Mount([]byte("second")))
	assert.Equal(t, 1, destroyed, "remounting destroys the previous widget")

	a.Unmount()
	a.Unmount()
	assert.Equal(t, 2, destroyed, "unmount is idempotent")
}

func TestAdapter_CanvasRoundTrip(t *testing.T) {
	a := NewAdapter(DefaultOptions(), nil)
	require.NoError(t, a.Mount(encodePNG(t, 50, 50)))
	assert.Equal(t, image.Rect(5, 5, 45, 45), a.Box())

	require.NoError(t, a.Adjust(image.Rect(0, 0, 25, 25)))
	data, err := a.Confirm(context.Background())
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Width)
	assert.Equal(t, image.Rectangle{}, a.Box())
}
