package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapcapture/internal/blob"
	"snapcapture/internal/crop"
	"snapcapture/internal/history"
	"snapcapture/internal/storage"
)

// extractorFunc adapts a function to ocr.Extractor.
type extractorFunc func(ctx context.Context, data []byte, mimeType string) (string, error)

func (f extractorFunc) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	return f(ctx, data, mimeType)
}

func fixed(text string) extractorFunc {
	return func(context.Context, []byte, string) (string, error) { return text, nil }
}

func testImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 3), uint8(y * 3), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	ctrl    *Controller
	images  *blob.Registry
	history *history.Cache
}

func newFixture(t *testing.T, ex extractorFunc) fixture {
	t.Helper()
	images := blob.NewRegistry()
	store := history.NewCache(storage.NewMemory(), "snapcapture_history", images)
	store.Load(context.Background())

	var ms atomic.Int64
	ms.Store(1_700_000_000_000)
	clock := func() time.Time { return time.UnixMilli(ms.Add(1)) }

	return fixture{
		ctrl:    NewController(images, store, ex, WithClock(clock)),
		images:  images,
		history: store,
	}
}

func TestSelectAnalyze_ProducesResultAndHistory(t *testing.T) {
	var gotMIME string
	f := newFixture(t, func(_ context.Context, _ []byte, mimeType string) (string, error) {
		gotMIME = mimeType
		return "Hello\nWorld", nil
	})

	start := time.Now()
	require.NoError(t, f.ctrl.SelectFile(testImage(t, 20, 20), "image/jpeg"))
	assert.IsType(t, Preview{}, f.ctrl.Snapshot().State)
	assert.False(t, f.ctrl.CanRevert(), "fresh selection has nothing to revert")

	text, err := f.ctrl.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hello\nWorld", text)
	assert.Equal(t, "image/jpeg", gotMIME)

	snap := f.ctrl.Snapshot()
	result, ok := snap.State.(Result)
	require.True(t, ok)
	assert.Equal(t, "Hello\nWorld", result.Text)
	assert.False(t, result.FromHistory)

	require.Len(t, snap.History, 1)
	assert.Equal(t, "Hello\nWorld", snap.History[0].Text)
	assert.Equal(t, "1700000000001", snap.History[0].ID)
	assert.False(t, snap.History[0].Timestamp.Before(start), "stamped no earlier than the selection")
	assert.NotEqual(t, result.Image, snap.History[0].Image, "history owns its own handle")
}

func TestAnalyze_FailureThenRetry(t *testing.T) {
	calls := 0
	var sent [][]byte
	f := newFixture(t, func(_ context.Context, data []byte, _ string) (string, error) {
		calls++
		sent = append(sent, data)
		if calls == 1 {
			return "", errors.New("503 from upstream")
		}
		return "second time lucky", nil
	})
	require.NoError(t, f.ctrl.SelectFile(testImage(t, 8, 8), "image/png"))

	_, err := f.ctrl.Analyze(context.Background())
	require.Error(t, err)
	failed, ok := f.ctrl.Snapshot().State.(Failed)
	require.True(t, ok)
	assert.Equal(t, FailureMessage, failed.Message)
	assert.Empty(t, f.ctrl.History())

	text, err := f.ctrl.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", text)
	assert.Equal(t, 2, calls)
	assert.Equal(t, sent[0], sent[1], "retry re-issues the same request")
	assert.Len(t, f.ctrl.History(), 1)
}

func TestAnalyze_EmptyTextIsAResult(t *testing.T) {
	f := newFixture(t, fixed(""))
	require.NoError(t, f.ctrl.SelectFile(testImage(t, 4, 4), "image/png"))

	_, err := f.ctrl.Analyze(context.Background())
	require.NoError(t, err)
	result, ok := f.ctrl.Snapshot().State.(Result)
	require.True(t, ok)
	assert.Empty(t, result.Text)
}

func TestAnalyze_RejectedOutsidePreview(t *testing.T) {
	f := newFixture(t, fixed("x"))

	_, err := f.ctrl.Analyze(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "prompt", te.State)
}

func TestCropConfirmThenRevert(t *testing.T) {
	f := newFixture(t, fixed("x"))
	original := testImage(t, 40, 30)
	require.NoError(t, f.ctrl.SelectFile(original, "image/png"))

	require.NoError(t, f.ctrl.StartCrop())
	cropping, ok := f.ctrl.Snapshot().State.(Cropping)
	require.True(t, ok)
	assert.Equal(t, image.Rect(4, 3, 36, 27), cropping.Box)

	require.NoError(t, f.ctrl.AdjustCrop(image.Rect(0, 0, 10, 10)))
	require.NoError(t, f.ctrl.ConfirmCrop(context.Background()))

	snap := f.ctrl.Snapshot()
	assert.IsType(t, Preview{}, snap.State)
	assert.True(t, snap.CanRevert)

	cropped, err := f.ctrl.Image(snap.Working)
	require.NoError(t, err)
	assert.Equal(t, "image/png", cropped.MIME)
	cfg, err := png.DecodeConfig(bytes.NewReader(cropped.Data))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Width)

	require.NoError(t, f.ctrl.Revert())
	snap = f.ctrl.Snapshot()
	assert.False(t, snap.CanRevert)
	restored, err := f.ctrl.Image(snap.Working)
	require.NoError(t, err)
	assert.Equal(t, original, restored.Data, "revert restores identical bytes")

	assert.ErrorIs(t, f.ctrl.Revert(), ErrInvalidTransition)
	assert.Equal(t, 2, f.images.Live(), "only working and original remain")
}

func TestCancelCrop_LeavesWorkingImage(t *testing.T) {
	f := newFixture(t, fixed("x"))
	require.NoError(t, f.ctrl.SelectFile(testImage(t, 10, 10), "image/png"))
	before := f.ctrl.Snapshot().Working

	require.NoError(t, f.ctrl.StartCrop())
	require.NoError(t, f.ctrl.CancelCrop())

	snap := f.ctrl.Snapshot()
	assert.IsType(t, Preview{}, snap.State)
	assert.Equal(t, before, snap.Working)
	assert.False(t, snap.CanRevert)
}

// countingWidget wraps the canvas widget and counts Destroy calls.
type countingWidget struct {
	crop.Widget
	destroyed *int
	empty     bool
}

func (w countingWidget) Export(ctx context.Context) ([]byte, error) {
	if w.empty {
		return nil, crop.ErrNoData
	}
	return w.Widget.Export(ctx)
}

func (w countingWidget) Destroy() {
	*w.destroyed++
	w.Widget.Destroy()
}

func TestEveryCropExitDestroysWidget(t *testing.T) {
	destroyed := 0
	adapter := crop.NewAdapter(crop.DefaultOptions(), func() crop.Widget {
		return countingWidget{Widget: crop.NewCanvasWidget(), destroyed: &destroyed}
	})
	f := newFixture(t, fixed("x"))
	f.ctrl = NewController(f.images, f.history, fixed("x"), WithCropper(adapter))
	img := testImage(t, 10, 10)

	require.NoError(t, f.ctrl.SelectFile(img, "image/png"))
	require.NoError(t, f.ctrl.StartCrop())
	require.NoError(t, f.ctrl.ConfirmCrop(context.Background()))
	assert.Equal(t, 1, destroyed, "confirm")

	require.NoError(t, f.ctrl.StartCrop())
	require.NoError(t, f.ctrl.CancelCrop())
	assert.Equal(t, 2, destroyed, "cancel")

	require.NoError(t, f.ctrl.StartCrop())
	f.ctrl.Reset()
	assert.Equal(t, 3, destroyed, "reset")

	require.NoError(t, f.ctrl.SelectFile(img, "image/png"))
	require.NoError(t, f.ctrl.StartCrop())
	require.NoError(t, f.ctrl.SelectFile(img, "image/png"))
	assert.Equal(t, 4, destroyed, "new file")
	assert.IsType(t, Preview{}, f.ctrl.Snapshot().State)
}

func TestConfirmCrop_EmptyExportStaysCropping(t *testing.T) {
	destroyed := 0
	adapter := crop.NewAdapter(crop.DefaultOptions(), func() crop.Widget {
		return countingWidget{Widget: crop.NewCanvasWidget(), destroyed: &destroyed, empty: true}
	})
	images := blob.NewRegistry()
	store := history.NewCache(storage.NewMemory(), "k", images)
	ctrl := NewController(images, store, fixed("x"), WithCropper(adapter))

	require.NoError(t, ctrl.SelectFile(testImage(t, 10, 10), "image/png"))
	working := ctrl.Snapshot().Working
	require.NoError(t, ctrl.StartCrop())

	require.NoError(t, ctrl.ConfirmCrop(context.Background()))
	assert.IsType(t, Cropping{}, ctrl.Snapshot().State)
	assert.Equal(t, working, ctrl.Snapshot().Working)
	assert.Zero(t, destroyed)
}

func TestSelectHistory_ShowsStoredResultWithoutWorkingImage(t *testing.T) {
	f := newFixture(t, fixed("stored text"))
	require.NoError(t, f.ctrl.SelectFile(testImage(t, 6, 6), "image/png"))
	_, err := f.ctrl.Analyze(context.Background())
	require.NoError(t, err)
	entry := f.ctrl.History()[0]

	f.ctrl.SetView(ViewHistory)
	require.NoError(t, f.ctrl.SelectHistory(entry.ID))

	snap := f.ctrl.Snapshot()
	assert.Equal(t, ViewCapture, snap.View)
	assert.Empty(t, snap.Working)
	assert.Empty(t, snap.Original)
	result, ok := snap.State.(Result)
	require.True(t, ok)
	assert.True(t, result.FromHistory)
	assert.Equal(t, "stored text", result.Text)

	_, err = f.ctrl.Analyze(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition, "history results cannot be re-analyzed")

	assert.ErrorIs(t, f.ctrl.SelectHistory("missing"), ErrUnknownCapture)
}

func TestResetKeepsHistoryImagesValid(t *testing.T) {
	f := newFixture(t, fixed("kept"))
	require.NoError(t, f.ctrl.SelectFile(testImage(t, 6, 6), "image/png"))
	_, err := f.ctrl.Analyze(context.Background())
	require.NoError(t, err)

	f.ctrl.Reset()

	assert.IsType(t, Prompt{}, f.ctrl.Snapshot().State)
	entry := f.ctrl.History()[0]
	img, err := f.images.Open(entry.Image)
	require.NoError(t, err, "history image survives reset")
	assert.NotEmpty(t, img.Data)
	assert.Equal(t, 1, f.images.Live(), "only the history handle remains")

	require.NoError(t, f.ctrl.SelectHistory(entry.ID))
	f.ctrl.ClearHistory(context.Background())
	result := f.ctrl.Snapshot().State.(Result)
	_, err = f.images.Open(result.Image)
	assert.NoError(t, err, "displayed result keeps its own handle after clear")

	f.ctrl.Reset()
	assert.Zero(t, f.images.Live())
}

func TestSetText_OnlyInResult(t *testing.T) {
	f := newFixture(t, fixed("orig"))
	assert.ErrorIs(t, f.ctrl.SetText("x"), ErrInvalidTransition)

	require.NoError(t, f.ctrl.SelectFile(testImage(t, 4, 4), "image/png"))
	_, err := f.ctrl.Analyze(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.ctrl.SetText("edited"))
	assert.Equal(t, "edited", f.ctrl.Snapshot().State.(Result).Text)
	assert.Equal(t, "orig", f.ctrl.History()[0].Text)
}

func TestAnalyze_StaleResultDroppedAfterReset(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, func(context.Context, []byte, string) (string, error) {
		close(started)
		<-release
		return "late", nil
	})
	require.NoError(t, f.ctrl.SelectFile(testImage(t, 4, 4), "image/png"))

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Analyze(context.Background())
		done <- err
	}()

	<-started
	assert.IsType(t, Loading{}, f.ctrl.Snapshot().State)
	f.ctrl.Reset()
	close(release)

	assert.ErrorIs(t, <-done, ErrStaleResult)
	assert.IsType(t, Prompt{}, f.ctrl.Snapshot().State)
	assert.Empty(t, f.ctrl.History())
	assert.Zero(t, f.images.Live())
}

func TestHistoryCapacityThroughController(t *testing.T) {
	f := newFixture(t, fixed("t"))
	img := testImage(t, 4, 4)

	for i := 0; i < history.Capacity+3; i++ {
		require.NoError(t, f.ctrl.SelectFile(img, "image/png"))
		_, err := f.ctrl.Analyze(context.Background())
		require.NoError(t, err)
	}
	f.ctrl.Reset()

	assert.Len(t, f.ctrl.History(), history.Capacity)
	assert.Equal(t, history.Capacity, f.images.Live())
}

func TestParseView(t *testing.T) {
	v, err := ParseView("history")
	require.NoError(t, err)
	assert.Equal(t, ViewHistory, v)
	assert.Equal(t, "capture", ViewCapture.String())

	_, err = ParseView("settings")
	assert.Error(t, err)
}
