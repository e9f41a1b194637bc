package cmd

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapcapture/internal/ocr"
)

func TestParseCropBox(t *testing.T) {
	tests := []struct {
		in      string
		want    image.Rectangle
		wantErr bool
	}{
		{in: "0,0,100,50", want: image.Rect(0, 0, 100, 50)},
		{in: " 10, 20 ,30,40 ", want: image.Rect(10, 20, 30, 40)},
		{in: "30,40,10,20", want: image.Rect(10, 20, 30, 40)},
		{in: "1,2,3", wantErr: true},
		{in: "a,b,c,d", wantErr: true},
		{in: "5,5,5,9", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseCropBox(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateImageFile(t *testing.T) {
	dir := t.TempDir()
	log := zerolog.Nop()

	_, err := validateImageFile(filepath.Join(dir, "missing.png"), log)
	assert.ErrorContains(t, err, "not found")

	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = validateImageFile(empty, log)
	assert.ErrorContains(t, err, "empty")

	_, err = validateImageFile(dir, log)
	assert.ErrorContains(t, err, "regular file")

	ok := filepath.Join(dir, "ok.png")
	require.NoError(t, os.WriteFile(ok, []byte("\x89PNG"), 0644))
	info, err := validateImageFile(ok, log)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())
}

func TestHandleExtractError(t *testing.T) {
	log := zerolog.Nop()

	err := handleExtractError(context.DeadlineExceeded, log)
	assert.ErrorContains(t, err, "timed out")

	err = handleExtractError(ocr.WrapExtractError("ExtractText", ocr.ErrExtractionFailed, "boom"), log)
	assert.ErrorIs(t, err, ocr.ErrExtractionFailed)

	err = handleExtractError(errors.New("status 429"), log)
	assert.ErrorContains(t, err, "quota")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "one two three", preview("one\n two\t three", 60))
	assert.Equal(t, "abcd…", preview("abcdefgh", 5))
}

func TestHistoryList_EmptyMemoryBackend(t *testing.T) {
	t.Setenv("SNAPCAPTURE_PROVIDER", "vision")
	t.Setenv("SNAPCAPTURE_STORAGE", "memory")

	var out bytes.Buffer
	historyListCmd.SetOut(&out)
	t.Cleanup(func() { historyListCmd.SetOut(nil) })

	require.NoError(t, runHistoryList(historyListCmd, nil))
	assert.Equal(t, "No history yet.\n", out.String())
}

func TestHistoryShow_UnknownID(t *testing.T) {
	t.Setenv("SNAPCAPTURE_PROVIDER", "vision")
	t.Setenv("SNAPCAPTURE_STORAGE", "memory")

	err := runHistoryShow(historyShowCmd, []string{"42"})
	assert.ErrorContains(t, err, `no capture with id "42"`)
}
