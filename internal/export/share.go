package export

import (
	"context"
	"errors"

	"github.com/atotto/clipboard"
)

// ShareTitle accompanies shared text.
const ShareTitle = "Text from SnapCapture"

// ErrShareUnavailable is returned when the platform offers no share target.
var ErrShareUnavailable = errors.New("sharing is not available")

// Clipboard receives copied text.
type Clipboard interface {
	WriteAll(text string) error
}

// Sharer hands text to a share target.
type Sharer interface {
	Share(ctx context.Context, title, text string) error
}

// SystemClipboard writes to the desktop clipboard.
type SystemClipboard struct{}

func (SystemClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return errors.New("no clipboard utility available")
	}
	return clipboard.WriteAll(text)
}

// Copy writes text to cb verbatim.
func Copy(cb Clipboard, text string) error {
	return cb.WriteAll(text)
}

// Share sends text with ShareTitle. A nil sharer yields ErrShareUnavailable.
func Share(ctx context.Context, s Sharer, text string) error {
	if s == nil {
		return ErrShareUnavailable
	}
	return s.Share(ctx, ShareTitle, text)
}
