package capture

import (
	"errors"
	"fmt"
	"image"

	"snapcapture/internal/blob"
	"snapcapture/internal/crop"
)

// FailureMessage is the only error text ever shown to the user.
const FailureMessage = "Failed to analyze image. Please try again."

// View selects which screen is shown; it is independent of the State.
type View int

const (
	ViewCapture View = iota
	ViewHistory
)

func (v View) String() string {
	if v == ViewHistory {
		return "history"
	}
	return "capture"
}

// ParseView accepts "capture" or "history".
func ParseView(s string) (View, error) {
	switch s {
	case "capture":
		return ViewCapture, nil
	case "history":
		return ViewHistory, nil
	default:
		return ViewCapture, fmt.Errorf("unknown view %q", s)
	}
}

// State is one of Prompt, Preview, Cropping, Loading, Result or Failed.
type State interface {
	Name() string
	isState()
}

// Prompt: no image selected.
type Prompt struct{}

// Preview: an image is selected and awaits crop or analysis.
type Preview struct{}

// Cropping: the crop widget is mounted on the working image. The fields
// describe the widget at the time the state was read.
type Cropping struct {
	Box     image.Rectangle
	Bounds  image.Rectangle
	Options crop.Options
}

// Loading: an extraction request is in flight.
type Loading struct {
	Generation uint64
}

// Result: extracted (or recalled) text for Image.
type Result struct {
	Image       blob.Ref
	Text        string
	FromHistory bool
}

// Failed: the last extraction failed; Analyze retries it.
type Failed struct {
	Message string
}

func (Prompt) Name() string   { return "prompt" }
func (Preview) Name() string  { return "preview" }
func (Cropping) Name() string { return "cropping" }
func (Loading) Name() string  { return "loading" }
func (Result) Name() string   { return "result" }
func (Failed) Name() string   { return "failed" }

func (Prompt) isState()   {}
func (Preview) isState()  {}
func (Cropping) isState() {}
func (Loading) isState()  {}
func (Result) isState()   {}
func (Failed) isState()   {}

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("operation not allowed in current state")

	// ErrStaleResult is returned by Analyze when the controller was reset
	// while the request was in flight; the result was discarded.
	ErrStaleResult = errors.New("extraction result discarded after reset")

	// ErrUnknownCapture is returned when selecting a history entry that does not exist.
	ErrUnknownCapture = errors.New("unknown history entry")
)

// TransitionError records which operation was rejected in which state.
type TransitionError struct {
	Op    string
	State string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("capture: %s in state %s: %v", e.Op, e.State, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func invalid(op string, s State) error {
	return &TransitionError{Op: op, State: s.Name(), Err: ErrInvalidTransition}
}
