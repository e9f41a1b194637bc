package ocr

import (
	"errors"
	"fmt"
)

// Common extraction errors
var (
	// ErrImageTooLarge is returned when the image exceeds MaxImageSizeBytes.
	ErrImageTooLarge = errors.New("image exceeds the maximum size (20MB)")

	// ErrEmptyImage is returned when no image bytes were supplied.
	ErrEmptyImage = errors.New("image is empty")

	// ErrExtractionFailed is returned when the remote service fails or returns an unusable response.
	ErrExtractionFailed = errors.New("text extraction failed")

	// ErrMissingCredentials is returned when the selected provider has no API key or
	// Google Cloud credentials.
	ErrMissingCredentials = errors.New("missing credentials for text extraction provider")

	// ErrUnsupportedProvider is returned by New for an unknown provider name.
	ErrUnsupportedProvider = errors.New("unsupported text extraction provider")
)

// ExtractError wraps errors with the operation and provider context.
type ExtractError struct {
	// Op is the operation that failed (e.g., "ExtractText", "NewVisionExtractor").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

func (e *ExtractError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

func (e *ExtractError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapExtractError wraps err as an ExtractError unless it already is one.
func WrapExtractError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var extractErr *ExtractError
	if errors.As(err, &extractErr) {
		return err
	}

	return &ExtractError{Op: op, Err: err, Details: details}
}
