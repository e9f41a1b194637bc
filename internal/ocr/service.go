// Package ocr extracts the visible text of a photo.
//
// Providers:
//   - gemini: Gemini multimodal model through its OpenAI-compatible endpoint
//     (GEMINI_API_KEY or API_KEY)
//   - openai: any OpenAI-compatible chat endpoint (OPENAI_API_KEY, OPENAI_BASE_URL)
//   - vision: Google Cloud Vision document text detection
//   - documentai: a Google Document AI OCR processor
//
// The Google providers read GOOGLE_CREDENTIALS (inline JSON) or
// GOOGLE_APPLICATION_CREDENTIALS (file path), falling back to application
// default credentials.
//
// Inputs over 20MB or without bytes are rejected before any network call.
// Responses are trimmed; an empty string is a valid result. Nothing is retried.
package ocr

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/option"

	"snapcapture/internal/config"
)

// MaxImageSizeBytes bounds the inline payload accepted by every provider.
const MaxImageSizeBytes = 20 * 1024 * 1024

// Prompt is the fixed instruction sent to model-based providers.
const Prompt = "Extract all visible text from this image. Be precise and preserve formatting like line breaks where possible. If there is no text, return an empty response."

// Extractor turns image bytes into text.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// New builds the extractor selected by cfg.Provider.
func New(ctx context.Context, cfg *config.Config) (Extractor, error) {
	var (
		ex  Extractor
		err error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		ex, err = asExtractor(NewGeminiExtractor(cfg.GeminiAPIKey, cfg.Model))
	case config.ProviderOpenAI:
		ex, err = asExtractor(NewOpenAIExtractor(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model))
	case config.ProviderVision:
		ex, err = asExtractor(NewVisionExtractor(ctx))
	case config.ProviderDocumentAI:
		ex, err = asExtractor(NewDocumentAIExtractor(ctx, DocumentAIConfig{
			ProjectID:   cfg.GoogleCloudProject,
			Location:    cfg.GoogleCloudLocation,
			ProcessorID: cfg.DocumentAIProcessorID,
		}))
	default:
		err = WrapExtractError("New", ErrUnsupportedProvider, fmt.Sprintf("provider %q", cfg.Provider))
	}
	if err != nil {
		return nil, err
	}
	return ex, nil
}

// asExtractor keeps a failed constructor's typed nil out of the interface.
func asExtractor[T Extractor](ex T, err error) (Extractor, error) {
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func validateImage(op string, data []byte) error {
	if len(data) == 0 {
		return WrapExtractError(op, ErrEmptyImage, "")
	}
	if len(data) > MaxImageSizeBytes {
		return WrapExtractError(op, ErrImageTooLarge, fmt.Sprintf("image size: %d bytes", len(data)))
	}
	return nil
}

// googleCredentials returns client options for the credentials found in the
// environment, or none to use application default credentials.
func googleCredentials() []option.ClientOption {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credFile)}
	}
	return nil
}

func cleanText(s string) string {
	return strings.TrimSpace(s)
}
