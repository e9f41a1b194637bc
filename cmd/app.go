package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"snapcapture/internal/blob"
	"snapcapture/internal/capture"
	"snapcapture/internal/config"
	"snapcapture/internal/export"
	"snapcapture/internal/history"
	"snapcapture/internal/ocr"
	"snapcapture/internal/sheets"
	"snapcapture/internal/storage"
)

// app holds the services shared by the subcommands.
type app struct {
	cfg       *config.Config
	backend   storage.Backend
	images    *blob.Registry
	history   *history.Cache
	extractor ocr.Extractor
	sharer    export.Sharer
	log       zerolog.Logger
}

// openHistory loads configuration, opens the storage backend and reads the
// persisted history. It needs no extraction credentials.
func openHistory(ctx context.Context, log zerolog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Error().
			Err(err).
			Str("backend", cfg.StorageBackend).
			Msg("Failed to open history storage")
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.StorageBackend, err)
	}

	images := blob.NewRegistry()
	cache := history.NewCache(backend, cfg.HistoryKey, images)
	cache.Load(ctx)

	return &app{
		cfg:     cfg,
		backend: backend,
		images:  images,
		history: cache,
		log:     log,
	}, nil
}

// openApp is openHistory plus the extraction provider and, when
// GOOGLE_SHEET_URL is set, the Sheets share target.
func openApp(ctx context.Context, log zerolog.Logger) (*app, error) {
	a, err := openHistory(ctx, log)
	if err != nil {
		return nil, err
	}

	if err := a.cfg.ValidateProvider(); err != nil {
		a.Close()
		log.Error().Err(err).Str("provider", a.cfg.Provider).Msg("Extraction provider is not configured")
		return nil, fmt.Errorf("extraction provider not configured: %w", err)
	}

	a.extractor, err = createExtractor(ctx, a.cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	if a.cfg.GoogleSheetURL != "" {
		svc, err := sheets.NewSheetsService(ctx, a.cfg.GoogleSheetURL, a.cfg.GoogleSheetWorksheet)
		if err != nil {
			log.Warn().Err(err).Msg("Google Sheets sharing disabled")
		} else {
			a.sharer = svc
		}
	}

	return a, nil
}

func (a *app) controller() *capture.Controller {
	return capture.NewController(a.images, a.history, a.extractor)
}

// Close releases the extractor client and the storage backend.
func (a *app) Close() {
	if c, ok := a.extractor.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close extraction client")
		}
	}
	if err := a.backend.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close storage backend")
	}
}

// createExtractor builds the configured provider with actionable errors.
func createExtractor(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ocr.Extractor, error) {
	ex, err := ocr.New(ctx, cfg)
	if err != nil {
		if errors.Is(err, ocr.ErrMissingCredentials) {
			log.Error().
				Err(err).
				Str("provider", cfg.Provider).
				Msg("Extraction credentials validation failed")
			return nil, fmt.Errorf("credentials for provider %q are missing or invalid. Please set one of:\n\n"+
				"1. GEMINI_API_KEY (or API_KEY) for the gemini provider\n"+
				"2. OPENAI_API_KEY for the openai provider\n"+
				"3. GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS for vision and documentai\n\n"+
				"Original error: %w", cfg.Provider, err)
		}
		log.Error().Err(err).Str("provider", cfg.Provider).Msg("Failed to create extractor")
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	log.Debug().Str("provider", cfg.Provider).Msg("Extractor created successfully")
	return ex, nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// handleExtractError provides user-friendly messages for extraction failures.
func handleExtractError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Text extraction failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("text extraction timed out. Try increasing --timeout or cropping the image")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("text extraction was canceled")
	case errors.Is(err, ocr.ErrImageTooLarge):
		return fmt.Errorf("image is too large (maximum 20MB). Try cropping or compressing it")
	case errors.Is(err, ocr.ErrEmptyImage):
		return fmt.Errorf("image file is empty")
	case strings.Contains(errStr, "Unauthenticated") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "401"):
		return fmt.Errorf("authentication with the extraction provider failed. Please check your credentials: %w", err)
	case strings.Contains(errStr, "PERMISSION_DENIED") ||
		strings.Contains(errStr, "403"):
		return fmt.Errorf("permission denied by the extraction provider: %w", err)
	case strings.Contains(errStr, "QUOTA_EXCEEDED") ||
		strings.Contains(errStr, "429"):
		return fmt.Errorf("extraction provider quota exceeded. Try again later: %w", err)
	case errors.Is(err, ocr.ErrExtractionFailed):
		return fmt.Errorf("%s: %w", capture.FailureMessage, err)
	default:
		return fmt.Errorf("text extraction failed: %w", err)
	}
}
