// Package web serves the SnapCapture UI: server-rendered pages over one
// capture.Controller, plus the static shell and service worker.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"snapcapture/internal/capture"
	"snapcapture/internal/export"
	"snapcapture/internal/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// requestTimeout bounds every request, including a full extraction round trip.
const requestTimeout = 2 * time.Minute

// NewServer creates the HTTP server for the web UI. sharer may be nil.
func NewServer(ctrl *capture.Controller, sharer export.Sharer, addr, version string) (*http.Server, error) {
	h, err := NewHandlers(ctrl, sharer, version)
	if err != nil {
		return nil, err
	}
	router, err := NewRouter(h)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// NewRouter wires the routes, middleware and static assets.
func NewRouter(h *Handlers) (http.Handler, error) {
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create static sub-FS: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))
	r.Use(securityHeaders)

	r.Get("/", h.HandleIndex)
	r.Post("/capture", h.HandleCapture)
	r.Post("/crop", h.HandleCropStart)
	r.Post("/crop/confirm", h.HandleCropConfirm)
	r.Post("/crop/cancel", h.HandleCropCancel)
	r.Post("/revert", h.HandleRevert)
	r.Post("/analyze", h.HandleAnalyze)
	r.Post("/reset", h.HandleReset)
	r.Post("/text", h.HandleText)

	r.Get("/history", h.HandleHistory)
	r.Post("/history/{id}/select", h.HandleHistorySelect)
	r.Post("/history/clear", h.HandleHistoryClear)
	r.Post("/view/{view}", h.HandleView)

	r.Get("/images/{id}", h.HandleImage)
	r.Get("/export/pdf", h.HandleExportPDF)
	r.Get("/export/text", h.HandleExportText)
	r.Post("/share", h.HandleShare)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// The service worker must be served from the root to control the whole app.
	r.Get("/sw.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFileFS(w, r, staticSub, "sw.js")
	})
	r.Get("/manifest.webmanifest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/manifest+json")
		http.ServeFileFS(w, r, staticSub, "manifest.webmanifest")
	})
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return r, nil
}

// securityHeaders adds security-related HTTP headers to all responses.
// Images are shown from data: URLs once history has been reloaded.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' data: blob:; worker-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request with its chi request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log := logFor(r, "http")
		event := log.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// Run starts the HTTP server and shuts it down gracefully on SIGINT/SIGTERM
// or when ctx is cancelled.
func Run(ctx context.Context, srv *http.Server) error {
	log := logger.WithComponent("web")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Str("addr", "http://"+srv.Addr).Msg("SnapCapture UI running")
	if strings.HasPrefix(srv.Addr, "0.0.0.0") || strings.HasPrefix(srv.Addr, "[::]") || strings.HasPrefix(srv.Addr, ":") {
		log.Warn().Msg("Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// logFor returns the component logger tagged with the request id.
func logFor(r *http.Request, component string) *zerolog.Logger {
	l := logger.WithRequestID(chimiddleware.GetReqID(r.Context())).With().Str("component", component).Logger()
	return &l
}
