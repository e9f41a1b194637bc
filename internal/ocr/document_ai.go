package ocr

import (
	"context"
	"fmt"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"snapcapture/internal/logger"
)

// DocumentAIConfig identifies the OCR processor to call.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
	Timeout     time.Duration
}

// ProcessorName is the fully qualified resource name of the processor.
func (c DocumentAIConfig) ProcessorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
}

// documentProcessor is the subset of *documentai.DocumentProcessorClient used here.
type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAIExtractor runs images through a Document AI OCR processor.
type DocumentAIExtractor struct {
	client documentProcessor
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIExtractor creates a client on the processor's regional endpoint.
func NewDocumentAIExtractor(ctx context.Context, cfg DocumentAIConfig) (*DocumentAIExtractor, error) {
	const op = "NewDocumentAIExtractor"

	if cfg.ProjectID == "" || cfg.ProcessorID == "" {
		return nil, WrapExtractError(op, ErrMissingCredentials, "GOOGLE_CLOUD_PROJECT and DOCUMENT_AI_PROCESSOR_ID are required")
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}

	var clientOptions []option.ClientOption
	if cfg.Location != "us" {
		clientOptions = append(clientOptions, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)))
	}
	creds := googleCredentials()
	clientOptions = append(clientOptions, creds...)

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if len(creds) == 0 {
			return nil, WrapExtractError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapExtractError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", cfg.Location))
	}
	return newDocumentAIExtractor(client, cfg), nil
}

func newDocumentAIExtractor(client documentProcessor, cfg DocumentAIConfig) *DocumentAIExtractor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &DocumentAIExtractor{
		client: client,
		config: cfg,
		log:    logger.WithComponent("ocr-document-ai"),
	}
}

// ExtractText implements Extractor.
func (d *DocumentAIExtractor) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	const op = "ExtractText"

	if err := validateImage(op, data); err != nil {
		return "", err
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	processCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: d.config.ProcessorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mimeType,
			},
		},
	}

	d.log.Debug().Str("processor", req.Name).Int("bytes", len(data)).Msg("Processing image")

	resp, err := d.client.ProcessDocument(processCtx, req)
	if err != nil {
		return "", WrapExtractError(op, ErrExtractionFailed, fmt.Sprintf("Document AI call failed: %v", err))
	}
	if resp.Document == nil {
		return "", WrapExtractError(op, ErrExtractionFailed, "no document in response")
	}
	return cleanText(resp.Document.Text), nil
}

// Close closes the underlying Document AI client.
func (d *DocumentAIExtractor) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
