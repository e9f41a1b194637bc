package ocr

import (
	"context"
	"fmt"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"

	"snapcapture/internal/logger"
)

// imageAnnotator is the subset of *vision.ImageAnnotatorClient used here.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// VisionExtractor uses Cloud Vision document text detection.
type VisionExtractor struct {
	client imageAnnotator
	log    zerolog.Logger
}

// NewVisionExtractor creates a Vision client with credentials from the environment.
func NewVisionExtractor(ctx context.Context) (*VisionExtractor, error) {
	const op = "NewVisionExtractor"

	opts := googleCredentials()
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, WrapExtractError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapExtractError(op, err, "failed to create Vision client")
	}
	return newVisionExtractor(client), nil
}

func newVisionExtractor(client imageAnnotator) *VisionExtractor {
	return &VisionExtractor{
		client: client,
		log:    logger.WithComponent("ocr-vision"),
	}
}

// ExtractText implements Extractor. The MIME type is not needed by Vision.
func (v *VisionExtractor) ExtractText(ctx context.Context, data []byte, _ string) (string, error) {
	const op = "ExtractText"

	if err := validateImage(op, data); err != nil {
		return "", err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", WrapExtractError(op, ErrExtractionFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.Responses) == 0 {
		return "", WrapExtractError(op, ErrExtractionFailed, "no response from Vision API")
	}

	imgResp := resp.Responses[0]
	if imgResp.Error != nil {
		return "", WrapExtractError(op, ErrExtractionFailed, fmt.Sprintf("Vision API error: %s", imgResp.Error.Message))
	}
	if imgResp.FullTextAnnotation == nil {
		v.log.Debug().Msg("No text detected")
		return "", nil
	}
	return cleanText(imgResp.FullTextAnnotation.Text), nil
}

// Close closes the underlying Vision client.
func (v *VisionExtractor) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}
