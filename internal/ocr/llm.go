package ocr

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"snapcapture/internal/logger"
)

const (
	// GeminiBaseURL is Gemini's OpenAI-compatible endpoint.
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultOpenAIModel = openai.GPT4oMini
)

// chatClient is the subset of *openai.Client used here.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatExtractor sends the image and Prompt to a multimodal chat model.
type ChatExtractor struct {
	client chatClient
	model  string
	log    zerolog.Logger
}

// NewGeminiExtractor creates an extractor for Gemini. An empty model selects
// DefaultGeminiModel.
func NewGeminiExtractor(apiKey, model string) (*ChatExtractor, error) {
	const op = "NewGeminiExtractor"
	if apiKey == "" {
		return nil, WrapExtractError(op, ErrMissingCredentials, "GEMINI_API_KEY is not set")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = GeminiBaseURL
	return newChatExtractor(openai.NewClientWithConfig(cfg), model, "gemini"), nil
}

// NewOpenAIExtractor creates an extractor for an OpenAI-compatible endpoint.
// An empty baseURL uses the public OpenAI API.
func NewOpenAIExtractor(apiKey, baseURL, model string) (*ChatExtractor, error) {
	const op = "NewOpenAIExtractor"
	if apiKey == "" {
		return nil, WrapExtractError(op, ErrMissingCredentials, "OPENAI_API_KEY is not set")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newChatExtractor(openai.NewClientWithConfig(cfg), model, "openai"), nil
}

func newChatExtractor(client chatClient, model, provider string) *ChatExtractor {
	return &ChatExtractor{
		client: client,
		model:  model,
		log:    logger.WithComponent("ocr-" + provider),
	}
}

// ExtractText implements Extractor.
func (c *ChatExtractor) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	const op = "ExtractText"

	if err := validateImage(op, data); err != nil {
		return "", err
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	c.log.Debug().
		Str("model", c.model).
		Str("mime_type", mimeType).
		Int("bytes", len(data)).
		Msg("Sending image for text extraction")

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: Prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", WrapExtractError(op, fmt.Errorf("%w: %v", ErrExtractionFailed, err), "chat completion request failed")
	}
	if len(resp.Choices) == 0 {
		return "", WrapExtractError(op, ErrExtractionFailed, "no response choices")
	}

	text := cleanText(resp.Choices[0].Message.Content)
	c.log.Debug().Int("chars", len(text)).Msg("Text extracted")
	return text, nil
}
