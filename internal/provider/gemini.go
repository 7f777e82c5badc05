package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"aiweather/internal/config"
)

// GeminiClient implements Provider for the Google Gemini API via the
// genai SDK.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	logger *zap.Logger
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(cfg config.GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key not configured")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client: client,
		apiKey: cfg.APIKey,
		logger: logger.Named("gemini"),
	}, nil
}

// Name returns "gemini".
func (c *GeminiClient) Name() string { return "gemini" }

// Generate sends the prompt to the model and returns the text response.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx,
		req.ModelID,
		contents,
		&genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(req.Temperature)),
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("gemini response contained no text")
	}

	c.logger.Debug("generation finished",
		zap.String("model", req.ModelID),
		zap.Int("length", len(text)),
		zap.Duration("elapsed", time.Since(start)))

	return text, nil
}

// IsAvailable reports whether a key is configured. The SDK has no cheap
// ping endpoint, so this only checks configuration.
func (c *GeminiClient) IsAvailable(ctx context.Context) bool {
	return c.apiKey != ""
}
