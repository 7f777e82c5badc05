package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"aiweather/internal/config"
)

// OllamaClient implements Provider for a local Ollama server.
type OllamaClient struct {
	baseURL    string
	keepAlive  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOllamaClient creates an Ollama client.
func NewOllamaClient(cfg config.OllamaConfig, logger *zap.Logger) *OllamaClient {
	return &OllamaClient{
		baseURL:   cfg.BaseURL,
		keepAlive: cfg.KeepAlive,
		// No client-level timeout: generation runs for minutes and is
		// bounded by the per-call context deadline instead.
		httpClient: &http.Client{},
		logger:     logger.Named("ollama"),
	}
}

// Name returns "ollama".
func (c *OllamaClient) Name() string { return "ollama" }

type ollamaGenerateRequest struct {
	Model     string                 `json:"model"`
	Prompt    string                 `json:"prompt"`
	Stream    bool                   `json:"stream"`
	KeepAlive string                 `json:"keep_alive,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate streams a completion from /api/generate and returns the
// accumulated text.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (string, error) {
	body := ollamaGenerateRequest{
		Model:     req.ModelID,
		Prompt:    req.Prompt,
		Stream:    true,
		KeepAlive: c.keepAlive,
		Options: map[string]interface{}{
			"temperature": req.Temperature,
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody ollamaGenerateChunk
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return "", fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, errBody.Error)
		}
		return "", fmt.Errorf("ollama error (status %d)", resp.StatusCode)
	}

	// One JSON object per line until done:true.
	var accumulated bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaGenerateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama stream error: %s", chunk.Error)
		}
		accumulated.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("ollama stream read failed: %w", err)
	}

	c.logger.Debug("generation finished",
		zap.String("model", req.ModelID),
		zap.Int("length", accumulated.Len()),
		zap.Duration("elapsed", time.Since(start)))

	return accumulated.String(), nil
}

// IsAvailable reports whether the Ollama server responds to /api/tags.
func (c *OllamaClient) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
