package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aiweather/internal/config"
	"aiweather/internal/normalize"
	"aiweather/internal/provider"
	"aiweather/internal/state"
)

// Job is one model's generation task within a round.
type Job struct {
	ModelName   string
	Provider    provider.Provider
	ModelID     string
	Temperature float64
	// Timeout bounds the provider call; on expiry the job settles as
	// failed.
	Timeout time.Duration
}

// StartFunc is invoked as each job's provider call begins.
type StartFunc func(modelName string)

// CompleteFunc is invoked as each job settles. On success html carries
// the normalized document and raw the unmodified provider output; on
// failure both are empty and status is StatusFailed.
type CompleteFunc func(modelName, html, raw string, status state.Status)

// Coordinator fans one generation task per model out concurrently and
// reports each result as it lands, not waiting for the slowest model.
type Coordinator struct {
	// MaxConcurrent caps simultaneous provider calls; zero means no cap.
	MaxConcurrent int
	logger        *zap.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(maxConcurrent int, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		MaxConcurrent: maxConcurrent,
		logger:        logger.Named("coordinator"),
	}
}

// Run launches every job concurrently and returns once all of them have
// settled. Callbacks fire progressively in completion order; a mutex
// serializes them so each state-write/archive/broadcast sequence is
// atomic. One job's failure or timeout never cancels or delays its
// siblings.
func (c *Coordinator) Run(ctx context.Context, jobs []Job, prompt string, onStart StartFunc, onComplete CompleteFunc) {
	var mu sync.Mutex

	g := &errgroup.Group{}
	if c.MaxConcurrent > 0 {
		g.SetLimit(c.MaxConcurrent)
	}

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			c.runJob(ctx, job, prompt, &mu, onStart, onComplete)
			return nil
		})
	}

	_ = g.Wait()
}

func (c *Coordinator) runJob(ctx context.Context, job Job, prompt string, mu *sync.Mutex, onStart StartFunc, onComplete CompleteFunc) {
	if onStart != nil {
		mu.Lock()
		onStart(job.ModelName)
		mu.Unlock()
	}

	callCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := job.Provider.Generate(callCtx, provider.Request{
		ModelID:     job.ModelID,
		Prompt:      prompt,
		Temperature: job.Temperature,
	})

	if err != nil {
		c.logger.Error("generation failed",
			zap.String("model", job.ModelName),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		mu.Lock()
		onComplete(job.ModelName, "", "", state.StatusFailed)
		mu.Unlock()
		return
	}

	if strings.TrimSpace(normalize.StripFences(raw)) == "" {
		c.logger.Error("generation produced empty output", zap.String("model", job.ModelName))
		mu.Lock()
		onComplete(job.ModelName, "", "", state.StatusFailed)
		mu.Unlock()
		return
	}
	html := normalize.Normalize(raw)

	c.logger.Info("generation complete",
		zap.String("model", job.ModelName),
		zap.Int("length", len(html)),
		zap.Duration("elapsed", time.Since(start)))

	mu.Lock()
	onComplete(job.ModelName, html, raw, state.StatusComplete)
	mu.Unlock()
}

// RenderPrompt substitutes the weather JSON into the prompt template.
// The payload is pretty-printed when possible so models see readable
// input; unparseable payloads pass through as-is.
func RenderPrompt(template string, payload json.RawMessage) string {
	formatted := string(payload)
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err == nil {
		formatted = buf.String()
	}
	return strings.ReplaceAll(template, config.WeatherPlaceholder, formatted)
}
