// Package provider defines the generation backend interface and its
// implementations. Each backend turns a prompt into raw HTML text; the
// pipeline never cares which concrete backend produced it.
package provider

import "context"

// Request describes one generation call.
type Request struct {
	// ModelID is the provider-specific model identifier.
	ModelID string
	// Prompt is the fully rendered prompt.
	Prompt string
	// Temperature for sampling.
	Temperature float64
}

// Provider is a pluggable generation backend.
type Provider interface {
	// Name returns the backend name (ollama, openai, anthropic, gemini).
	Name() string

	// Generate produces raw text for the request. The context carries the
	// per-call deadline; a slow call is expected to fail with ctx.Err().
	Generate(ctx context.Context, req Request) (string, error)

	// IsAvailable probes whether the backend is reachable. Used for
	// startup health reporting only; it never gates generation attempts.
	IsAvailable(ctx context.Context) bool
}
