// Package config loads and validates aiweather configuration from YAML,
// with environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all aiweather configuration.
type Config struct {
	// Weather source
	Weather WeatherConfig `yaml:"weather"`

	// AI models that render visualizations
	Models []ModelConfig `yaml:"models"`

	// Provider backends
	Ollama    OllamaConfig    `yaml:"ollama"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Gemini    GeminiConfig    `yaml:"gemini"`

	// Prompt template
	Prompt PromptConfig `yaml:"prompt"`

	// Generation behavior
	Generation GenerationConfig `yaml:"generation"`

	// Refresh scheduling
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Archive storage
	Storage StorageConfig `yaml:"storage"`

	// HTTP server
	Server ServerConfig `yaml:"server"`
}

// WeatherConfig configures the OpenWeather One Call client.
type WeatherConfig struct {
	APIKey  string  `yaml:"api_key"`
	Lat     float64 `yaml:"lat"`
	Lon     float64 `yaml:"lon"`
	Units   string  `yaml:"units"`   // metric, imperial, standard
	Timeout string  `yaml:"timeout"` // request timeout
}

// ModelConfig configures one AI model entry.
type ModelConfig struct {
	Name     string  `yaml:"name"`     // display name, unique
	Provider string  `yaml:"provider"` // ollama, openai, anthropic, gemini
	ModelID  string  `yaml:"model_id"` // provider-specific identifier
	Timeout  string  `yaml:"timeout"`  // per-call generation timeout
	Temp     float64 `yaml:"temperature"`
	Enabled  *bool   `yaml:"enabled"` // nil means enabled
}

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	BaseURL   string `yaml:"base_url"`
	KeepAlive string `yaml:"keep_alive"` // e.g. "5m", "0" to unload immediately
}

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig configures the Google Gemini backend.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

// PromptConfig holds the prompt template.
type PromptConfig struct {
	// Template must contain the {{weather_json}} placeholder.
	Template string `yaml:"template"`
}

// GenerationConfig controls the fan-out round.
type GenerationConfig struct {
	// Timeout bounds each provider call; a slow call becomes a failed model.
	Timeout string `yaml:"timeout"`
	// MaxConcurrent caps simultaneous provider calls; 0 means unbounded.
	MaxConcurrent int `yaml:"max_concurrent"`
	// ArchiveFailed writes a placeholder artifact for failed models.
	ArchiveFailed bool `yaml:"archive_failed"`
}

// SchedulerConfig configures the hourly refresh.
type SchedulerConfig struct {
	// RefreshMinute is the minute of each hour the refresh fires.
	RefreshMinute int `yaml:"refresh_minute"`
	// Cadence between refreshes. Data older than this is considered stale.
	Cadence string `yaml:"cadence"`
}

// StorageConfig configures the on-disk archive.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// DefaultPromptTemplate is used when the config does not provide one.
const DefaultPromptTemplate = `You are given current weather data as JSON:

{{weather_json}}

Create a single self-contained HTML page (inline CSS, no external resources)
that visualizes this weather beautifully. Respond with only the HTML.`

// DefaultConfig returns a config with sensible defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Weather: WeatherConfig{
			Units:   "metric",
			Timeout: "30s",
		},
		Ollama: OllamaConfig{
			BaseURL:   "http://localhost:11434",
			KeepAlive: "5m",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Anthropic: AnthropicConfig{
			BaseURL: "https://api.anthropic.com/v1",
		},
		Prompt: PromptConfig{
			Template: DefaultPromptTemplate,
		},
		Generation: GenerationConfig{
			Timeout:       "20m",
			MaxConcurrent: 0,
		},
		Scheduler: SchedulerConfig{
			RefreshMinute: 0,
			Cadence:       "1h",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Server: ServerConfig{
			Addr:      ":8080",
			StaticDir: "static",
		},
	}
}

// Load loads configuration from a YAML file, applies defaults and
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides for secrets.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENWEATHER_API_KEY"); key != "" {
		c.Weather.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Anthropic.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		c.Ollama.BaseURL = url
	}
	if dir := os.Getenv("AIWEATHER_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
}

// ValidProviders lists all supported generation backends.
var ValidProviders = []string{"ollama", "openai", "anthropic", "gemini"}

// WeatherPlaceholder is the substring the prompt template must contain.
const WeatherPlaceholder = "{{weather_json}}"

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Weather.APIKey == "" {
		return fmt.Errorf("weather API key not configured (set weather.api_key or OPENWEATHER_API_KEY)")
	}
	if c.Weather.Lat < -90 || c.Weather.Lat > 90 {
		return fmt.Errorf("weather latitude out of range: %v", c.Weather.Lat)
	}
	if c.Weather.Lon < -180 || c.Weather.Lon > 180 {
		return fmt.Errorf("weather longitude out of range: %v", c.Weather.Lon)
	}

	if len(c.EnabledModels()) == 0 {
		return fmt.Errorf("no enabled models configured")
	}

	seen := make(map[string]bool)
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("model with empty name")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate model name: %s", m.Name)
		}
		seen[m.Name] = true

		valid := false
		for _, p := range ValidProviders {
			if m.Provider == p {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("model %s: invalid provider %q (valid: %v)", m.Name, m.Provider, ValidProviders)
		}
		if m.ModelID == "" {
			return fmt.Errorf("model %s: model_id required", m.Name)
		}
	}

	if !strings.Contains(c.Prompt.Template, WeatherPlaceholder) {
		return fmt.Errorf("prompt template must contain %s placeholder", WeatherPlaceholder)
	}

	if c.Scheduler.RefreshMinute < 0 || c.Scheduler.RefreshMinute > 59 {
		return fmt.Errorf("scheduler refresh_minute out of range: %d", c.Scheduler.RefreshMinute)
	}

	return nil
}

// IsEnabled reports whether the model entry is enabled.
func (m ModelConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// EnabledModels returns the enabled model entries in config order.
func (c *Config) EnabledModels() []ModelConfig {
	var out []ModelConfig
	for _, m := range c.Models {
		if m.IsEnabled() {
			out = append(out, m)
		}
	}
	return out
}

// EnabledModelNames returns the display names of enabled models in config order.
func (c *Config) EnabledModelNames() []string {
	var names []string
	for _, m := range c.EnabledModels() {
		names = append(names, m.Name)
	}
	return names
}

// GetWeatherTimeout returns the weather request timeout as a duration.
func (c *Config) GetWeatherTimeout() time.Duration {
	d, err := time.ParseDuration(c.Weather.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetGenerationTimeout returns the default per-call generation timeout.
func (c *Config) GetGenerationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Generation.Timeout)
	if err != nil {
		return 20 * time.Minute
	}
	return d
}

// GetModelTimeout returns the per-call timeout for one model, falling back
// to the generation default.
func (c *Config) GetModelTimeout(m ModelConfig) time.Duration {
	if m.Timeout == "" {
		return c.GetGenerationTimeout()
	}
	d, err := time.ParseDuration(m.Timeout)
	if err != nil {
		return c.GetGenerationTimeout()
	}
	return d
}

// GetCadence returns the refresh cadence as a duration.
func (c *Config) GetCadence() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.Cadence)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
