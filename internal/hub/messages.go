package hub

import (
	"encoding/json"
	"time"

	"aiweather/internal/state"
	"aiweather/internal/weather"
)

// Observer protocol: one JSON object per message, discriminated by the
// `type` field.

// StatusMessage reports connection lifecycle to the observer.
type StatusMessage struct {
	Type  string `json:"type"`
	Value string `json:"value"` // connecting, connected, disconnected
}

// ConfigInfoMessage tells a new observer which models exist and what
// prompt they answer.
type ConfigInfoMessage struct {
	Type           string   `json:"type"`
	Models         []string `json:"models"`
	PromptTemplate string   `json:"prompt_template"`
}

// WeatherMessage carries the snapshot payload.
type WeatherMessage struct {
	Type      string          `json:"type"`
	Weather   json.RawMessage `json:"weather"`
	Timestamp string          `json:"timestamp"`
}

// VisualizationMessage carries one model's slot. HTML and RawHTML are
// null until the model has ever completed.
type VisualizationMessage struct {
	Type      string  `json:"type"`
	ModelName string  `json:"model_name"`
	HTML      *string `json:"html"`
	RawHTML   *string `json:"raw_html"`
	Status    string  `json:"status"`
}

// ErrorMessage reports a pipeline error to observers.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewStatusMessage builds a status message.
func NewStatusMessage(value string) StatusMessage {
	return StatusMessage{Type: "status", Value: value}
}

// NewConfigInfoMessage builds a config_info message.
func NewConfigInfoMessage(models []string, promptTemplate string) ConfigInfoMessage {
	return ConfigInfoMessage{
		Type:           "config_info",
		Models:         models,
		PromptTemplate: promptTemplate,
	}
}

// NewWeatherMessage builds a weather_data message.
func NewWeatherMessage(snap *weather.Snapshot) WeatherMessage {
	return WeatherMessage{
		Type:      "weather_data",
		Weather:   snap.Payload,
		Timestamp: snap.CapturedAt.UTC().Format(time.RFC3339),
	}
}

// NewVisualizationMessage builds a visualization_update message from one
// model's slot.
func NewVisualizationMessage(viz state.Visualization) VisualizationMessage {
	msg := VisualizationMessage{
		Type:      "visualization_update",
		ModelName: viz.ModelName,
		Status:    string(viz.Status),
	}
	if viz.HTML != "" {
		html := viz.HTML
		msg.HTML = &html
	}
	if viz.RawHTML != "" {
		raw := viz.RawHTML
		msg.RawHTML = &raw
	}
	return msg
}

// NewErrorMessage builds an error message.
func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: message}
}
