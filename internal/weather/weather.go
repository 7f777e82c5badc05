// Package weather fetches current conditions from the OpenWeather One
// Call API and defines the snapshot type the rest of the pipeline
// consumes.
package weather

import (
	"encoding/json"
	"time"
)

// Snapshot is the weather data captured at the start of a refresh cycle.
// Immutable once fetched.
type Snapshot struct {
	// Payload is the raw `current` object from the One Call response.
	Payload json.RawMessage
	// CapturedAt is the capture time truncated to the hour.
	CapturedAt time.Time
}

// CycleID identifies the refresh cycle this snapshot belongs to. Derived
// deterministically from the capture hour, so re-fetching within the same
// hour maps to the same archive directory.
func (s *Snapshot) CycleID() string {
	return s.CapturedAt.UTC().Format("2006-01-02T15")
}
