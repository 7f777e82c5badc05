// Package archive persists each refresh cycle to disk: the raw weather
// snapshot, round metadata, and one rendered artifact per completed
// model. Layout: <data_dir>/YYYY-MM/DD-HH/.
//
// Writes are best-effort side effects of the live pipeline. A failed
// write is logged by the caller and never aborts or rolls back a round.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	metadataFile = "metadata.json"
	weatherFile  = "weather.json"
)

// Metadata describes one archived cycle.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Models    []string  `json:"models"`
	Prompt    string    `json:"prompt"`
}

// Cycle is one loaded archive directory.
type Cycle struct {
	CapturedAt time.Time
	Weather    json.RawMessage
	Metadata   Metadata
	// Visualizations maps model name to the raw archived artifact.
	Visualizations map[string]string
}

// Archive manages the on-disk cycle archive.
type Archive struct {
	baseDir string
	logger  *zap.Logger
}

// New creates an archive rooted at baseDir, creating it if needed.
func New(baseDir string, logger *zap.Logger) (*Archive, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{
		baseDir: baseDir,
		logger:  logger.Named("archive"),
	}, nil
}

// CycleDir returns the directory for the cycle captured at t.
func (a *Archive) CycleDir(t time.Time) string {
	t = t.UTC()
	return filepath.Join(a.baseDir, t.Format("2006-01"), t.Format("02-15"))
}

// ModelFilename maps a model display name to its artifact filename.
func ModelFilename(modelName string) string {
	safe := strings.NewReplacer(" ", "_", "/", "_").Replace(modelName)
	return safe + ".html"
}

// SaveMetadata writes metadata.json for the cycle.
func (a *Archive) SaveMetadata(t time.Time, models []string, prompt string) error {
	dir := a.CycleDir(t)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cycle directory: %w", err)
	}

	meta := Metadata{
		Timestamp: t.UTC(),
		Models:    models,
		Prompt:    prompt,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	a.logger.Info("metadata saved", zap.String("dir", dir), zap.Int("models", len(models)))
	return nil
}

// SaveWeather writes weather.json for the cycle.
func (a *Archive) SaveWeather(t time.Time, payload json.RawMessage) error {
	dir := a.CycleDir(t)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cycle directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, weatherFile), payload, 0644); err != nil {
		return fmt.Errorf("failed to write weather: %w", err)
	}

	a.logger.Info("weather saved", zap.String("dir", dir))
	return nil
}

// SaveVisualization writes the raw artifact for one completed model.
func (a *Archive) SaveVisualization(t time.Time, modelName, raw string) error {
	dir := a.CycleDir(t)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cycle directory: %w", err)
	}
	path := filepath.Join(dir, ModelFilename(modelName))
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		return fmt.Errorf("failed to write visualization: %w", err)
	}

	a.logger.Info("visualization saved", zap.String("model", modelName), zap.String("path", path))
	return nil
}

// SaveFailurePlaceholder writes a placeholder artifact for a failed
// model. Placeholders use a distinct suffix so they never count as
// completed artifacts.
func (a *Archive) SaveFailurePlaceholder(t time.Time, modelName, reason string) error {
	dir := a.CycleDir(t)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cycle directory: %w", err)
	}
	safe := strings.TrimSuffix(ModelFilename(modelName), ".html")
	path := filepath.Join(dir, safe+".failed.html")
	body := fmt.Sprintf("<!DOCTYPE html>\n<html>\n<body>\n<p>Generation failed for %s: %s</p>\n</body>\n</html>\n", modelName, reason)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return fmt.Errorf("failed to write placeholder: %w", err)
	}
	return nil
}

// MissingModels returns the configured models without a completed
// artifact for the cycle.
func (a *Archive) MissingModels(t time.Time, models []string) []string {
	dir := a.CycleDir(t)
	var missing []string
	for _, m := range models {
		if _, err := os.Stat(filepath.Join(dir, ModelFilename(m))); err != nil {
			missing = append(missing, m)
		}
	}
	return missing
}

// LoadLatest loads the most recent cycle directory, or nil when no
// archive data exists.
func (a *Archive) LoadLatest(models []string) (*Cycle, error) {
	latest, err := a.findLatestDir()
	if err != nil {
		return nil, err
	}
	if latest == "" {
		return nil, nil
	}
	return a.loadCycle(latest, models)
}

// findLatestDir walks down the two-level layout picking the
// lexicographically greatest entry at each level. Directory names sort
// chronologically by construction.
func (a *Archive) findLatestDir() (string, error) {
	yearMonth, err := latestSubdir(a.baseDir)
	if err != nil || yearMonth == "" {
		return "", err
	}
	dayHour, err := latestSubdir(yearMonth)
	if err != nil || dayHour == "" {
		return "", err
	}
	return dayHour, nil
}

func latestSubdir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read archive directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

func (a *Archive) loadCycle(dir string, models []string) (*Cycle, error) {
	cycle := &Cycle{Visualizations: make(map[string]string)}

	if data, err := os.ReadFile(filepath.Join(dir, metadataFile)); err == nil {
		if err := json.Unmarshal(data, &cycle.Metadata); err != nil {
			a.logger.Warn("bad metadata, skipping", zap.String("dir", dir), zap.Error(err))
		}
	}
	cycle.CapturedAt = cycle.Metadata.Timestamp
	if cycle.CapturedAt.IsZero() {
		// Older archives without metadata: derive from the dir names.
		if t, err := time.Parse("2006-01/02-15", filepath.Join(filepath.Base(filepath.Dir(dir)), filepath.Base(dir))); err == nil {
			cycle.CapturedAt = t.UTC()
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, weatherFile)); err == nil {
		cycle.Weather = json.RawMessage(data)
	}

	for _, m := range models {
		data, err := os.ReadFile(filepath.Join(dir, ModelFilename(m)))
		if err != nil {
			continue
		}
		cycle.Visualizations[m] = string(data)
	}

	a.logger.Info("cycle loaded",
		zap.String("dir", dir),
		zap.Time("captured_at", cycle.CapturedAt),
		zap.Int("visualizations", len(cycle.Visualizations)))

	return cycle, nil
}
