package config

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcherReloadsPromptTemplate(t *testing.T) {
	path := writeConfig(t, validYAML)

	var mu sync.Mutex
	var got string
	w, err := NewWatcher(path, zap.NewNop(), func(template string) {
		mu.Lock()
		got = template
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	updated := strings.Replace(validYAML,
		"Weather: {{weather_json}}", "Updated: {{weather_json}}", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == "Updated: {{weather_json}}"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherKeepsTemplateOnInvalidConfig(t *testing.T) {
	path := writeConfig(t, validYAML)

	var calls int
	var mu sync.Mutex
	w, err := NewWatcher(path, zap.NewNop(), func(template string) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// Drop the required placeholder; the reload must be rejected.
	broken := strings.Replace(validYAML, "{{weather_json}}", "nothing", 1)
	require.NoError(t, os.WriteFile(path, []byte(broken), 0644))

	time.Sleep(time.Second)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := writeConfig(t, validYAML)

	w, err := NewWatcher(path, zap.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
}
