package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aiweather/internal/config"
	"aiweather/internal/hub"
	"aiweather/internal/provider"
	"aiweather/internal/state"
)

type stubProvider struct {
	available bool
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Generate(ctx context.Context, req provider.Request) (string, error) {
	return "<html></html>", nil
}

func (s *stubProvider) IsAvailable(ctx context.Context) bool { return s.available }

func newTestServer(t *testing.T) (*Server, *hub.Hub, *httptest.Server) {
	t.Helper()

	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(staticDir, "index.html"),
		[]byte("<!DOCTYPE html><html><body>aiweather</body></html>"), 0o644))

	cfg := config.DefaultConfig()
	cfg.Models = []config.ModelConfig{
		{Name: "Model A", Provider: "ollama", ModelID: "a1"},
	}
	cfg.Server.StaticDir = staticDir

	logger := zap.NewNop()
	store := state.NewStore(cfg.EnabledModelNames(), cfg.Prompt.Template, logger)
	h := hub.New(store, logger)
	t.Cleanup(h.Close)

	providers := provider.Registry{"ollama": &stubProvider{available: true}}
	srv := New(cfg, h, providers, logger)

	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return srv, h, ts
}

func TestIndexServed(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status    string          `json:"status"`
		Observers int             `json:"observers"`
		Models    []string        `json:"models"`
		Providers map[string]bool `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.Observers)
	assert.Equal(t, []string{"Model A"}, body.Models)
	assert.Equal(t, map[string]bool{"ollama": true}, body.Providers)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestWebSocketReplaysState(t *testing.T) {
	_, _, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, "status", msg["type"])
	assert.Equal(t, "connected", msg["value"])

	msg = readMessage(t, conn)
	assert.Equal(t, "config_info", msg["type"])

	// No snapshot yet, so the replay jumps straight to the idle slot.
	msg = readMessage(t, conn)
	assert.Equal(t, "visualization_update", msg["type"])
	assert.Equal(t, "Model A", msg["model_name"])
	assert.Equal(t, "idle", msg["status"])
}

func TestWebSocketReceivesBroadcast(t *testing.T) {
	_, h, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	// Drain the replay: status, config_info, one visualization.
	for i := 0; i < 3; i++ {
		readMessage(t, conn)
	}

	require.Eventually(t, func() bool { return h.Count() == 1 },
		time.Second, 10*time.Millisecond)
	h.Broadcast(hub.NewErrorMessage("round failed"))

	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "round failed", msg["message"])
}

func TestWebSocketClientDisconnectUnregisters(t *testing.T) {
	_, h, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Count() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return h.Count() == 0 },
		time.Second, 10*time.Millisecond)
}
