// Package server exposes the web surface: the static page, the
// observer WebSocket, and the health endpoint.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"aiweather/internal/config"
	"aiweather/internal/hub"
	"aiweather/internal/provider"
)

const (
	// writeWait bounds a single WebSocket write.
	writeWait = 10 * time.Second
	// pingPeriod keeps idle connections alive through proxies.
	pingPeriod = 30 * time.Second
)

// Server is the HTTP front of the pipeline. The WebSocket is
// server-push only; observer frames are read and discarded.
type Server struct {
	cfg       *config.Config
	hub       *hub.Hub
	providers provider.Registry
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	httpSrv   *http.Server
}

// New creates the server and its router.
func New(cfg *config.Config, h *hub.Hub, providers provider.Registry, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		hub:       h,
		providers: providers,
		logger:    logger.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The page and the socket are same-origin; the payload is
			// public weather data.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.Server.StaticDir))))
	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}
	return s
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called; a clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Server.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the listener. Open WebSockets close when the hub
// stops their observers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.cfg.Server.StaticDir, "index.html"))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	obs := s.hub.Register()
	defer s.hub.Unregister(obs.ID)
	defer conn.Close()

	// Reader discards inbound frames and surfaces the close.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-obs.Messages():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("websocket write failed", zap.String("id", obs.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-obs.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
			return
		case <-readClosed:
			return
		}
	}
}

type healthResponse struct {
	Status    string          `json:"status"`
	Observers int             `json:"observers"`
	Models    []string        `json:"models"`
	Providers map[string]bool `json:"providers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	avail := make(map[string]bool, len(s.providers))
	for name, p := range s.providers {
		avail[name] = p.IsAvailable(ctx)
	}

	resp := healthResponse{
		Status:    "ok",
		Observers: s.hub.Count(),
		Models:    s.cfg.EnabledModelNames(),
		Providers: avail,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("health encode failed", zap.Error(err))
	}
}
