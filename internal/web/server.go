// Package web exposes the orchestrator over HTTP: registration of
// agents and tools, workflow building and execution, run reports, and
// a websocket feed of engine events.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/troupehq/troupe/internal/bus"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/engine"
	"github.com/troupehq/troupe/internal/gateway"
	"github.com/troupehq/troupe/internal/registry"
	"github.com/troupehq/troupe/internal/store"
	"github.com/troupehq/troupe/internal/workflow"
	"github.com/nats-io/nats.go"
)

type Server struct {
	registry  *registry.Registry
	gateway   *gateway.Gateway
	workflows *workflow.Manager
	engine    *engine.Engine
	store     *store.Store
	bus       *bus.Server
	nats      *bus.Client
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

func NewServer(reg *registry.Registry, gw *gateway.Gateway, mgr *workflow.Manager, eng *engine.Engine, st *store.Store, b *bus.Server, cfg config.WebConfig, version string) *Server {
	return &Server{
		registry:  reg,
		gateway:   gw,
		workflows: mgr,
		engine:    eng,
		store:     st,
		bus:       b,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.subscribeEvents()

	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	handler := s.withMiddleware(mux)
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" {
			_, pass, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="troupe"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// subscribeEvents forwards engine events from NATS to websocket
// clients.
func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}
	client, err := bus.NewClient(s.bus)
	if err != nil {
		slog.Error("web server nats client failed", "error", err)
		return
	}
	s.nats = client

	_, _ = client.Subscribe(bus.TopicEventsAll, func(msg *nats.Msg) {
		var payload map[string]any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			slog.Warn("invalid event payload", "topic", msg.Subject, "error", err)
			return
		}
		s.hub.Broadcast(Event{Topic: msg.Subject, Payload: payload})
	})
}
