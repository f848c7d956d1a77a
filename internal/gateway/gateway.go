// Package gateway is the boundary adapter for calling external
// collaborators, either agent logic or external tools, over a handful
// of transport styles. Every call returns a uniform result envelope so
// the engine never needs transport-specific error handling.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/store"
	"github.com/troupehq/troupe/internal/vault"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrUnknownTransport = errors.New("unknown transport")
)

// TransportKind selects how a tool is reached.
type TransportKind string

const (
	TransportRequestResponse TransportKind = "request_response"
	TransportStreaming       TransportKind = "streaming"
	TransportProcess         TransportKind = "process"
)

// Tool describes one registered external collaborator. The engine never
// mutates a Tool; it is purely a registration record.
type Tool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	Transport    TransportKind  `json:"transport"`
	Endpoint     string         `json:"endpoint"`
	Credential   string         `json:"-"`
	Capabilities []string       `json:"capabilities,omitempty"`
}

// Metadata describes where and how a call was served.
type Metadata struct {
	Transport    TransportKind `json:"transport"`
	Endpoint     string        `json:"endpoint"`
	Capabilities []string      `json:"capabilities,omitempty"`
}

// Result is the uniform envelope for a single invocation. Failures are
// values, not errors, so batch callers can always continue.
type Result struct {
	Success  bool           `json:"success"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata Metadata       `json:"metadata"`
}

// Call is one entry in a batch invocation.
type Call struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Gateway routes invocations to registered tools. Session-scoped
// connection state is created lazily per session id and must be
// released via CleanupSession.
type Gateway struct {
	mu    sync.RWMutex
	tools map[string]Tool

	sessMu   sync.Mutex
	sessions map[string]*session

	transports map[TransportKind]transport
	vault      *vault.Vault
	store      *store.Store
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithVault enables credential sealing for persisted tool records.
func WithVault(v *vault.Vault) Option {
	return func(g *Gateway) { g.vault = v }
}

// WithStore persists tool registration records.
func WithStore(s *store.Store) Option {
	return func(g *Gateway) { g.store = s }
}

func New(cfg config.GatewayConfig, opts ...Option) *Gateway {
	g := &Gateway{
		tools:    make(map[string]Tool),
		sessions: make(map[string]*session),
		transports: map[TransportKind]transport{
			TransportRequestResponse: newHTTPTransport(cfg.RequestTimeout),
			TransportStreaming:       newStreamTransport(cfg.RequestTimeout),
			TransportProcess:         &processTransport{},
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register adds a tool. Re-registering a name replaces the descriptor;
// existing session connections to the old endpoint are left to age out
// via CleanupSession.
func (g *Gateway) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if _, ok := g.transports[t.Transport]; !ok {
		return fmt.Errorf("register tool %q: transport %q: %w", t.Name, t.Transport, ErrUnknownTransport)
	}

	g.mu.Lock()
	g.tools[t.Name] = t
	g.mu.Unlock()

	if g.store != nil {
		rec := &store.ToolRecord{
			Name:         t.Name,
			Description:  t.Description,
			Transport:    string(t.Transport),
			Endpoint:     t.Endpoint,
			Capabilities: t.Capabilities,
		}
		if t.Credential != "" && g.vault != nil {
			sealed, err := g.vault.Seal(t.Credential)
			if err != nil {
				return fmt.Errorf("seal credential for %q: %w", t.Name, err)
			}
			rec.Credential = sealed
		}
		if err := g.store.SaveToolRecord(rec); err != nil {
			slog.Warn("failed to persist tool record", "tool", t.Name, "error", err)
		}
	}

	slog.Info("tool registered", "tool", t.Name, "transport", t.Transport, "endpoint", t.Endpoint)
	return nil
}

// Deregister removes a tool.
func (g *Gateway) Deregister(name string) error {
	g.mu.Lock()
	_, ok := g.tools[name]
	delete(g.tools, name)
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("tool %q: %w", name, ErrUnknownTool)
	}
	if g.store != nil {
		if err := g.store.DeleteToolRecord(name); err != nil {
			slog.Warn("failed to delete tool record", "tool", name, "error", err)
		}
	}
	return nil
}

// Tools lists registered tool descriptors.
func (g *Gateway) Tools() []Tool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Tool, 0, len(g.tools))
	for _, t := range g.tools {
		out = append(out, t)
	}
	return out
}

// Invoke calls a tool and returns the uniform envelope. An unregistered
// tool name yields a structured failure, never a Go error, so batch
// callers can continue past it.
func (g *Gateway) Invoke(ctx context.Context, toolName string, params map[string]any, sessionID string) Result {
	g.mu.RLock()
	tool, ok := g.tools[toolName]
	g.mu.RUnlock()

	if !ok {
		return Result{
			Success: false,
			Error:   fmt.Sprintf("%v: %s", ErrUnknownTool, toolName),
		}
	}

	meta := Metadata{
		Transport:    tool.Transport,
		Endpoint:     tool.Endpoint,
		Capabilities: tool.Capabilities,
	}

	sess := g.session(sessionID)
	started := time.Now()
	out, err := g.transports[tool.Transport].call(ctx, sess, tool, params)
	if err != nil {
		slog.Debug("tool invocation failed",
			"tool", toolName, "session", sessionID, "elapsed", time.Since(started), "error", err)
		return Result{Success: false, Error: err.Error(), Metadata: meta}
	}

	return Result{Success: true, Result: out, Metadata: meta}
}

// InvokeBatch runs every call concurrently and returns a result list of
// the same length. A failure in any single call becomes a failed entry
// at that call's position and never aborts its siblings.
func (g *Gateway) InvokeBatch(ctx context.Context, calls []Call, sessionID string) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			results[i] = g.Invoke(ctx, call.ToolName, call.Parameters, sessionID)
		}(i, call)
	}
	wg.Wait()

	return results
}

// CleanupSession releases every connection held for a session. Safe to
// call for a session that was never used. All resources are released
// even when individual closes fail.
func (g *Gateway) CleanupSession(sessionID string) {
	g.sessMu.Lock()
	sess, ok := g.sessions[sessionID]
	delete(g.sessions, sessionID)
	g.sessMu.Unlock()

	if !ok {
		return
	}
	sess.closeAll()
	slog.Debug("session cleaned up", "session", sessionID)
}

// session returns the lazily created state for a session id.
func (g *Gateway) session(id string) *session {
	g.sessMu.Lock()
	defer g.sessMu.Unlock()

	s, ok := g.sessions[id]
	if !ok {
		s = newSession(id)
		g.sessions[id] = s
	}
	return s
}
