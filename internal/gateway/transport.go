package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// transport maps one invocation onto the wire. Implementations return
// the decoded response payload or an error; the gateway wraps either
// into the uniform envelope.
type transport interface {
	call(ctx context.Context, sess *session, tool Tool, params map[string]any) (map[string]any, error)
}

// invocationRequest is the JSON body sent to request/response and
// streaming collaborators.
type invocationRequest struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	SessionID  string         `json:"session_id"`
}

// httpTransport posts one JSON request per call. No per-session state.
type httpTransport struct {
	client *http.Client
}

func newHTTPTransport(timeout time.Duration) *httpTransport {
	return &httpTransport{client: &http.Client{Timeout: timeout}}
}

func (t *httpTransport) call(ctx context.Context, sess *session, tool Tool, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(invocationRequest{Tool: tool.Name, Parameters: params, SessionID: sess.id})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tool.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tool.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+tool.Credential)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", tool.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("call %s: status %d: %s", tool.Endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// streamTransport talks to websocket collaborators. Connections are
// dialed lazily per (session, tool) and reused until CleanupSession.
// The collaborator sends any number of {"chunk": ...} frames followed
// by a final frame with "done": true carrying the result payload.
type streamTransport struct {
	dialer  *websocket.Dialer
	timeout time.Duration
}

func newStreamTransport(timeout time.Duration) *streamTransport {
	return &streamTransport{
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		timeout: timeout,
	}
}

func (t *streamTransport) call(ctx context.Context, sess *session, tool Tool, params map[string]any) (map[string]any, error) {
	sc, err := sess.stream(tool.Name, func() (*websocket.Conn, error) {
		header := http.Header{}
		if tool.Credential != "" {
			header.Set("Authorization", "Bearer "+tool.Credential)
		}
		conn, _, err := t.dialer.DialContext(ctx, tool.Endpoint, header)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", tool.Endpoint, err)
		}
		return conn, nil
	})
	if err != nil {
		return nil, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = sc.conn.SetReadDeadline(deadline)
		_ = sc.conn.SetWriteDeadline(deadline)
	} else if t.timeout > 0 {
		_ = sc.conn.SetReadDeadline(time.Now().Add(t.timeout))
		_ = sc.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	}

	if err := sc.conn.WriteJSON(invocationRequest{Tool: tool.Name, Parameters: params, SessionID: sess.id}); err != nil {
		sess.drop(tool.Name)
		return nil, fmt.Errorf("write to %s: %w", tool.Endpoint, err)
	}

	var chunks []any
	for {
		var frame map[string]any
		if err := sc.conn.ReadJSON(&frame); err != nil {
			sess.drop(tool.Name)
			return nil, fmt.Errorf("read from %s: %w", tool.Endpoint, err)
		}

		if chunk, ok := frame["chunk"]; ok {
			chunks = append(chunks, chunk)
			continue
		}
		if done, _ := frame["done"].(bool); done {
			delete(frame, "done")
			if len(chunks) > 0 {
				frame["chunks"] = chunks
			}
			return frame, nil
		}
		// Single-frame responses without the done marker.
		return frame, nil
	}
}

// processTransport runs a local command per call. The endpoint is the
// command line; parameters go to stdin as JSON and the result is read
// from stdout as JSON. Credentials are passed via the environment, not
// argv, so they never show up in process listings.
type processTransport struct{}

func (t *processTransport) call(ctx context.Context, sess *session, tool Tool, params map[string]any) (map[string]any, error) {
	parts := strings.Fields(tool.Endpoint)
	if len(parts) == 0 {
		return nil, fmt.Errorf("tool %q: empty command", tool.Name)
	}

	input, err := json.Marshal(invocationRequest{Tool: tool.Name, Parameters: params, SessionID: sess.id})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = os.Environ()
	if tool.Credential != "" {
		cmd.Env = append(cmd.Env, "TROUPE_TOOL_CREDENTIAL="+tool.Credential)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("run %s: %s", parts[0], msg)
	}

	var out map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decode output of %s: %w", parts[0], err)
	}
	return out, nil
}
