package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/troupehq/troupe/internal/gateway"
	"github.com/troupehq/troupe/internal/registry"
	"github.com/troupehq/troupe/internal/schedule"
	"github.com/troupehq/troupe/internal/store"
	"github.com/troupehq/troupe/internal/workflow"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/agents", s.handleRegisterAgent)
	mux.HandleFunc("DELETE /api/agents/{name}", s.handleDeregisterAgent)
	mux.HandleFunc("GET /api/agents/{name}/performance", s.handleAgentPerformance)

	mux.HandleFunc("GET /api/tools", s.handleListTools)
	mux.HandleFunc("POST /api/tools", s.handleRegisterTool)
	mux.HandleFunc("DELETE /api/tools/{name}", s.handleDeregisterTool)
	mux.HandleFunc("POST /api/tools/{name}/invoke", s.handleInvokeTool)

	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.handleImportWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleExportWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/validate", s.handleValidateWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/execute", s.handleExecuteWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/reports", s.handleListReports)

	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("POST /api/templates/{name}", s.handleRegisterTemplate)
	mux.HandleFunc("POST /api/templates/{name}/instantiate", s.handleInstantiateTemplate)

	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"version":   s.version,
		"uptime":    time.Since(s.startedAt).String(),
		"agents":    len(s.registry.List()),
		"tools":     len(s.gateway.Tools()),
		"workflows": len(s.workflows.List()),
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.registry.List())
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var reg registry.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.registry.Register(reg); err != nil {
		if errors.Is(err, registry.ErrDuplicateAgent) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonCreated(w, map[string]string{"status": "registered", "name": reg.Name})
}

func (s *Server) handleDeregisterAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Deregister(r.PathValue("name")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "deregistered"})
}

func (s *Server) handleAgentPerformance(w http.ResponseWriter, r *http.Request) {
	report, err := s.registry.Performance(r.PathValue("name"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, report)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.gateway.Tools())
}

func (s *Server) handleRegisterTool(w http.ResponseWriter, r *http.Request) {
	var body struct {
		gateway.Tool
		Credential string `json:"credential,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tool := body.Tool
	tool.Credential = body.Credential
	if err := s.gateway.Register(tool); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonCreated(w, map[string]string{"status": "registered", "name": tool.Name})
}

func (s *Server) handleDeregisterTool(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.Deregister(r.PathValue("name")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "deregistered"})
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Parameters map[string]any `json:"parameters"`
		SessionID  string         `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sessionID := body.SessionID
	ephemeral := sessionID == ""
	if ephemeral {
		sessionID = uuid.New().String()
		defer s.gateway.CleanupSession(sessionID)
	}
	jsonResponse(w, s.gateway.Invoke(r.Context(), r.PathValue("name"), body.Parameters, sessionID))
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.workflows.List())
}

func (s *Server) handleImportWorkflow(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	wf, err := s.workflows.Import(def)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonCreated(w, map[string]string{"id": wf.ID})
}

func (s *Server) handleExportWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := s.workflows.Export(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, def)
}

func (s *Server) handleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflows.Get(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err := wf.Validate(); err != nil {
		jsonResponse(w, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	jsonResponse(w, map[string]any{"valid": true})
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflows.Get(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	var body struct {
		Input map[string]any `json:"input"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	report, err := s.engine.Execute(r.Context(), wf, body.Input)
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	jsonResponse(w, report)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonResponse(w, []store.RunReport{})
		return
	}
	reports, err := s.store.ListRunReports(r.PathValue("id"), 50)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, reports)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.workflows.Templates())
}

func (s *Server) handleRegisterTemplate(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.workflows.RegisterTemplate(r.PathValue("name"), def); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	jsonCreated(w, map[string]string{"status": "registered"})
}

func (s *Server) handleInstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	wf, err := s.workflows.CreateFromTemplate(r.PathValue("name"), body.Name)
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonCreated(w, map[string]string{"id": wf.ID})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonResponse(w, []store.ScheduledRun{})
		return
	}
	runs, err := s.store.ListScheduledRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type entry struct {
		store.ScheduledRun
		Describe string `json:"describe"`
	}
	out := make([]entry, 0, len(runs))
	for _, run := range runs {
		out = append(out, entry{ScheduledRun: run, Describe: schedule.Describe(run.Schedule)})
	}
	jsonResponse(w, out)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "no store configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		WorkflowID string         `json:"workflow_id"`
		Name       string         `json:"name"`
		Schedule   string         `json:"schedule"`
		Input      map[string]any `json:"input,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := s.workflows.Get(body.WorkflowID); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	normalized, err := schedule.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var input string
	if body.Input != nil {
		data, err := json.Marshal(body.Input)
		if err != nil {
			jsonError(w, "invalid input payload", http.StatusBadRequest)
			return
		}
		input = string(data)
	}

	run := &store.ScheduledRun{
		ID:         uuid.New().String(),
		WorkflowID: body.WorkflowID,
		Name:       body.Name,
		Schedule:   normalized,
		Input:      input,
		Status:     "active",
		NextRunAt:  schedule.NextRun(normalized),
	}
	if err := s.store.SaveScheduledRun(run); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonCreated(w, run)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "no store configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.store.DeleteScheduledRun(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func jsonResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func jsonCreated(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
