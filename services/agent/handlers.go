package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"agentbuilder/api/services/graph"
	"agentbuilder/api/services/stream"
)

// HandleListAgents returns every stored agent.
func (s *Service) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.repo.List(r.Context())
	if err != nil {
		slog.Error("Failed to list agents", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// HandleGetAgent loads an agent definition and returns it as JSON.
func (s *Service) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Getting agent", "id", id)

	a, ok := s.loadAgent(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandlePutAgent validates the posted document and stores it under the id
// in the path. A graph with validation errors is rejected with 422 and the
// findings.
func (s *Service) HandlePutAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Saving agent", "id", id)

	var doc graph.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc.ID = id
	s.save(w, r, doc, http.StatusOK)
}

// HandleImportAgent stores an exchange document as a new agent.
func (s *Service) HandleImportAgent(w http.ResponseWriter, r *http.Request) {
	var doc graph.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc.ID = uuid.NewString()
	slog.Debug("Importing agent", "id", doc.ID, "name", doc.Name)
	s.save(w, r, doc, http.StatusCreated)
}

func (s *Service) save(w http.ResponseWriter, r *http.Request, doc graph.Document, status int) {
	g, info, err := graph.Import(doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if res := graph.Validate(g); !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, newValidationResponse(res))
		return
	}
	normalized, err := graph.Export(g, info)
	if err != nil {
		slog.Error("Failed to export agent", "id", doc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	a := &Agent{Document: normalized}
	if err := s.repo.Save(r.Context(), a); err != nil {
		slog.Error("Failed to save agent", "id", doc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, status, a)
}

// HandleValidateAgent runs the validator over a posted document without storing it.
func (s *Service) HandleValidateAgent(w http.ResponseWriter, r *http.Request) {
	var doc graph.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	g, _, err := graph.Import(doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newValidationResponse(graph.Validate(g)))
}

// HandleExportAgent returns the agent as a downloadable exchange document.
func (s *Service) HandleExportAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, ok := s.loadAgent(w, r, id)
	if !ok {
		return
	}
	g, info, err := graph.Import(a.Document)
	if err != nil {
		slog.Error("Stored agent is not a valid document", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	doc, err := graph.Export(g, info)
	if err != nil {
		slog.Error("Failed to export agent", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="agent-%s.json"`, id))
	writeJSON(w, http.StatusOK, doc)
}

// HandleExecuteAgent runs an agent and streams its progress as server-sent
// events. Problems found before the stream opens are plain JSON errors.
// Once RequestStart is out, the stream ends with RequestEnd unless the
// client went away.
func (s *Service) HandleExecuteAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["agentId"]
	slog.Debug("Executing agent", "id", id)

	// JSON until the stream opens.
	w.Header().Set("Content-Type", "application/json")

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}

	a, ok := s.loadAgent(w, r, id)
	if !ok {
		return
	}
	g, err := a.Graph()
	if err != nil {
		slog.Error("Stored agent is not a valid document", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if res := graph.Validate(g); !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, newValidationResponse(res))
		return
	}

	executionID := uuid.NewString()
	ctx, span := s.spans.StartExecutionSpan(r.Context(), "agent", executionID)
	start := time.Now()

	sw := stream.NewWriter(w, s.recorder)
	if err := sw.Start(ctx, executionID); err != nil {
		slog.Error("Failed to start execution stream", "id", id, "execution_id", executionID, "error", err)
		s.spans.EndSpan(span, err)
		return
	}

	state := &ExecutionState{
		ExecutionID: executionID,
		Messages:    toLLMMessages(req.Messages),
		Emit:        sw,
	}
	results, execErr := s.engine.Execute(ctx, g, state)
	if execErr == nil && results.Status == StatusFailed {
		execErr = failedStepError(results)
	}

	outcome := StatusCompleted
	switch {
	case execErr != nil && errors.Is(ctx.Err(), context.Canceled):
		outcome = "cancelled"
	case execErr != nil:
		outcome = StatusFailed
		slog.Error("Agent execution failed", "id", id, "execution_id", executionID, "error", execErr)
		if err := sw.Fail(ctx, execErr); err != nil {
			slog.Debug("Failed to report execution error", "error", err)
		}
	}

	if outcome != "cancelled" {
		if err := sw.End(ctx, ""); err != nil {
			slog.Error("Failed to end execution stream", "execution_id", executionID, "error", err)
		}
	}
	s.recorder.RecordExecution(ctx, "agent", outcome, time.Since(start))
	s.spans.EndSpan(span, execErr)
}

func failedStepError(results *ExecutionResults) error {
	for i := len(results.Steps) - 1; i >= 0; i-- {
		if step := results.Steps[i]; step.Status == StatusError {
			return fmt.Errorf("node %q: %s", step.Label, step.Error)
		}
	}
	return errors.New("execution failed")
}

func (s *Service) loadAgent(w http.ResponseWriter, r *http.Request, id string) (*Agent, bool) {
	a, err := s.repo.Get(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get agent", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return nil, false
	}
	return a, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
