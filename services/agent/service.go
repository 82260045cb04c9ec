package agent

import (
	"net/http"

	"github.com/gorilla/mux"

	"agentbuilder/api/pkg/telemetry"
)

// Service wires together the repository and execution engine for the agent domain.
type Service struct {
	repo     AgentRepo
	engine   *Engine
	recorder telemetry.Recorder
	spans    telemetry.SpanManager
}

// NewService creates a Service over repo that runs agents with engine.
func NewService(repo AgentRepo, engine *Engine) *Service {
	return &Service{
		repo:     repo,
		engine:   engine,
		recorder: telemetry.NoopRecorder{},
		spans:    telemetry.NoopSpanManager{},
	}
}

// WithTelemetry makes the service record execution metrics and spans.
func (s *Service) WithTelemetry(recorder telemetry.Recorder, spans telemetry.SpanManager) *Service {
	if recorder != nil {
		s.recorder = recorder
	}
	if spans != nil {
		s.spans = spans
	}
	return s
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers agent HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/agents").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("", s.HandleListAgents).Methods("GET")
	router.HandleFunc("/validate", s.HandleValidateAgent).Methods("POST")
	router.HandleFunc("/import", s.HandleImportAgent).Methods("POST")
	router.HandleFunc("/{id}", s.HandleGetAgent).Methods("GET")
	router.HandleFunc("/{id}", s.HandlePutAgent).Methods("PUT")
	router.HandleFunc("/{id}/export", s.HandleExportAgent).Methods("GET")

	// The execution stream sets its own content type.
	parentRouter.HandleFunc("/agentexecution/{agentId}", s.HandleExecuteAgent).Methods("POST")
}
