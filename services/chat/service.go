package chat

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

	"agentbuilder/api/pkg/telemetry"
	"agentbuilder/api/services/llm"
	"agentbuilder/api/services/stream"
	"agentbuilder/api/services/tools"
)

// ChatMessage is one message of a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the JSON body of POST /chat.
type Request struct {
	Messages       []ChatMessage `json:"messages"`
	Model          string        `json:"model"`
	Provider       string        `json:"provider"`
	PromptID       string        `json:"promptId,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	Tools          []string      `json:"tools,omitempty"`
}

// Service handles chat turns.
type Service struct {
	providers *llm.Registry
	catalog   *tools.Catalog
	prompts   llm.Prompts
	store     Store
	recorder  telemetry.Recorder
	spans     telemetry.SpanManager
}

// NewService creates a chat Service.
func NewService(providers *llm.Registry, catalog *tools.Catalog, prompts llm.Prompts, store Store) *Service {
	if catalog == nil {
		catalog = tools.NewCatalog()
	}
	return &Service{
		providers: providers,
		catalog:   catalog,
		prompts:   prompts,
		store:     store,
		recorder:  telemetry.NoopRecorder{},
		spans:     telemetry.NoopSpanManager{},
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

// LoadRoutes registers the chat handler on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	parentRouter.HandleFunc("/chat", s.HandleChat).Methods("POST")
}

// HandleChat runs one chat turn and streams it as server-sent events. The
// RequestEnd event carries the conversation id to send with the next turn.
func (s *Service) HandleChat(w http.ResponseWriter, r *http.Request) {
	// JSON until the stream opens.
	w.Header().Set("Content-Type", "application/json")

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Debug("Chat turn", "provider", req.Provider, "model", req.Model, "conversation_id", req.ConversationID)

	provider, err := s.providers.Get(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	system, err := llm.SystemMessages(r.Context(), s.prompts, []string{req.PromptID})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conversationID := req.ConversationID
	var history []llm.Message
	if conversationID != "" {
		history, err = s.store.Load(r.Context(), conversationID)
		if errors.Is(err, ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
	} else {
		conversationID = uuid.NewString()
		err = s.store.Create(r.Context(), conversationID)
	}
	if err != nil {
		slog.Error("Failed to prepare conversation", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	found, missing := s.catalog.Resolve(req.Tools)
	if len(missing) > 0 {
		slog.Warn("Chat request references unknown tools", "tools", missing)
	}

	incoming := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		incoming = append(incoming, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages := append(append(append([]llm.Message{}, system...), history...), incoming...)

	executionID := uuid.NewString()
	ctx, span := s.spans.StartExecutionSpan(r.Context(), "chat", executionID)
	start := time.Now()

	sw := stream.NewWriter(w, s.recorder)
	if err := sw.Start(ctx, executionID); err != nil {
		slog.Error("Failed to start chat stream", "execution_id", executionID, "error", err)
		s.spans.EndSpan(span, err)
		return
	}

	res, turnErr := llm.RunTurn(ctx, llm.Turn{
		Provider: provider,
		Model:    req.Model,
		Messages: messages,
		Tools:    found,
	}, sw, s.recorder)

	outcome := "completed"
	switch {
	case turnErr != nil && errors.Is(ctx.Err(), context.Canceled):
		outcome = "cancelled"
	case turnErr != nil:
		outcome = "failed"
		slog.Error("Chat turn failed", "execution_id", executionID, "error", turnErr)
		if err := sw.Fail(ctx, turnErr); err != nil {
			slog.Debug("Failed to report chat error", "error", err)
		}
	default:
		added := append(incoming, res.Messages[len(messages):]...)
		if err := s.store.Append(ctx, conversationID, added...); err != nil {
			slog.Error("Failed to store conversation", "conversation_id", conversationID, "error", err)
		}
	}

	if outcome != "cancelled" {
		if err := sw.End(ctx, conversationID); err != nil {
			slog.Error("Failed to end chat stream", "execution_id", executionID, "error", err)
		}
	}
	s.recorder.RecordExecution(ctx, "chat", outcome, time.Since(start))
	s.spans.EndSpan(span, turnErr)
}

func validateRequest(req Request) error {
	if len(req.Messages) == 0 {
		return errors.New("messages is required")
	}
	if req.Provider == "" {
		return errors.New("provider is required")
	}
	if req.Model == "" {
		return errors.New("model is required")
	}
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem:
		default:
			return fmt.Errorf("role %q is invalid", m.Role)
		}
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
