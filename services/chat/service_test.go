package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentbuilder/api/services/llm"
	"agentbuilder/api/services/stream"
	"agentbuilder/api/services/tools"
)

// stubProvider answers "Hello" in two fragments, or fails with err.
type stubProvider struct {
	err      error
	requests []llm.Request
}

func (p *stubProvider) ID() string { return "stub" }

func (p *stubProvider) Stream(_ context.Context, req llm.Request, onDelta func(string) error) (*llm.Response, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	for _, f := range []string{"Hel", "lo"} {
		if err := onDelta(f); err != nil {
			return nil, err
		}
	}
	return &llm.Response{Content: "Hello", Usage: llm.Usage{InputTokens: 3, OutputTokens: 2}}, nil
}

func newTestService(t *testing.T, p *stubProvider) (*mux.Router, *SQLiteStore) {
	t.Helper()
	store := newSQLiteStore(t)
	svc := NewService(llm.NewRegistry(p), tools.Builtins(), llm.PromptMap{"p1": "You are terse."}, store)
	router := mux.NewRouter()
	svc.LoadRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router, store
}

func post(router http.Handler, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest("POST", "/api/v1/chat", &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeEvents(t *testing.T, body []byte) []stream.Event {
	t.Helper()
	var dec stream.Decoder
	var events []stream.Event
	for _, f := range append(dec.Feed(body), dec.Flush()...) {
		e, err := f.Decode()
		require.NoError(t, err)
		events = append(events, e)
	}
	return events
}

func TestHandleChat_StreamsAndStoresConversation(t *testing.T) {
	p := &stubProvider{}
	router, store := newTestService(t, p)

	w := post(router, Request{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		Model:    "m",
		Provider: "stub",
		PromptID: "p1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := decodeEvents(t, w.Body.Bytes())
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.MessageType()
	}
	assert.Equal(t, []string{
		stream.TypeRequestStart,
		stream.TypeChatStartFragment, stream.TypeChatFragment, stream.TypeChatFragment, stream.TypeChatEndFragment,
		stream.TypeTokenUsage,
		stream.TypeRequestEnd,
	}, types)

	end := events[len(events)-1].(stream.RequestEnd)
	require.NotEmpty(t, end.ConversationID)

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are terse."},
		{Role: llm.RoleUser, Content: "hi"},
	}, p.requests[0].Messages)

	stored, err := store.Load(context.Background(), end.ConversationID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Hello", stored[1].Content)

	// resuming prepends the stored history
	w = post(router, Request{
		Messages:       []ChatMessage{{Role: "user", Content: "again"}},
		Model:          "m",
		Provider:       "stub",
		ConversationID: end.ConversationID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	second := p.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "hi", second[0].Content)
	assert.Equal(t, "Hello", second[1].Content)
	assert.Equal(t, "again", second[2].Content)

	events = decodeEvents(t, w.Body.Bytes())
	assert.Equal(t, end.ConversationID, events[len(events)-1].(stream.RequestEnd).ConversationID)
}

func TestHandleChat_BadRequests(t *testing.T) {
	router, _ := newTestService(t, &stubProvider{})

	tests := []struct {
		name   string
		body   Request
		status int
	}{
		{"no messages", Request{Model: "m", Provider: "stub"}, http.StatusBadRequest},
		{"no provider", Request{Messages: []ChatMessage{{Role: "user", Content: "x"}}, Model: "m"}, http.StatusBadRequest},
		{"no model", Request{Messages: []ChatMessage{{Role: "user", Content: "x"}}, Provider: "stub"}, http.StatusBadRequest},
		{"bad role", Request{Messages: []ChatMessage{{Role: "robot", Content: "x"}}, Model: "m", Provider: "stub"}, http.StatusBadRequest},
		{"unknown provider", Request{Messages: []ChatMessage{{Role: "user", Content: "x"}}, Model: "m", Provider: "nope"}, http.StatusBadRequest},
		{"unknown prompt", Request{Messages: []ChatMessage{{Role: "user", Content: "x"}}, Model: "m", Provider: "stub", PromptID: "nope"}, http.StatusBadRequest},
		{"unknown conversation", Request{Messages: []ChatMessage{{Role: "user", Content: "x"}}, Model: "m", Provider: "stub", ConversationID: "nope"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(router, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var result map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
			assert.NotEmpty(t, result["message"])
		})
	}
}

func TestHandleChat_ProviderFailureEndsStream(t *testing.T) {
	router, _ := newTestService(t, &stubProvider{err: errors.New("quota exceeded")})

	w := post(router, Request{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		Model:    "m",
		Provider: "stub",
	})
	require.Equal(t, http.StatusOK, w.Code)

	events := decodeEvents(t, w.Body.Bytes())
	require.NotEmpty(t, events)
	assert.Equal(t, stream.TypeRequestStart, events[0].MessageType())
	assert.Equal(t, stream.TypeRequestEnd, events[len(events)-1].MessageType())
	assert.Contains(t, w.Body.String(), "quota exceeded")
}
