// Package llm defines the narrow contract the server uses to talk to model
// providers and runs a single model turn, including its tool calls, onto an
// execution stream.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"agentbuilder/api/services/tools"
)

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownPrompt   = errors.New("unknown prompt")
)

// Message is one entry of a model conversation.
type Message struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCallID string            `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCallRequest `json:"toolCalls,omitempty"`
}

// ToolCallRequest is a tool invocation requested by the model.
// Arguments is the raw JSON text the model produced.
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Request is a single model invocation.
type Request struct {
	Model      string
	Messages   []Message
	Tools      []tools.Info
	Parameters map[string]any
}

// Usage counts tokens consumed by one invocation.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the aggregated outcome of one invocation.
type Response struct {
	Content   string
	ToolCalls []ToolCallRequest
	Usage     Usage
}

// Provider invokes a model. Stream calls onDelta with every text fragment
// as it arrives and returns the aggregated response once the model is done.
type Provider interface {
	ID() string
	Stream(ctx context.Context, req Request, onDelta func(content string) error) (*Response, error)
}

// Registry maps provider ids to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return p, nil
}

// IDs returns the registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prompts resolves stored system prompts by id.
type Prompts interface {
	Prompt(ctx context.Context, id string) (string, error)
}

// PromptMap is a Prompts backed by a fixed map, loaded from configuration.
type PromptMap map[string]string

func (m PromptMap) Prompt(_ context.Context, id string) (string, error) {
	p, ok := m[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrompt, id)
	}
	return p, nil
}

// SystemMessages resolves ids into system messages, in order.
func SystemMessages(ctx context.Context, prompts Prompts, ids []string) ([]Message, error) {
	var out []Message
	for _, id := range ids {
		if id == "" {
			continue
		}
		if prompts == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPrompt, id)
		}
		text, err := prompts.Prompt(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, Message{Role: RoleSystem, Content: text})
	}
	return out, nil
}
