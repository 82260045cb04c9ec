// Package chat serves plain chat turns over the execution stream and keeps
// conversation history so a later turn can resume a conversation.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"agentbuilder/api/services/llm"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrStoreClosed          = errors.New("conversation store is closed")
)

// Store persists conversation messages in append order.
type Store interface {
	// Create registers a new, empty conversation.
	Create(ctx context.Context, id string) error
	// Load returns every message of a conversation, oldest first.
	Load(ctx context.Context, id string) ([]llm.Message, error)
	// Append adds messages to an existing conversation.
	Append(ctx context.Context, id string, msgs ...llm.Message) error
}

func marshalToolCalls(calls []llm.ToolCallRequest) ([]byte, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return nil, fmt.Errorf("marshal tool calls: %w", err)
	}
	return b, nil
}

func unmarshalToolCalls(b []byte) ([]llm.ToolCallRequest, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var calls []llm.ToolCallRequest
	if err := json.Unmarshal(b, &calls); err != nil {
		return nil, fmt.Errorf("unmarshal tool calls: %w", err)
	}
	return calls, nil
}
