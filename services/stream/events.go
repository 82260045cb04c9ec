package stream

import (
	"encoding/json"
	"fmt"
)

// Event type names as they appear on the wire, both in the "event:" line
// and in the MessageType field of the payload.
const (
	TypeRequestStart      = "RequestStart"
	TypeChatStartFragment = "ChatStartFragment"
	TypeChatFragment      = "ChatFragment"
	TypeChatEndFragment   = "ChatEndFragment"
	TypeToolCall          = "ToolCall"
	TypeToolResult        = "ToolResult"
	TypeTokenUsage        = "TokenUsage"
	TypeRequestEnd        = "RequestEnd"
)

// Event is one member of the closed set of execution stream events.
type Event interface {
	MessageType() string
}

// RequestStart opens every stream and carries the server-assigned execution id.
type RequestStart struct {
	ExecutionID string `json:"ExecutionId"`
}

// ChatStartFragment marks the beginning of a run of text fragments.
type ChatStartFragment struct{}

// ChatFragment is an incremental slice of generated text.
type ChatFragment struct {
	Content string `json:"Content"`
}

// ChatEndFragment marks the end of a run of text fragments.
type ChatEndFragment struct{}

// ToolCall announces a tool invocation. QueryParameters is either a
// structured value or a JSON-encoded string.
type ToolCall struct {
	ToolCallID      string `json:"ToolCallId"`
	Name            string `json:"Name"`
	QueryParameters any    `json:"QueryParameters"`
}

// ToolResult carries the outcome of a previously announced tool call.
type ToolResult struct {
	ToolCallID string `json:"ToolCallId"`
	Result     any    `json:"Result"`
}

// TokenUsage is a usage delta; consumers add it to their running totals.
type TokenUsage struct {
	InputTokens  int `json:"InputTokens"`
	OutputTokens int `json:"OutputTokens"`
}

// RequestEnd closes every stream.
type RequestEnd struct {
	ConversationID string `json:"ConversationId,omitempty"`
}

func (RequestStart) MessageType() string      { return TypeRequestStart }
func (ChatStartFragment) MessageType() string { return TypeChatStartFragment }
func (ChatFragment) MessageType() string      { return TypeChatFragment }
func (ChatEndFragment) MessageType() string   { return TypeChatEndFragment }
func (ToolCall) MessageType() string          { return TypeToolCall }
func (ToolResult) MessageType() string        { return TypeToolResult }
func (TokenUsage) MessageType() string        { return TypeTokenUsage }
func (RequestEnd) MessageType() string        { return TypeRequestEnd }

// MarshalEvent encodes e as a JSON object whose MessageType field names the event.
func MarshalEvent(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.MessageType(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.MessageType(), err)
	}
	name, _ := json.Marshal(e.MessageType())
	fields["MessageType"] = name
	return json.Marshal(fields)
}

// UnmarshalEvent decodes a payload. typeName comes from the frame's
// "event:" line; when empty the payload's MessageType field is used.
func UnmarshalEvent(typeName string, data []byte) (Event, error) {
	if typeName == "" {
		var envelope struct {
			MessageType string `json:"MessageType"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		typeName = envelope.MessageType
	}

	var e Event
	switch typeName {
	case TypeRequestStart:
		e = &RequestStart{}
	case TypeChatStartFragment:
		e = &ChatStartFragment{}
	case TypeChatFragment:
		e = &ChatFragment{}
	case TypeChatEndFragment:
		e = &ChatEndFragment{}
	case TypeToolCall:
		e = &ToolCall{}
	case TypeToolResult:
		e = &ToolResult{}
	case TypeTokenUsage:
		e = &TokenUsage{}
	case TypeRequestEnd:
		e = &RequestEnd{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, typeName)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", typeName, err)
	}
	return deref(e), nil
}

func deref(e Event) Event {
	switch v := e.(type) {
	case *RequestStart:
		return *v
	case *ChatStartFragment:
		return *v
	case *ChatFragment:
		return *v
	case *ChatEndFragment:
		return *v
	case *ToolCall:
		return *v
	case *ToolResult:
		return *v
	case *TokenUsage:
		return *v
	case *RequestEnd:
		return *v
	}
	return e
}
