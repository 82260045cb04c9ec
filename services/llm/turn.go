package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"agentbuilder/api/pkg/telemetry"
	"agentbuilder/api/services/stream"
	"agentbuilder/api/services/tools"
)

// DefaultMaxRounds bounds how many times a model may ask for tools in one turn.
const DefaultMaxRounds = 8

// Emitter receives execution events. *stream.Writer satisfies it.
type Emitter interface {
	Send(ctx context.Context, e stream.Event) error
}

// Turn is one model turn: a provider call, repeated while the model keeps
// requesting tools.
type Turn struct {
	Provider   Provider
	Model      string
	Messages   []Message
	Tools      []tools.Tool
	Parameters map[string]any
	// Silent suppresses text fragments. Tool and usage events are still sent.
	Silent    bool
	MaxRounds int
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Content string
	// Messages is the conversation including every message the turn added.
	Messages []Message
	Usage    Usage
}

// RunTurn drives t to completion, emitting ChatStartFragment, ChatFragment
// and ChatEndFragment around streamed text, ToolCall and ToolResult around
// each tool invocation, and one TokenUsage per provider call.
func RunTurn(ctx context.Context, t Turn, emit Emitter, rec telemetry.Recorder) (*TurnResult, error) {
	if rec == nil {
		rec = telemetry.NoopRecorder{}
	}
	maxRounds := t.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	byName := make(map[string]tools.Tool, len(t.Tools))
	infos := make([]tools.Info, 0, len(t.Tools))
	for _, tool := range t.Tools {
		info := tool.Info()
		byName[info.Name] = tool
		infos = append(infos, info)
	}

	messages := append([]Message(nil), t.Messages...)
	var total Usage

	for round := 0; round < maxRounds; round++ {
		fragments := false
		onDelta := func(content string) error {
			if t.Silent || content == "" {
				return nil
			}
			if !fragments {
				fragments = true
				if err := emit.Send(ctx, stream.ChatStartFragment{}); err != nil {
					return err
				}
			}
			return emit.Send(ctx, stream.ChatFragment{Content: content})
		}

		resp, err := t.Provider.Stream(ctx, Request{
			Model:      t.Model,
			Messages:   messages,
			Tools:      infos,
			Parameters: t.Parameters,
		}, onDelta)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", t.Provider.ID(), err)
		}
		if fragments {
			if err := emit.Send(ctx, stream.ChatEndFragment{}); err != nil {
				return nil, err
			}
		}

		total.InputTokens += resp.Usage.InputTokens
		total.OutputTokens += resp.Usage.OutputTokens
		if resp.Usage != (Usage{}) {
			if err := emit.Send(ctx, stream.TokenUsage{
				InputTokens:  resp.Usage.InputTokens,
				OutputTokens: resp.Usage.OutputTokens,
			}); err != nil {
				return nil, err
			}
		}

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, Message{Role: RoleAssistant, Content: resp.Content})
			return &TurnResult{Content: resp.Content, Messages: messages, Usage: total}, nil
		}

		// ids are fixed before the assistant message is recorded so each
		// tool message answers a call the model can see
		calls := make([]ToolCallRequest, len(resp.ToolCalls))
		for i, call := range resp.ToolCalls {
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			calls[i] = call
		}
		messages = append(messages, Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: calls})

		for _, call := range calls {
			result, err := invokeTool(ctx, call, byName, emit, rec)
			if err != nil {
				return nil, err
			}
			messages = append(messages, Message{Role: RoleTool, ToolCallID: call.ID, Content: result})
		}
	}
	return nil, fmt.Errorf("model requested tools for more than %d rounds", maxRounds)
}

// invokeTool announces call, runs it and announces its result. Tool
// failures are reported to the model as the result text rather than
// aborting the turn. The returned string is what the model sees.
func invokeTool(ctx context.Context, call ToolCallRequest, byName map[string]tools.Tool, emit Emitter, rec telemetry.Recorder) (string, error) {
	if err := emit.Send(ctx, stream.ToolCall{
		ToolCallID:      call.ID,
		Name:            call.Name,
		QueryParameters: call.Arguments,
	}); err != nil {
		return "", err
	}

	var (
		out     any
		callErr error
	)
	start := time.Now()
	tool, ok := byName[call.Name]
	if !ok {
		callErr = fmt.Errorf("tool %q is not available", call.Name)
	} else {
		out, callErr = tool.Call(ctx, call.Arguments)
	}
	rec.RecordToolCall(ctx, call.Name, time.Since(start), callErr)

	var text string
	if callErr != nil {
		slog.Debug("Tool call failed", "tool", call.Name, "tool_call_id", call.ID, "error", callErr)
		text = "error: " + callErr.Error()
	} else {
		text = resultText(out)
	}
	if err := emit.Send(ctx, stream.ToolResult{ToolCallID: call.ID, Result: text}); err != nil {
		return "", err
	}
	return text, nil
}

func resultText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// RepairArguments returns args as valid JSON when it can be repaired,
// otherwise args unchanged.
func RepairArguments(args string) string {
	if args == "" || json.Valid([]byte(args)) {
		return args
	}
	if repaired, err := jsonrepair.JSONRepair(args); err == nil {
		return repaired
	}
	return args
}
