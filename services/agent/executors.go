package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agentbuilder/api/services/graph"
	"agentbuilder/api/services/llm"
	"agentbuilder/api/services/stream"
	"agentbuilder/api/services/tools"
)

var errNoUserMessage = errors.New("request has no user message")

// InputExecutor handles the Input node. Its output is the last user message.
type InputExecutor struct{}

func (e *InputExecutor) Execute(_ context.Context, _ *graph.Node, _ []Upstream, state *ExecutionState) (*StepResult, error) {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == llm.RoleUser {
			return &StepResult{Output: state.Messages[i].Content}, nil
		}
	}
	return nil, errNoUserMessage
}

// ModelExecutor handles Model nodes: it runs one model turn, with tools,
// over the conversation history and the node's input.
type ModelExecutor struct {
	deps Deps
}

func (e *ModelExecutor) Execute(ctx context.Context, node *graph.Node, in []Upstream, state *ExecutionState) (*StepResult, error) {
	cfg := node.Model
	if cfg == nil || cfg.ProviderID == "" || cfg.ModelID == "" {
		return nil, fmt.Errorf("model node %q has no provider or model selected", node.Label)
	}
	if e.deps.Providers == nil {
		return nil, fmt.Errorf("%w: %q", llm.ErrUnknownProvider, cfg.ProviderID)
	}
	provider, err := e.deps.Providers.Get(cfg.ProviderID)
	if err != nil {
		return nil, err
	}

	messages, err := llm.SystemMessages(ctx, e.deps.Prompts, cfg.PromptIDs)
	if err != nil {
		return nil, err
	}
	// History up to the last user message, which is replaced by this node's input.
	history := state.Messages
	if n := len(history); n > 0 && history[n-1].Role == llm.RoleUser {
		history = history[:n-1]
	}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: joinInputs(in)})

	res, err := llm.RunTurn(ctx, llm.Turn{
		Provider:   provider,
		Model:      cfg.ModelID,
		Messages:   messages,
		Tools:      e.resolveTools(node),
		Parameters: cfg.Parameters,
		Silent:     !cfg.Streaming,
	}, state.Emit, e.deps.Recorder)
	if err != nil {
		return nil, err
	}
	return &StepResult{Output: res.Content, Streamed: cfg.Streaming}, nil
}

func (e *ModelExecutor) resolveTools(node *graph.Node) []tools.Tool {
	if node.Model.DynamicTools {
		return e.deps.Catalog.All()
	}
	found, missing := e.deps.Catalog.Resolve(node.Model.Tools)
	if len(missing) > 0 {
		slog.Warn("Model node references unknown tools", "label", node.Label, "tools", missing)
	}
	return found
}

// FormatterExecutor handles StringFormatter nodes by rendering the template
// against the upstream outputs.
type FormatterExecutor struct{}

func (e *FormatterExecutor) Execute(_ context.Context, node *graph.Node, in []Upstream, _ *ExecutionState) (*StepResult, error) {
	if node.Formatter == nil {
		return &StepResult{Output: joinInputs(in)}, nil
	}
	values := make(map[string]any, len(in))
	for _, u := range in {
		values[u.Label] = u.Output
	}
	return &StepResult{Output: graph.RenderTemplate(node.Formatter.Template, values)}, nil
}

// ConditionalExecutor handles Conditional nodes. It passes its input through
// and activates the outgoing edge of the first true expression.
type ConditionalExecutor struct{}

func (e *ConditionalExecutor) Execute(_ context.Context, node *graph.Node, in []Upstream, state *ExecutionState) (*StepResult, error) {
	input := joinInputs(in)
	var exprs []string
	if node.Condition != nil {
		exprs = node.Condition.Expressions
	}
	handle, err := selectHandle(exprs, func(operand string) (string, bool) {
		if operand == "input" {
			return input, true
		}
		v, ok := state.Outputs[operand]
		return v, ok
	})
	if err != nil {
		return nil, fmt.Errorf("conditional %q: %w", node.Label, err)
	}
	streamed := len(in) > 0
	for _, u := range in {
		streamed = streamed && u.Streamed
	}
	return &StepResult{Output: input, Handle: handle, Streamed: streamed}, nil
}

// OutputExecutor handles the Output node. Inputs that were not already
// streamed by a Model node are sent to the client as fragments.
type OutputExecutor struct{}

func (e *OutputExecutor) Execute(ctx context.Context, _ *graph.Node, in []Upstream, state *ExecutionState) (*StepResult, error) {
	var pending []string
	for _, u := range in {
		if !u.Streamed && u.Output != "" {
			pending = append(pending, u.Output)
		}
	}
	if len(pending) > 0 {
		if err := state.Emit.Send(ctx, stream.ChatStartFragment{}); err != nil {
			return nil, err
		}
		if err := state.Emit.Send(ctx, stream.ChatFragment{Content: strings.Join(pending, "\n\n")}); err != nil {
			return nil, err
		}
		if err := state.Emit.Send(ctx, stream.ChatEndFragment{}); err != nil {
			return nil, err
		}
	}
	return &StepResult{Output: joinInputs(in), Streamed: true}, nil
}
