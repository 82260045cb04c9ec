package agent

import (
	"context"
	"strings"

	"agentbuilder/api/pkg/telemetry"
	"agentbuilder/api/services/graph"
	"agentbuilder/api/services/llm"
	"agentbuilder/api/services/tools"
)

// ExecutionState holds shared state passed between node executors during an agent run.
type ExecutionState struct {
	ExecutionID string
	// Messages is the request conversation; the last user message is the
	// Input node's output.
	Messages []llm.Message
	// Outputs holds the output of every executed node by label.
	Outputs map[string]string
	Emit    llm.Emitter
}

// Upstream is the output of a node feeding the one being executed through
// an active edge.
type Upstream struct {
	Label    string
	Output   string
	Streamed bool
}

// joinInputs concatenates upstream outputs in edge order.
func joinInputs(in []Upstream) string {
	parts := make([]string, 0, len(in))
	for _, u := range in {
		parts = append(parts, u.Output)
	}
	return strings.Join(parts, "\n\n")
}

// StepResult is the output of executing a single node.
type StepResult struct {
	Output string
	// Handle restricts which outgoing edges become active. Empty activates all.
	Handle string
	// Streamed is set when the output already reached the client as fragments.
	Streamed bool
}

// NodeExecutor defines the interface for executing a single node kind.
type NodeExecutor interface {
	Execute(ctx context.Context, node *graph.Node, in []Upstream, state *ExecutionState) (*StepResult, error)
}

// Registry maps node kinds to their executor implementation.
type Registry map[graph.Kind]NodeExecutor

// Deps are the collaborators Model nodes need.
type Deps struct {
	Providers *llm.Registry
	Catalog   *tools.Catalog
	Prompts   llm.Prompts
	Recorder  telemetry.Recorder
}

// NewRegistry creates a registry populated with all built-in executor kinds.
func NewRegistry(deps Deps) Registry {
	if deps.Catalog == nil {
		deps.Catalog = tools.NewCatalog()
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.NoopRecorder{}
	}
	return Registry{
		graph.KindInput:           &InputExecutor{},
		graph.KindModel:           &ModelExecutor{deps: deps},
		graph.KindStringFormatter: &FormatterExecutor{},
		graph.KindConditional:     &ConditionalExecutor{},
		graph.KindOutput:          &OutputExecutor{},
	}
}
