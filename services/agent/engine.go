package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentbuilder/api/pkg/telemetry"
	"agentbuilder/api/services/graph"
	"agentbuilder/api/services/stream"
)

// DefaultMaxSteps bounds how many nodes a single run may execute.
const DefaultMaxSteps = 100

var (
	ErrCycle        = errors.New("agent graph contains a cycle")
	ErrTooManySteps = errors.New("agent graph exceeds the maximum number of steps")
	ErrNoExecutor   = errors.New("no executor registered for node kind")
)

// Engine executes an agent graph in topological order.
type Engine struct {
	registry Registry
	maxSteps int
	recorder telemetry.Recorder
	spans    telemetry.SpanManager
}

// NewEngine creates an Engine with the given executor registry.
func NewEngine(registry Registry, maxSteps int) *Engine {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Engine{
		registry: registry,
		maxSteps: maxSteps,
		recorder: telemetry.NoopRecorder{},
		spans:    telemetry.NoopSpanManager{},
	}
}

// WithTelemetry makes the engine record node metrics and spans.
func (e *Engine) WithTelemetry(recorder telemetry.Recorder, spans telemetry.SpanManager) *Engine {
	if recorder != nil {
		e.recorder = recorder
	}
	if spans != nil {
		e.spans = spans
	}
	return e
}

// Execute runs g from its Input node.
//
// A node runs once every node before it in topological order has been
// resolved, and only if at least one incoming edge is active. An edge is
// active when its source ran and either the source selected no handle or
// the edge leaves through the selected one. Nodes with no active incoming
// edge are recorded as skipped.
//
// A failing node stops the run; the partial results are returned with
// status "failed" and a nil error. Structural problems (cycles, size)
// are returned as errors before anything runs.
func (e *Engine) Execute(ctx context.Context, g *graph.Graph, state *ExecutionState) (*ExecutionResults, error) {
	if state.Outputs == nil {
		state.Outputs = make(map[string]string)
	}
	if state.Emit == nil {
		state.Emit = discardEmitter{}
	}

	order, err := topologicalOrder(g)
	if err != nil {
		return nil, err
	}
	if len(order) > e.maxSteps {
		return nil, fmt.Errorf("%w: %d nodes, limit %d", ErrTooManySteps, len(order), e.maxSteps)
	}

	startTime := time.Now()
	results := make(map[string]*StepResult, len(order))
	labels := make(map[string]string, len(order))
	var steps []ExecutionStep
	output := ""

	finish := func(status string) *ExecutionResults {
		endTime := time.Now()
		return &ExecutionResults{
			ExecutionID:   state.ExecutionID,
			Status:        status,
			Output:        output,
			StartTime:     startTime.UTC().Format(time.RFC3339),
			EndTime:       endTime.UTC().Format(time.RFC3339),
			TotalDuration: endTime.Sub(startTime).Milliseconds(),
			Steps:         steps,
		}
	}

	for i, node := range order {
		labels[node.ID] = node.Label
		step := ExecutionStep{
			StepNumber: i + 1,
			NodeID:     node.ID,
			NodeKind:   string(node.Kind),
			Label:      node.Label,
		}

		in, active := activeInputs(g, node, results, labels)
		if node.Kind != graph.KindInput && !active {
			step.Status = StatusSkipped
			steps = append(steps, step)
			continue
		}

		executor, ok := e.registry[node.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoExecutor, node.Kind)
		}

		nodeCtx, span := e.spans.StartNodeSpan(ctx, node.Label, string(node.Kind))
		stepStart := time.Now()
		result, execErr := executor.Execute(nodeCtx, node, in, state)
		duration := time.Since(stepStart)
		e.spans.EndSpan(span, execErr)
		e.recorder.RecordNode(ctx, string(node.Kind), duration, execErr)

		step.Duration = duration.Milliseconds()
		if execErr != nil {
			step.Status = StatusError
			step.Error = execErr.Error()
			steps = append(steps, step)
			return finish(StatusFailed), nil
		}

		step.Status = StatusCompleted
		step.Output = result.Output
		step.Handle = result.Handle
		steps = append(steps, step)

		results[node.ID] = result
		state.Outputs[node.Label] = result.Output
		if node.Kind == graph.KindOutput {
			output = result.Output
		}
	}

	return finish(StatusCompleted), nil
}

// activeInputs collects the outputs flowing into node through active edges,
// in edge order. The second result reports whether any edge is active.
func activeInputs(g *graph.Graph, node *graph.Node, results map[string]*StepResult, labels map[string]string) ([]Upstream, bool) {
	var in []Upstream
	for _, edge := range g.Incoming(node.ID) {
		src, ok := results[edge.SourceID]
		if !ok {
			continue
		}
		if src.Handle != "" && edge.SourceHandle != src.Handle {
			continue
		}
		in = append(in, Upstream{Label: labels[edge.SourceID], Output: src.Output, Streamed: src.Streamed})
	}
	return in, len(in) > 0
}

// topologicalOrder sorts the nodes of g with Kahn's algorithm; the order is
// deterministic for a given graph. Edges with a missing endpoint are ignored.
func topologicalOrder(g *graph.Graph) ([]*graph.Node, error) {
	nodes := g.Nodes()
	byID := make(map[string]*graph.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	indegree := make(map[string]int, len(nodes))
	next := make(map[string][]string, len(nodes))
	for _, edge := range g.Edges() {
		if byID[edge.SourceID] == nil || byID[edge.TargetID] == nil {
			continue
		}
		indegree[edge.TargetID]++
		next[edge.SourceID] = append(next[edge.SourceID], edge.TargetID)
	}

	var ready []string
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}

	order := make([]*graph.Node, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, byID[id])
		for _, t := range next[id] {
			indegree[t]--
			if indegree[t] == 0 {
				ready = append(ready, t)
			}
		}
	}
	if len(order) != len(nodes) {
		return nil, ErrCycle
	}
	return order, nil
}

type discardEmitter struct{}

func (discardEmitter) Send(context.Context, stream.Event) error { return nil }
