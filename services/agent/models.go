package agent

import (
	"time"

	"agentbuilder/api/services/graph"
	"agentbuilder/api/services/llm"
)

// Agent is a persisted agent definition: descriptive fields plus its graph
// in exchange form.
type Agent struct {
	graph.Document
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Graph imports the agent's document into a graph model.
func (a *Agent) Graph() (*graph.Graph, error) {
	g, _, err := graph.Import(a.Document)
	return g, err
}

// ChatMessage is one message of an execution request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExecuteRequest is the JSON body of POST /agentexecution/{agentId}.
type ExecuteRequest struct {
	Messages []ChatMessage `json:"messages"`
}

func toLLMMessages(msgs []ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// ValidationResponse is returned by POST /agents/validate and by a
// rejected PUT /agents/{id}.
type ValidationResponse struct {
	Valid    bool            `json:"valid"`
	Errors   []graph.Finding `json:"errors"`
	Warnings []graph.Finding `json:"warnings"`
}

func newValidationResponse(r graph.Result) ValidationResponse {
	warnings := r.Warnings
	if warnings == nil {
		warnings = []graph.Finding{}
	}
	return ValidationResponse{Valid: r.Valid, Errors: r.Errors, Warnings: warnings}
}

// ExecutionResults summarizes a finished agent run.
type ExecutionResults struct {
	ExecutionID   string          `json:"executionId"`
	Status        string          `json:"status"`
	Output        string          `json:"output"`
	StartTime     string          `json:"startTime"`
	EndTime       string          `json:"endTime"`
	TotalDuration int64           `json:"totalDuration"`
	Steps         []ExecutionStep `json:"steps"`
}

// ExecutionStep is the record of one node execution.
type ExecutionStep struct {
	StepNumber int    `json:"stepNumber"`
	NodeID     string `json:"nodeId"`
	NodeKind   string `json:"nodeKind"`
	Label      string `json:"label"`
	Status     string `json:"status"`
	Duration   int64  `json:"duration"`
	Output     string `json:"output,omitempty"`
	Handle     string `json:"handle,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Step statuses.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusError     = "error"
	StatusFailed    = "failed"
)
