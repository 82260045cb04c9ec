package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"agentbuilder/api/services/stream"
)

const doneMarker = "[DONE]"

// OpenAIClient calls an OpenAI-compatible chat completions endpoint with
// streaming enabled.
type OpenAIClient struct {
	id         string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIClient returns a client for baseURL (for example
// "https://api.openai.com/v1") registered under id. The timeout bounds the
// whole streamed response.
func NewOpenAIClient(id, baseURL, apiKey string, timeout time.Duration) *OpenAIClient {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OpenAIClient{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *OpenAIClient) ID() string { return c.id }

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

// openAIChunk is the relevant subset of a streamed completion chunk.
type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Stream sends req and relays content deltas to onDelta as they arrive.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error) {
	body, err := c.requestBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return readCompletionStream(resp.Body, onDelta)
}

func (c *OpenAIClient) requestBody(req Request) ([]byte, error) {
	payload := make(map[string]any, len(req.Parameters)+5)
	for k, v := range req.Parameters {
		payload[k] = v
	}
	payload["model"] = req.Model
	payload["stream"] = true
	payload["stream_options"] = map[string]any{"include_usage": true}

	msgs := make([]openAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for i, tc := range m.ToolCalls {
			call := openAIToolCall{Index: i, ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, call)
		}
		msgs = append(msgs, om)
	}
	payload["messages"] = msgs

	if len(req.Tools) > 0 {
		defs := make([]openAITool, 0, len(req.Tools))
		for _, t := range req.Tools {
			def := openAITool{Type: "function"}
			def.Function.Name = t.Name
			def.Function.Description = t.Description
			def.Function.Parameters = t.Parameters
			defs = append(defs, def)
		}
		payload["tools"] = defs
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return body, nil
}

// readCompletionStream consumes data-only server-sent events until the
// [DONE] marker or EOF. Tool call deltas are merged by index.
func readCompletionStream(r io.Reader, onDelta func(string) error) (*Response, error) {
	var (
		dec     stream.Decoder
		content strings.Builder
		usage   Usage
		calls   = make(map[int]*ToolCallRequest)
		buf     = make([]byte, 4096)
	)

	handle := func(frames []stream.Frame) (bool, error) {
		for _, f := range frames {
			data := strings.TrimSpace(f.Data)
			if data == doneMarker {
				return true, nil
			}
			var chunk openAIChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return false, fmt.Errorf("decode completion chunk: %w", err)
			}
			if chunk.Usage != nil {
				usage = Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					content.WriteString(choice.Delta.Content)
					if err := onDelta(choice.Delta.Content); err != nil {
						return false, err
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					call, ok := calls[tc.Index]
					if !ok {
						call = &ToolCallRequest{}
						calls[tc.Index] = call
					}
					if tc.ID != "" {
						call.ID = tc.ID
					}
					if tc.Function.Name != "" {
						call.Name = tc.Function.Name
					}
					call.Arguments += tc.Function.Arguments
				}
			}
		}
		return false, nil
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			done, herr := handle(dec.Feed(buf[:n]))
			if herr != nil {
				return nil, herr
			}
			if done {
				break
			}
		}
		if errors.Is(err, io.EOF) {
			if _, herr := handle(dec.Flush()); herr != nil {
				return nil, herr
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read completion stream: %w", err)
		}
	}

	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := &Response{Content: content.String(), Usage: usage}
	for _, i := range indexes {
		call := *calls[i]
		call.Arguments = RepairArguments(call.Arguments)
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}
