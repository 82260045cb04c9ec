// Package streamclient consumes execution event streams from the chat and
// agent execution endpoints and correlates them into sessions.
package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// DefaultChunkSize is the size of each transport read.
const DefaultChunkSize = 4096

// Message is one chat message sent to the server.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages       []Message `json:"messages"`
	Model          string    `json:"model"`
	Provider       string    `json:"provider"`
	PromptID       string    `json:"promptId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Tools          []string  `json:"tools,omitempty"`
}

// Client starts execution sessions against a server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      *Store
	chunkSize  int

	mu    sync.Mutex
	usage Usage
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client. Streams can run for a
// long time, so it should not carry a short Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithChunkSize sets the size of each transport read.
func WithChunkSize(n int) Option {
	return func(c *Client) { c.chunkSize = n }
}

// WithStore shares a session store between clients.
func WithStore(st *Store) Option {
	return func(c *Client) { c.store = st }
}

// New returns a client for baseURL, for example "http://localhost:8080/api/v1".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		store:      NewStore(),
		chunkSize:  DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the store holding every session this client started.
func (c *Client) Store() *Store { return c.store }

// Usage returns token usage summed over every session of this client.
func (c *Client) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *Client) addUsage(u Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = c.usage.add(u)
}

// Chat starts a chat turn. Transport failures are reported through
// h.OnError and Session.Wait.
func (c *Client) Chat(ctx context.Context, req ChatRequest, h Handlers) *Session {
	return c.start(ctx, "/chat", req, h)
}

// ExecuteAgent runs the agent agentID over messages.
func (c *Client) ExecuteAgent(ctx context.Context, agentID string, messages []Message, h Handlers) *Session {
	body := struct {
		Messages []Message `json:"messages"`
	}{Messages: messages}
	return c.start(ctx, "/agentexecution/"+url.PathEscape(agentID), body, h)
}

func (c *Client) start(ctx context.Context, path string, body any, h Handlers) *Session {
	s := newSession(ctx, h, c.store, c.chunkSize)
	s.account = c.addUsage

	go func() {
		defer close(s.done)
		defer s.cancel()
		s.finish(c.run(s, path, body))
	}()
	return s
}

func (c *Client) run(s *Session, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	return s.consume(resp.Body)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrSessionExpired
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
