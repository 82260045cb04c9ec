// Command agentchat is a terminal client for the chat and agent execution
// endpoints.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	_ "github.com/joho/godotenv/autoload"

	"agentbuilder/api/pkg/streamclient"
)

func main() {
	server := flag.String("server", envOr("AGENTCHAT_SERVER", "http://localhost:8080/api/v1"), "API base URL")
	agentID := flag.String("agent", os.Getenv("AGENTCHAT_AGENT"), "agent id to execute instead of a plain chat")
	provider := flag.String("provider", envOr("AGENTCHAT_PROVIDER", "openai"), "model provider id")
	model := flag.String("model", envOr("AGENTCHAT_MODEL", "gpt-4o-mini"), "model id")
	prompt := flag.String("prompt", os.Getenv("AGENTCHAT_PROMPT"), "system prompt id")
	flag.Parse()

	c := streamclient.New(*server)
	r := &repl{
		client:   c,
		agentID:  *agentID,
		provider: *provider,
		model:    *model,
		prompt:   *prompt,
		out:      os.Stdout,
	}
	if err := r.run(context.Background(), os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	u := c.Usage()
	fmt.Fprintf(os.Stdout, "\ntokens: %d in, %d out\n", u.Input, u.Output)
}

type repl struct {
	client   *streamclient.Client
	agentID  string
	provider string
	model    string
	prompt   string
	out      io.Writer

	conversationID string
	history        []streamclient.Message
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}

		s := r.send(ctx, line)
		select {
		case <-s.Done():
		case <-interrupts:
			s.Cancel()
		}
		snap, err := s.Wait()
		if errors.Is(err, streamclient.ErrSessionExpired) {
			return err
		}
		r.finish(line, snap)
	}
}

func (r *repl) send(ctx context.Context, line string) *streamclient.Session {
	h := r.handlers()
	msg := streamclient.Message{Role: "user", Content: line}
	if r.agentID != "" {
		return r.client.ExecuteAgent(ctx, r.agentID, append(append([]streamclient.Message{}, r.history...), msg), h)
	}
	return r.client.Chat(ctx, streamclient.ChatRequest{
		Messages:       []streamclient.Message{msg},
		Model:          r.model,
		Provider:       r.provider,
		PromptID:       r.prompt,
		ConversationID: r.conversationID,
	}, h)
}

// handlers prints one turn. Content is printed incrementally while each
// display extends the previous one.
func (r *repl) handlers() streamclient.Handlers {
	shown := ""
	return streamclient.Handlers{
		OnContent: func(display string) {
			if strings.HasPrefix(display, shown) {
				fmt.Fprint(r.out, display[len(shown):])
			} else {
				// the display was rewritten, not extended: start over on a fresh line
				fmt.Fprint(r.out, "\n", display)
			}
			shown = display
		},
		OnToolCall: func(rec streamclient.ToolCallRecord) {
			fmt.Fprintf(r.out, "\n[tool %s %v]\n", rec.Name, rec.Arguments)
		},
		OnToolResult: func(rec streamclient.ToolCallRecord) {
			fmt.Fprintf(r.out, "[%s -> %v in %dms]\n", rec.Name, rec.Result, rec.DurationMs)
		},
		OnError: func(err error) {
			fmt.Fprintf(r.out, "\nerror: %v\n", err)
		},
		OnCancel: func(streamclient.Snapshot) {
			fmt.Fprintln(r.out, "\n[cancelled]")
		},
	}
}

// finish records a completed turn so the next one continues it.
func (r *repl) finish(line string, snap streamclient.Snapshot) {
	fmt.Fprintln(r.out)
	if snap.State != streamclient.StateEnded {
		return
	}
	if snap.ConversationID != "" {
		r.conversationID = snap.ConversationID
	}
	r.history = append(r.history,
		streamclient.Message{Role: "user", Content: line},
		streamclient.Message{Role: "assistant", Content: snap.Content},
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
