package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"agentbuilder/api/pkg/telemetry"
)

// Writer is the producer side of one execution stream.
//
// It enforces the ordering contract (RequestStart first, exactly one
// RequestEnd last, no ToolResult before its ToolCall), serializes events
// coming from concurrent goroutines and flushes after every event.
type Writer struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	rc       *http.ResponseController
	recorder telemetry.Recorder

	started     bool
	ended       bool
	executionID string
	calls       map[string]bool
}

// NewWriter prepares w for event streaming and writes the response headers.
func NewWriter(w http.ResponseWriter, recorder telemetry.Recorder) *Writer {
	if recorder == nil {
		recorder = telemetry.NoopRecorder{}
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	return &Writer{
		w:        w,
		rc:       http.NewResponseController(w),
		recorder: recorder,
		calls:    make(map[string]bool),
	}
}

// ExecutionID returns the id sent with RequestStart.
func (sw *Writer) ExecutionID() string {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.executionID
}

// Ended reports whether RequestEnd has been written.
func (sw *Writer) Ended() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.ended
}

// Start writes RequestStart.
func (sw *Writer) Start(ctx context.Context, executionID string) error {
	return sw.Send(ctx, RequestStart{ExecutionID: executionID})
}

// End writes the terminal RequestEnd.
func (sw *Writer) End(ctx context.Context, conversationID string) error {
	return sw.Send(ctx, RequestEnd{ConversationID: conversationID})
}

// Send writes one event and flushes it to the client.
func (sw *Writer) Send(ctx context.Context, e Event) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.ended {
		return ErrStreamEnded
	}
	switch ev := e.(type) {
	case RequestStart:
		if sw.started {
			return ErrAlreadyStarted
		}
	case ToolResult:
		if !sw.started {
			return ErrNotStarted
		}
		if !sw.calls[ev.ToolCallID] {
			return fmt.Errorf("%w: %s", ErrUnknownToolCall, ev.ToolCallID)
		}
	default:
		if !sw.started {
			return ErrNotStarted
		}
	}

	frame, err := EncodeFrame(e)
	if err != nil {
		return err
	}
	if _, err := sw.w.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", e.MessageType(), err)
	}
	if err := sw.rc.Flush(); err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			return ErrStreamingUnsupported
		}
		return fmt.Errorf("flush %s: %w", e.MessageType(), err)
	}

	switch ev := e.(type) {
	case RequestStart:
		sw.started = true
		sw.executionID = ev.ExecutionID
	case ToolCall:
		sw.calls[ev.ToolCallID] = true
	case RequestEnd:
		sw.ended = true
	}
	sw.recorder.RecordEvent(ctx, e.MessageType())
	return nil
}

// Fail surfaces err to the client as a final text fragment. The stream is
// left open; callers still send RequestEnd.
func (sw *Writer) Fail(ctx context.Context, err error) error {
	for _, e := range []Event{
		ChatStartFragment{},
		ChatFragment{Content: fmt.Sprintf("Error: %s", err.Error())},
		ChatEndFragment{},
	} {
		if sendErr := sw.Send(ctx, e); sendErr != nil {
			return sendErr
		}
	}
	return nil
}
