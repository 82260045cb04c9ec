package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalEvent_IncludesMessageType(t *testing.T) {
	tests := []struct {
		event Event
		want  map[string]any
	}{
		{RequestStart{ExecutionID: "E1"}, map[string]any{"MessageType": "RequestStart", "ExecutionId": "E1"}},
		{ChatStartFragment{}, map[string]any{"MessageType": "ChatStartFragment"}},
		{ChatFragment{Content: "hi"}, map[string]any{"MessageType": "ChatFragment", "Content": "hi"}},
		{ToolCall{ToolCallID: "c1", Name: "datetime", QueryParameters: `{"tz":"UTC"}`},
			map[string]any{"MessageType": "ToolCall", "ToolCallId": "c1", "Name": "datetime", "QueryParameters": `{"tz":"UTC"}`}},
		{ToolResult{ToolCallID: "c1", Result: map[string]any{"ok": true}},
			map[string]any{"MessageType": "ToolResult", "ToolCallId": "c1", "Result": map[string]any{"ok": true}}},
		{TokenUsage{InputTokens: 3, OutputTokens: 2},
			map[string]any{"MessageType": "TokenUsage", "InputTokens": float64(3), "OutputTokens": float64(2)}},
		{RequestEnd{ConversationID: "C1"}, map[string]any{"MessageType": "RequestEnd", "ConversationId": "C1"}},
	}
	for _, tt := range tests {
		t.Run(tt.event.MessageType(), func(t *testing.T) {
			raw, err := MarshalEvent(tt.event)
			require.NoError(t, err)
			var got map[string]any
			require.NoError(t, json.Unmarshal(raw, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnmarshalEvent(t *testing.T) {
	e, err := UnmarshalEvent("ChatFragment", []byte(`{"MessageType":"ChatFragment","Content":"Hel"}`))
	require.NoError(t, err)
	assert.Equal(t, ChatFragment{Content: "Hel"}, e)

	e, err = UnmarshalEvent("", []byte(`{"MessageType":"TokenUsage","InputTokens":3,"OutputTokens":5}`))
	require.NoError(t, err)
	assert.Equal(t, TokenUsage{InputTokens: 3, OutputTokens: 5}, e)

	_, err = UnmarshalEvent("Bogus", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownEventType)

	_, err = UnmarshalEvent("ChatFragment", []byte(`{"Content":`))
	require.Error(t, err)
}

func TestEncodeFrame_Format(t *testing.T) {
	frame, err := EncodeFrame(RequestStart{ExecutionID: "E1"})
	require.NoError(t, err)
	assert.Equal(t, "event: RequestStart\ndata: {\"ExecutionId\":\"E1\",\"MessageType\":\"RequestStart\"}\n\n", string(frame))
}

func TestDecoder_ChunkBoundaries(t *testing.T) {
	var wire strings.Builder
	for _, e := range []Event{RequestStart{ExecutionID: "E1"}, ChatFragment{Content: "Hel"}, ChatFragment{Content: "lo"}, RequestEnd{}} {
		frame, err := EncodeFrame(e)
		require.NoError(t, err)
		wire.WriteString(string(frame))
	}
	input := []byte(wire.String())

	for _, size := range []int{1, 2, 3, 7, 16, len(input)} {
		var d Decoder
		var frames []Frame
		for i := 0; i < len(input); i += size {
			end := min(i+size, len(input))
			frames = append(frames, d.Feed(input[i:end])...)
		}
		frames = append(frames, d.Flush()...)

		require.Len(t, frames, 4, "chunk size %d", size)
		assert.Equal(t, "RequestStart", frames[0].Event)
		e, err := frames[2].Decode()
		require.NoError(t, err)
		assert.Equal(t, ChatFragment{Content: "lo"}, e)
		assert.Zero(t, d.Buffered())
	}
}

func TestDecoder_CRLFAndComments(t *testing.T) {
	var d Decoder
	frames := d.Feed([]byte(": keep-alive\r\nevent: ChatFragment\r\ndata: {\"Content\":\"a\"}\r\n\r\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{Event: "ChatFragment", Data: `{"Content":"a"}`}, frames[0])
}

func TestDecoder_HoldsPartialLine(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte("event: ChatFragment\ndata: {\"Con")))
	assert.Positive(t, d.Buffered())
	frames := d.Feed([]byte("tent\":\"x\"}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"Content":"x"}`, frames[0].Data)
}

func TestDecoder_MultiLineDataAndFlush(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte("data: line1\ndata: line2")))
	frames := d.Flush()
	require.Len(t, frames, 1)
	assert.Equal(t, "line1\nline2", frames[0].Data)
	assert.Empty(t, frames[0].Event)
}

func TestWriter_OrderingContract(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec, nil)
	ctx := context.Background()

	require.ErrorIs(t, w.Send(ctx, ChatFragment{Content: "early"}), ErrNotStarted)
	require.NoError(t, w.Start(ctx, "E1"))
	require.ErrorIs(t, w.Start(ctx, "E2"), ErrAlreadyStarted)
	require.ErrorIs(t, w.Send(ctx, ToolResult{ToolCallID: "c1"}), ErrUnknownToolCall)
	require.NoError(t, w.Send(ctx, ToolCall{ToolCallID: "c1", Name: "datetime"}))
	require.NoError(t, w.Send(ctx, ToolResult{ToolCallID: "c1", Result: "now"}))
	require.NoError(t, w.End(ctx, "C1"))
	require.ErrorIs(t, w.End(ctx, "C1"), ErrStreamEnded)
	require.ErrorIs(t, w.Send(ctx, ChatFragment{}), ErrStreamEnded)

	assert.Equal(t, "E1", w.ExecutionID())
	assert.True(t, w.Ended())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)

	var d Decoder
	frames := append(d.Feed(rec.Body.Bytes()), d.Flush()...)
	var names []string
	for _, f := range frames {
		names = append(names, f.Event)
	}
	assert.Equal(t, []string{"RequestStart", "ToolCall", "ToolResult", "RequestEnd"}, names)
}

func TestWriter_SerializesConcurrentSenders(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec, nil)
	ctx := context.Background()
	require.NoError(t, w.Start(ctx, "E1"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Send(ctx, ChatFragment{Content: "x"}))
		}()
	}
	wg.Wait()
	require.NoError(t, w.End(ctx, ""))

	var d Decoder
	frames := append(d.Feed(rec.Body.Bytes()), d.Flush()...)
	require.Len(t, frames, 22)
	for _, f := range frames[1:21] {
		e, err := f.Decode()
		require.NoError(t, err)
		assert.Equal(t, ChatFragment{Content: "x"}, e)
	}
}

func TestWriter_Fail(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec, nil)
	ctx := context.Background()

	require.ErrorIs(t, w.Fail(ctx, errors.New("boom")), ErrNotStarted)
	require.NoError(t, w.Start(ctx, "E1"))
	require.NoError(t, w.Fail(ctx, errors.New("provider unavailable")))
	assert.False(t, w.Ended())
	require.NoError(t, w.End(ctx, ""))
	require.ErrorIs(t, w.Fail(ctx, errors.New("late")), ErrStreamEnded)

	var d Decoder
	frames := append(d.Feed(rec.Body.Bytes()), d.Flush()...)
	var events []Event
	for _, f := range frames {
		e, err := f.Decode()
		require.NoError(t, err)
		events = append(events, e)
	}
	assert.Equal(t, []Event{
		RequestStart{ExecutionID: "E1"},
		ChatStartFragment{},
		ChatFragment{Content: "Error: provider unavailable"},
		ChatEndFragment{},
		RequestEnd{},
	}, events)
}
