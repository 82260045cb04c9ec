package stream

import "errors"

var (
	ErrUnknownEventType     = errors.New("unknown event type")
	ErrNotStarted           = errors.New("stream not started: RequestStart must come first")
	ErrAlreadyStarted       = errors.New("stream already started")
	ErrStreamEnded          = errors.New("stream already ended")
	ErrUnknownToolCall      = errors.New("tool result without a matching tool call")
	ErrStreamingUnsupported = errors.New("response writer does not support flushing")
)
