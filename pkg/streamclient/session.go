package streamclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentbuilder/api/services/stream"
)

// UnknownToolName names the placeholder record created for a tool result
// that has no matching tool call.
const UnknownToolName = "Unknown Tool"

// orphanDuration is the duration assigned to placeholder records.
const orphanDuration = time.Second

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateStarted
	StateAccumulating
	StateEnded
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateAccumulating:
		return "accumulating"
	case StateEnded:
		return "ended"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further events are accepted.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateCancelled
}

// Usage is a pair of token counts.
type Usage struct {
	Input  int
	Output int
}

func (u Usage) add(o Usage) Usage {
	return Usage{Input: u.Input + o.Input, Output: u.Output + o.Output}
}

// ToolCallRecord follows one tool invocation. Arguments and Result hold
// decoded JSON when the wire value was JSON, the raw value otherwise.
type ToolCallRecord struct {
	ID          string
	Name        string
	Arguments   any
	StartedAt   time.Time
	Result      any
	EndedAt     time.Time
	DurationMs  int64
	ExecutionID string
}

// Completed reports whether a result has been recorded.
func (r ToolCallRecord) Completed() bool { return !r.EndedAt.IsZero() }

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	// ID is the provisional id until RequestStart, then the execution id.
	ID             string
	ProvisionalID  string
	ExecutionID    string
	State          State
	Content        string
	ToolCalls      []ToolCallRecord
	Usage          Usage
	ConversationID string
	Duration       time.Duration
	Err            error
}

// DisplayContent is Content with newline runs collapsed for rendering.
func (s Snapshot) DisplayContent() string { return CollapseNewlines(s.Content) }

// Handlers are invoked from the session's read loop, in event order. Any
// of them may be nil. OnCancel runs on the goroutine that called Cancel.
type Handlers struct {
	OnStart      func(executionID string)
	OnContent    func(display string)
	OnToolCall   func(ToolCallRecord)
	OnToolResult func(ToolCallRecord)
	OnUsage      func(total Usage)
	OnEnd        func(Snapshot)
	OnError      func(error)
	OnCancel     func(Snapshot)
}

// Session correlates the events of one execution into a transcript, a
// tool call table and usage totals.
type Session struct {
	mu            sync.Mutex
	id            string
	provisionalID string
	executionID   string
	state         State
	content       strings.Builder
	calls         map[string]*ToolCallRecord
	order         []string
	usage         Usage
	conversation  string
	startedAt     time.Time
	duration      time.Duration
	err           error

	handlers  Handlers
	store     *Store
	account   func(Usage)
	now       func() time.Time
	chunkSize int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(parent context.Context, h Handlers, store *Store, chunkSize int) *Session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	s := &Session{
		id:            id,
		provisionalID: id,
		calls:         make(map[string]*ToolCallRecord),
		handlers:      h,
		store:         store,
		now:           time.Now,
		chunkSize:     chunkSize,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultChunkSize
	}
	if store != nil {
		store.add(id, s)
	}
	return s
}

// ID returns the session key: the provisional id until the execution id
// is known.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Done is closed once the read loop has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the read loop returns. The error is the transport or
// status error, if any; cancellation is not an error.
func (s *Session) Wait() (Snapshot, error) {
	<-s.done
	snap := s.Snapshot()
	return snap, snap.Err
}

// Cancel stops delivery of further events. It is idempotent and a no-op
// once the session has ended or failed. Content accumulated so far is kept.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state.Terminal() || s.err != nil {
		s.mu.Unlock()
		return
	}
	s.state = StateCancelled
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.cancel()
	slog.Debug("Stream session cancelled", "id", snap.ID)
	if s.handlers.OnCancel != nil {
		s.handlers.OnCancel(snap)
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:             s.id,
		ProvisionalID:  s.provisionalID,
		ExecutionID:    s.executionID,
		State:          s.state,
		Content:        s.content.String(),
		Usage:          s.usage,
		ConversationID: s.conversation,
		Duration:       s.duration,
		Err:            s.err,
	}
	if len(s.order) > 0 {
		snap.ToolCalls = make([]ToolCallRecord, 0, len(s.order))
		for _, id := range s.order {
			snap.ToolCalls = append(snap.ToolCalls, *s.calls[id])
		}
	}
	return snap
}

// consume reads r in fixed-size chunks and dispatches every complete
// frame. It returns nil once the session is terminal.
func (s *Session) consume(r io.Reader) error {
	var dec stream.Decoder
	buf := make([]byte, s.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && s.dispatch(dec.Feed(buf[:n])) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			if s.dispatch(dec.Flush()) {
				return nil
			}
			return ErrIncompleteStream
		}
		if err != nil {
			return err
		}
	}
}

// dispatch applies frames in order and reports whether the session is
// terminal. Frames that fail to decode are skipped.
func (s *Session) dispatch(frames []stream.Frame) bool {
	for _, f := range frames {
		e, err := f.Decode()
		if err != nil {
			slog.Warn("Skipping malformed stream event", "event", f.Event, "error", err)
			continue
		}
		notify, terminal := s.apply(e)
		if notify != nil {
			notify()
		}
		if terminal {
			return true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Terminal()
}

// apply mutates the session for e. The returned func runs the matching
// handler and must be called without the lock held.
func (s *Session) apply(e stream.Event) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return nil, true
	}

	h := s.handlers
	switch ev := e.(type) {
	case stream.RequestStart:
		if s.executionID != "" {
			slog.Warn("Ignoring repeated RequestStart", "execution_id", s.executionID, "received", ev.ExecutionID)
			return nil, false
		}
		s.start(ev.ExecutionID)
		if h.OnStart == nil {
			return nil, false
		}
		id := s.executionID
		return func() { h.OnStart(id) }, false

	case stream.ChatStartFragment, stream.ChatEndFragment:
		s.accumulate()
		return nil, false

	case stream.ChatFragment:
		s.accumulate()
		s.content.WriteString(ev.Content)
		if h.OnContent == nil {
			return nil, false
		}
		display := CollapseNewlines(s.content.String())
		return func() { h.OnContent(display) }, false

	case stream.ToolCall:
		s.accumulate()
		rec := s.toolCall(ev)
		if h.OnToolCall == nil {
			return nil, false
		}
		return func() { h.OnToolCall(rec) }, false

	case stream.ToolResult:
		s.accumulate()
		rec := s.toolResult(ev)
		if h.OnToolResult == nil {
			return nil, false
		}
		return func() { h.OnToolResult(rec) }, false

	case stream.TokenUsage:
		s.accumulate()
		delta := Usage{Input: ev.InputTokens, Output: ev.OutputTokens}
		s.usage = s.usage.add(delta)
		if s.account != nil {
			s.account(delta)
		}
		if h.OnUsage == nil {
			return nil, false
		}
		total := s.usage
		return func() { h.OnUsage(total) }, false

	case stream.RequestEnd:
		s.state = StateEnded
		if !s.startedAt.IsZero() {
			s.duration = s.now().Sub(s.startedAt)
		}
		if ev.ConversationID != "" {
			s.conversation = ev.ConversationID
		}
		snap := s.snapshotLocked()
		return func() {
			if h.OnEnd != nil {
				h.OnEnd(snap)
			}
		}, true
	}
	return nil, false
}

// start replaces the provisional key with executionID in the session, its
// tool call records and the store.
func (s *Session) start(executionID string) {
	oldID := s.id
	s.executionID = executionID
	s.id = executionID
	s.startedAt = s.now()
	for _, rec := range s.calls {
		if rec.ExecutionID == oldID {
			rec.ExecutionID = executionID
		}
	}
	if s.store != nil {
		s.store.rekey(oldID, executionID)
	}
	if s.state == StateIdle {
		s.state = StateStarted
	}
}

func (s *Session) accumulate() {
	if s.state == StateIdle {
		slog.Debug("Stream event before RequestStart", "id", s.id)
	}
	s.state = StateAccumulating
}

func (s *Session) toolCall(ev stream.ToolCall) ToolCallRecord {
	id := ev.ToolCallID
	if id == "" {
		id = uuid.NewString()
	}
	rec := &ToolCallRecord{
		ID:          id,
		Name:        ev.Name,
		Arguments:   ParseValue(ev.QueryParameters),
		StartedAt:   s.now(),
		ExecutionID: s.id,
	}
	if _, seen := s.calls[id]; !seen {
		s.order = append(s.order, id)
	}
	s.calls[id] = rec
	return *rec
}

func (s *Session) toolResult(ev stream.ToolResult) ToolCallRecord {
	now := s.now()
	rec, ok := s.calls[ev.ToolCallID]
	if !ok {
		slog.Debug("Tool result without a matching tool call", "tool_call_id", ev.ToolCallID, "id", s.id)
		rec = &ToolCallRecord{
			ID:          ev.ToolCallID,
			Name:        UnknownToolName,
			StartedAt:   now.Add(-orphanDuration),
			ExecutionID: s.id,
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		s.calls[rec.ID] = rec
		s.order = append(s.order, rec.ID)
	}
	rec.Result = ParseValue(ev.Result)
	rec.EndedAt = now
	rec.DurationMs = rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	return *rec
}

// finish records the read loop's outcome. Errors after the session became
// terminal, and errors caused by cancellation, are dropped.
func (s *Session) finish(err error) {
	if err == nil {
		return
	}
	if s.ctx.Err() != nil {
		s.Cancel()
		return
	}

	s.mu.Lock()
	if s.state.Terminal() || s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	id := s.id
	s.mu.Unlock()

	slog.Error("Stream session failed", "id", id, "error", err)
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}
