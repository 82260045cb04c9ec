package stream

import (
	"bytes"
	"fmt"
	"strings"
)

// Frame is one undecoded server-sent event.
type Frame struct {
	Event string
	Data  string
}

// EncodeFrame renders e as "event: <type>\ndata: <json>\n\n".
func EncodeFrame(e Event) ([]byte, error) {
	payload, err := MarshalEvent(e)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", e.MessageType(), payload)
	return b.Bytes(), nil
}

// Decoder splits a byte stream into frames. It is fed arbitrary chunks;
// a trailing partial line is held until the next chunk completes it.
// Both "\n" and "\r\n" line endings are accepted.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	partial []byte
	event   string
	data    []string
}

// Feed consumes chunk and returns every frame it completes, in order.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.partial = append(d.partial, chunk...)

	var frames []Frame
	for {
		i := bytes.IndexByte(d.partial, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(d.partial[:i], []byte("\r")))
		d.partial = d.partial[i+1:]
		if f, ok := d.line(line); ok {
			frames = append(frames, f)
		}
	}
	if len(d.partial) == 0 {
		d.partial = nil
	}
	return frames
}

// Flush terminates the stream: a pending partial line and an
// unterminated frame are returned as if followed by a blank line.
func (d *Decoder) Flush() []Frame {
	var frames []Frame
	if len(d.partial) > 0 {
		line := string(bytes.TrimSuffix(d.partial, []byte("\r")))
		d.partial = nil
		if f, ok := d.line(line); ok {
			frames = append(frames, f)
		}
	}
	if f, ok := d.line(""); ok {
		frames = append(frames, f)
	}
	return frames
}

// Buffered reports how many bytes of an incomplete line are held.
func (d *Decoder) Buffered() int { return len(d.partial) }

func (d *Decoder) line(line string) (Frame, bool) {
	switch {
	case line == "":
		if len(d.data) == 0 {
			d.event = ""
			return Frame{}, false
		}
		f := Frame{Event: d.event, Data: strings.Join(d.data, "\n")}
		d.event, d.data = "", nil
		return f, true
	case strings.HasPrefix(line, ":"):
		// comment / keep-alive
	case strings.HasPrefix(line, "event:"):
		d.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		d.data = append(d.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	}
	return Frame{}, false
}

// Decode turns a frame into a typed event.
func (f Frame) Decode() (Event, error) {
	return UnmarshalEvent(f.Event, []byte(f.Data))
}
