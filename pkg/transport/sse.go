package transport

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
)

// ErrFrameTooLarge is returned when a frame grows past the parser's limit
// before it is dispatched.
var ErrFrameTooLarge = errors.New("sse frame exceeds size limit")

// SSEEvent is one dispatched Server-Sent Events frame.
type SSEEvent struct {
	Event string
	ID    string
	Data  string
}

// SSEParser turns a byte stream into SSE frames. Partial lines are buffered
// across Feed calls. Multi-line data is joined with "\n" and dispatched on a
// blank line; comments and unknown fields are ignored.
type SSEParser struct {
	buf       []byte
	data      []string
	dataBytes int
	hasData   bool
	event     string

	// MaxFrameBytes bounds a pending frame, buffered line included. Zero
	// means maxResponseBytes.
	MaxFrameBytes int

	// LastEventID is the most recent id field seen. It survives dispatch
	// and is sent back as Last-Event-ID on reconnect.
	LastEventID string
	// Retry is the last reconnection delay hint, in milliseconds.
	Retry int
}

// Feed consumes a chunk and returns the frames it completed. When the
// pending frame outgrows MaxFrameBytes the parser is reset and
// ErrFrameTooLarge is returned with the frames completed before it.
func (p *SSEParser) Feed(chunk []byte) ([]SSEEvent, error) {
	p.buf = append(p.buf, chunk...)

	var out []SSEEvent
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(p.buf[:i], []byte{'\r'}))
		p.buf = p.buf[i+1:]
		if ev, ok := p.line(line); ok {
			out = append(out, ev)
		}
		if p.dataBytes > p.limit() {
			p.Reset()
			return out, ErrFrameTooLarge
		}
	}
	if len(p.buf)+p.dataBytes > p.limit() {
		p.Reset()
		return out, ErrFrameTooLarge
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out, nil
}

func (p *SSEParser) limit() int {
	if p.MaxFrameBytes > 0 {
		return p.MaxFrameBytes
	}
	return maxResponseBytes
}

// Reset drops any partially received frame. LastEventID is kept.
func (p *SSEParser) Reset() {
	p.buf = nil
	p.data = nil
	p.dataBytes = 0
	p.hasData = false
	p.event = ""
}

func (p *SSEParser) line(line string) (SSEEvent, bool) {
	if line == "" {
		return p.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return SSEEvent{}, false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "data":
		p.data = append(p.data, value)
		p.dataBytes += len(value) + 1
		p.hasData = true
	case "event":
		p.event = value
	case "id":
		if !strings.ContainsRune(value, 0) {
			p.LastEventID = value
		}
	case "retry":
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			p.Retry = n
		}
	}
	return SSEEvent{}, false
}

func (p *SSEParser) dispatch() (SSEEvent, bool) {
	defer func() {
		p.data = nil
		p.dataBytes = 0
		p.hasData = false
		p.event = ""
	}()
	if !p.hasData {
		return SSEEvent{}, false
	}
	return SSEEvent{
		Event: p.event,
		ID:    p.LastEventID,
		Data:  strings.Join(p.data, "\n"),
	}, true
}

// ReadEvents feeds r through p until EOF or a read error, calling fn for
// every completed frame. A clean EOF returns nil; an oversized frame stops
// reading with ErrFrameTooLarge.
func ReadEvents(r io.Reader, p *SSEParser, fn func(SSEEvent)) error {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			events, ferr := p.Feed(chunk[:n])
			for _, ev := range events {
				fn(ev)
			}
			if ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
