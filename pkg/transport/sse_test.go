package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEParser(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []SSEEvent
	}{
		{
			name:   "single frame",
			chunks: []string{"data: {\"a\":1}\n\n"},
			want:   []SSEEvent{{Data: `{"a":1}`}},
		},
		{
			name:   "json payload split mid-object",
			chunks: []string{"data: {\"a\"", ":1}\n\n"},
			want:   []SSEEvent{{Data: `{"a":1}`}},
		},
		{
			name:   "split across chunks mid-line",
			chunks: []string{"da", "ta: hel", "lo\n", "\n"},
			want:   []SSEEvent{{Data: "hello"}},
		},
		{
			name:   "multi-line data joined with newline",
			chunks: []string{"data: one\ndata: two\n\n"},
			want:   []SSEEvent{{Data: "one\ntwo"}},
		},
		{
			name:   "crlf line endings",
			chunks: []string{"event: message\r\ndata: x\r\n\r\n"},
			want:   []SSEEvent{{Event: "message", Data: "x"}},
		},
		{
			name:   "crlf split between chunks",
			chunks: []string{"data: x\r", "\n\r", "\n"},
			want:   []SSEEvent{{Data: "x"}},
		},
		{
			name:   "comments and unknown fields ignored",
			chunks: []string{": keepalive\nfoo: bar\ndata: y\n\n"},
			want:   []SSEEvent{{Data: "y"}},
		},
		{
			name:   "id persists across frames",
			chunks: []string{"id: 7\ndata: a\n\ndata: b\n\n"},
			want:   []SSEEvent{{ID: "7", Data: "a"}, {ID: "7", Data: "b"}},
		},
		{
			name:   "blank line without data dispatches nothing",
			chunks: []string{"event: ping\n\n"},
			want:   nil,
		},
		{
			name:   "no space after colon",
			chunks: []string{"data:tight\n\n"},
			want:   []SSEEvent{{Data: "tight"}},
		},
		{
			name:   "empty data line",
			chunks: []string{"data\n\n"},
			want:   []SSEEvent{{Data: ""}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p SSEParser
			var got []SSEEvent
			for _, c := range tt.chunks {
				events, err := p.Feed([]byte(c))
				require.NoError(t, err)
				got = append(got, events...)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSSEParser_Retry(t *testing.T) {
	var p SSEParser
	_, err := p.Feed([]byte("retry: 2500\nretry: nope\n\n"))
	require.NoError(t, err)
	assert.Equal(t, 2500, p.Retry)
}

func TestSSEParser_ResetKeepsLastEventID(t *testing.T) {
	var p SSEParser
	_, _ = p.Feed([]byte("id: 42\ndata: partial"))
	p.Reset()
	assert.Equal(t, "42", p.LastEventID)
	events, err := p.Feed([]byte("\n\n"))
	require.NoError(t, err)
	assert.Empty(t, events, "partial frame must not survive Reset")
}

func TestSSEParser_FrameLimit(t *testing.T) {
	t.Run("unterminated line", func(t *testing.T) {
		p := SSEParser{MaxFrameBytes: 16}
		_, err := p.Feed([]byte("data: 0123456789"))
		require.NoError(t, err)
		_, err = p.Feed([]byte("abcdef"))
		require.ErrorIs(t, err, ErrFrameTooLarge)

		events, err := p.Feed([]byte("data: ok\n\n"))
		require.NoError(t, err)
		assert.Equal(t, []SSEEvent{{Data: "ok"}}, events)
	})

	t.Run("many data lines without dispatch", func(t *testing.T) {
		p := SSEParser{MaxFrameBytes: 16}
		events, err := p.Feed([]byte("data: a\n\ndata: 12345\ndata: 67890\ndata: abcde\n"))
		require.ErrorIs(t, err, ErrFrameTooLarge)
		assert.Equal(t, []SSEEvent{{Data: "a"}}, events)
	})

	t.Run("read events stops", func(t *testing.T) {
		var got []string
		err := ReadEvents(strings.NewReader("data: first\n\ndata: "+strings.Repeat("z", 64)), &SSEParser{MaxFrameBytes: 32}, func(ev SSEEvent) {
			got = append(got, ev.Data)
		})
		require.ErrorIs(t, err, ErrFrameTooLarge)
		assert.Equal(t, []string{"first"}, got)
	})
}

// oneByteReader forces ReadEvents to see the worst possible chunking.
type oneByteReader struct{ r *strings.Reader }

func (o oneByteReader) Read(b []byte) (int, error) {
	if len(b) > 1 {
		b = b[:1]
	}
	return o.r.Read(b)
}

func TestReadEvents(t *testing.T) {
	stream := "data: {\"jsonrpc\":\"2.0\",\"method\":\"a\"}\r\n\r\n: comment\n\ndata: second\n\ndata: dangling"
	var got []string
	err := ReadEvents(oneByteReader{strings.NewReader(stream)}, &SSEParser{}, func(ev SSEEvent) {
		got = append(got, ev.Data)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"jsonrpc":"2.0","method":"a"}`, "second"}, got)
}
