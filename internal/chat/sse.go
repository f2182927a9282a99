package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Markers used inside frames; clients reverse them. Each one stands for a
// single character so the substitution round-trips.
const (
	lineBreakMarker      = "<br/>"
	carriageReturnMarker = "<cr/>"
)

var lineBreakEscaper = strings.NewReplacer(
	"\n", lineBreakMarker,
	"\r", carriageReturnMarker,
)

// Frame prefixes for terminal failures.
const (
	errorPrefix     = "[ERROR] "
	taskErrorPrefix = "[TASK_ERROR] "
)

var errStreamingUnsupported = errors.New("response writer does not support flushing")

// FrameWriter delivers one framed chunk to the client.
type FrameWriter interface {
	WriteFrame(data string) error
}

// TokenFrame makes a token safe for "data:" framing.
func TokenFrame(token string) string {
	return escapeLineBreaks(token)
}

// ErrorFrame is the terminal frame for a mid-stream failure.
func ErrorFrame(msg string) string {
	return errorPrefix + escapeLineBreaks(msg)
}

// TaskErrorFrame is the terminal frame for a failure reported after the
// token stream closed.
func TaskErrorFrame(msg string) string {
	return taskErrorPrefix + escapeLineBreaks(msg)
}

func escapeLineBreaks(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return lineBreakEscaper.Replace(s)
}

// SSEWriter writes "data: ...\n\n" frames and flushes each one. Headers
// are sent with the first frame so earlier failures can still be answered
// with a normal HTTP error.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewSSEWriter wraps w. It fails when w cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Start commits the streaming headers. Later calls do nothing.
func (s *SSEWriter) Start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// Started reports whether headers have been sent.
func (s *SSEWriter) Started() bool {
	return s.started
}

// WriteFrame implements FrameWriter.
func (s *SSEWriter) WriteFrame(data string) error {
	s.Start()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	s.flusher.Flush()
	return nil
}
