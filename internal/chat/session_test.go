package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFinishFirstCallWins(t *testing.T) {
	s := &session{state: stateStreaming}

	s.finish(OutcomeFailed, errors.New("boom"))
	s.finish(OutcomeCompleted, nil)
	s.finish(OutcomeCancelled, context.Canceled)

	assert.Equal(t, OutcomeFailed, s.outcome)
	assert.EqualError(t, s.err, "boom")
	assert.Equal(t, stateFailed, s.state)
}

func TestSessionFinishIgnoredBeforeStreaming(t *testing.T) {
	s := &session{state: stateInit}
	s.finish(OutcomeCompleted, nil)
	assert.Equal(t, stateInit, s.state)
	assert.Empty(t, s.outcome)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	task := agent.StartTask(context.Background(), scripted([]string{"x"}, nil), agent.GenerateRequest{}, 1, nil)
	s := &session{state: statePersisted}

	s.close(task)
	assert.Equal(t, stateClosed, s.state)
	assert.NotPanics(t, func() { s.close(task) })
	assert.Equal(t, "closed", s.state.String())
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestStreamLogsFinalState(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		err    error
		queue  *fakeQueue
		want   string
	}{
		{"persisted", []string{"ok"}, nil, &fakeQueue{}, "persisted"},
		{"blank reply", []string{" "}, nil, &fakeQueue{}, "completed"},
		{"failed unqueued", []string{"half"}, errors.New("down"), &fakeQueue{closed: true}, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			c := NewCoordinator(fakeChats{"c1": "u1"}, tt.queue, scripted(tt.tokens, tt.err), testConfig(), logger)

			_, err := c.Stream(context.Background(), StreamRequest{
				ChatID: "c1", UserID: "u1", Messages: userTurn("hi"), Streaming: true,
			}, &recordingWriter{})
			require.NoError(t, err)

			assert.Equal(t, tt.want, lastLogLine(t, &buf)["state"])
		})
	}
}
