package chat

import (
	"strings"
	"time"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/agent"
)

type streamState int

const (
	stateInit streamState = iota
	stateStreaming
	stateCompleted
	stateFailed
	stateCancelled
	statePersisted
	stateClosed
)

func (s streamState) String() string {
	return [...]string{"init", "streaming", "completed", "failed", "cancelled", "persisted", "closed"}[s]
}

// session is the state of one stream.
type session struct {
	start       time.Time
	text        strings.Builder
	tokens      int
	model       string
	temperature float64

	state   streamState
	outcome Outcome
	err     error
}

// finish moves a streaming session to its terminal state. Only the first
// call has an effect.
func (s *session) finish(outcome Outcome, err error) {
	if s.state != stateStreaming {
		return
	}
	s.outcome = outcome
	s.err = err
	switch outcome {
	case OutcomeCompleted:
		s.state = stateCompleted
	case OutcomeFailed:
		s.state = stateFailed
	case OutcomeCancelled:
		s.state = stateCancelled
	}
}

// close releases the generation task. Every path out of Stream runs it;
// later calls do nothing.
func (s *session) close(task *agent.Task) {
	if s.state == stateClosed {
		return
	}
	task.Cancel()
	_ = task.Wait()
	s.state = stateClosed
}
