package consumer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"rekindle/internal/resume"
)

// State is the rendering state machine's position.
type State int

const (
	// StateIdle awaits input.
	StateIdle State = iota
	// StateSending has issued the request but seen no bytes yet.
	StateSending
	// StateStreaming is accumulating fragments.
	StateStreaming
	// StateErrored absorbs a failed stream until the next submit.
	StateErrored
)

// DefaultGreeting is the synthetic turn seeded at session start. It is UI
// framing only and is never replayed to the provider.
const DefaultGreeting = "Welcome back. I've pulled up where you left off — ask me anything to continue."

// ErrBusy is returned when a submit arrives while a stream is in flight.
var ErrBusy = errors.New("a reply is already streaming")

// UpdateKind tags a session update delivered to the renderer.
type UpdateKind int

const (
	// UpdateDelta carries a new partial reply.
	UpdateDelta UpdateKind = iota
	// UpdateSettled means the reply joined the history.
	UpdateSettled
	// UpdateFailed means the stream failed and the partial was discarded.
	UpdateFailed
)

// Update is one renderer notification. Renders are idempotent: Partial is
// the whole accumulated text so far, not an increment.
type Update struct {
	Kind    UpdateKind
	Partial string
	Err     string
}

// Session is one logical conversation panel. All mutation happens under
// one mutex; the streaming goroutine applies events through epoch-checked
// methods so an abandoned stream cannot touch a reset session.
type Session struct {
	client  *Client
	subject resume.SubjectRef
	log     *zap.Logger

	mu      sync.Mutex
	state   State
	history []resume.ChatTurn
	partial strings.Builder
	lastErr string
	epoch   int
	cancel  context.CancelFunc
	saved   map[int]bool
}

// NewSession seeds a session with the synthetic greeting.
func NewSession(client *Client, subject resume.SubjectRef, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		client:  client,
		subject: subject,
		log:     log.Named("session"),
	}
	s.seed()
	return s
}

func (s *Session) seed() {
	s.history = []resume.ChatTurn{{Role: resume.RoleModel, Content: DefaultGreeting}}
	s.state = StateIdle
	s.partial.Reset()
	s.lastErr = ""
	s.saved = map[int]bool{}
}

// State returns the current machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the chat history, greeting included.
func (s *Session) History() []resume.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]resume.ChatTurn, len(s.history))
	copy(out, s.history)
	return out
}

// Partial returns the accumulated text of the in-flight reply.
func (s *Session) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial.String()
}

// Err returns the surfaced error message, if any.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Saved reports whether the reply at index was already promoted.
func (s *Session) Saved(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[index]
}

// Reset clears the session back to a fresh greeting. Any in-flight
// stream is cancelled and its eventual output dropped: the epoch moves
// on without it.
func (s *Session) Reset() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.epoch++
	s.seed()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// maxWireTurns matches the relay's chatHistory cap. Older turns fall off
// the wire; the session transcript keeps them all.
const maxWireTurns = 50

// requestHistory is the chatHistory sent over the wire: everything except
// the synthetic greeting at index 0, windowed to the newest turns the
// relay accepts.
func (s *Session) requestHistory() []resume.ChatTurn {
	turns := s.history[1:]
	if len(turns) > maxWireTurns {
		turns = turns[len(turns)-maxWireTurns:]
	}
	out := make([]resume.ChatTurn, 0, len(turns))
	out = append(out, turns...)
	return out
}

// Submit sends one user message and streams the reply. Updates arrive on
// the returned channel, which closes after the terminal update. The
// session refuses overlapping submits; Reset is the way to abandon one.
func (s *Session) Submit(ctx context.Context, text string) (<-chan Update, error) {
	s.mu.Lock()
	if s.state == StateSending || s.state == StateStreaming {
		s.mu.Unlock()
		return nil, ErrBusy
	}

	ctx, cancel := context.WithCancel(ctx)

	history := s.requestHistory()
	s.history = append(s.history, resume.ChatTurn{Role: resume.RoleUser, Content: text})
	s.lastErr = ""
	s.state = StateSending
	s.cancel = cancel
	epoch := s.epoch
	s.mu.Unlock()

	updates := make(chan Update, 16)
	go s.run(ctx, cancel, epoch, history, text, updates)
	return updates, nil
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, epoch int, history []resume.ChatTurn, text string, updates chan<- Update) {
	defer close(updates)
	defer cancel()

	stream, err := s.client.Chat(ctx, s.subject, history, text)
	if err != nil {
		s.fail(epoch, updates, remoteMessage(err))
		return
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if err != nil {
			// Transport severed without a terminal event.
			s.log.Warn("stream ended without terminal event", zap.Error(err))
			s.fail(epoch, updates, "connection lost before the reply finished")
			return
		}

		switch ev.Kind {
		case resume.EventText:
			if !s.applyDelta(epoch, updates, ev.Text) {
				return
			}
		case resume.EventDone:
			s.settle(epoch, updates)
			return
		case resume.EventError:
			s.fail(epoch, updates, ev.Message)
			return
		}
	}
}

// applyDelta appends a fragment; false means the session moved on and the
// stream should stop reading.
func (s *Session) applyDelta(epoch int, updates chan<- Update, text string) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	if s.state == StateSending {
		s.state = StateStreaming
	}
	s.partial.WriteString(text)
	partial := s.partial.String()
	s.mu.Unlock()

	updates <- Update{Kind: UpdateDelta, Partial: partial}
	return true
}

// settle turns the accumulator into a model turn and returns to idle.
func (s *Session) settle(epoch int, updates chan<- Update) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	full := s.partial.String()
	s.history = append(s.history, resume.ChatTurn{Role: resume.RoleModel, Content: full})
	s.partial.Reset()
	s.state = StateIdle
	s.mu.Unlock()

	updates <- Update{Kind: UpdateSettled, Partial: full}
}

// fail discards the partial accumulator: a half reply must not masquerade
// as a complete answer. When no reply byte ever arrived, the user turn
// this submit appended is rolled back too, so a rejected question is not
// replayed as history the model never saw.
func (s *Session) fail(epoch int, updates chan<- Update, message string) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if s.state == StateSending {
		if n := len(s.history); n > 1 && s.history[n-1].Role == resume.RoleUser {
			s.history = s.history[:n-1]
		}
	}
	s.partial.Reset()
	s.lastErr = message
	s.state = StateErrored
	s.mu.Unlock()

	updates <- Update{Kind: UpdateFailed, Err: message}
}

// remoteMessage keeps relay error surfaces short for the UI.
func remoteMessage(err error) string {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return "request was interrupted"
	}
	return "could not reach the relay"
}
