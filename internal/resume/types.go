// Package resume implements the core of the thought-resumption engine:
// the chat data model, the context builder that flattens stored
// conversations, and the system-instruction assembler.
package resume

import (
	"errors"
	"fmt"
)

// Role identifies who authored a chat turn. It is a closed enumeration;
// every dispatch over roles must switch exhaustively so a new role is a
// compile-time-visible change.
type Role int

const (
	RoleUser Role = iota
	RoleModel
	RoleSystem
)

// ParseRole maps a stored role string onto the closed enumeration.
// Anything outside the three known roles is rejected; callers treat that
// as a corrupt document, not a fourth role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "model":
		return RoleModel, nil
	case "system":
		return RoleSystem, nil
	default:
		return 0, fmt.Errorf("unknown role: %q", s)
	}
}

// String returns the wire spelling of the role.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleModel:
		return "model"
	case RoleSystem:
		return "system"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Display returns the transcript heading for the role.
func (r Role) Display() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleModel:
		return "AI"
	case RoleSystem:
		return "System"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON bodies.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON bodies.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ChatTurn is one immutable turn of the in-memory chat history.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SubjectRef names the conversation or space a request anchors on.
// Exactly one of the two ids must be set.
type SubjectRef struct {
	ConversationID string `json:"conversationId,omitempty"`
	SpaceID        string `json:"spaceId,omitempty"`
}

// ErrSubjectExclusivity is returned when a SubjectRef does not name exactly
// one subject kind.
var ErrSubjectExclusivity = errors.New("exactly one of conversationId and spaceId must be set")

// Validate enforces the conversation-XOR-space invariant.
func (s SubjectRef) Validate() error {
	if (s.ConversationID == "") == (s.SpaceID == "") {
		return ErrSubjectExclusivity
	}
	return nil
}

// ID returns whichever id is set.
func (s SubjectRef) ID() string {
	if s.ConversationID != "" {
		return s.ConversationID
	}
	return s.SpaceID
}

// ResumeContext is the assembled textual context for one request.
// It is built fresh every time and never persisted.
type ResumeContext struct {
	Summary string
	Title   string
	Note    string
}

// EventKind tags a StreamEvent.
type EventKind int

const (
	// EventText carries one fragment of the reply.
	EventText EventKind = iota
	// EventDone terminates a successful stream.
	EventDone
	// EventError terminates a failed stream.
	EventError
)

// StreamEvent is the tagged union relayed from server to client. A stream
// is zero or more EventText events followed by exactly one terminal event;
// nothing follows the terminal event.
type StreamEvent struct {
	Kind EventKind
	// Text is set only for EventText.
	Text string
	// Message is set only for EventError.
	Message string
}

// TextEvent wraps a fragment.
func TextEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventText, Text: text}
}

// DoneEvent is the successful terminal event.
func DoneEvent() StreamEvent {
	return StreamEvent{Kind: EventDone}
}

// ErrorEvent is the failing terminal event.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Kind: EventError, Message: message}
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

// PendingInsight is the ephemeral question/answer pair the client builds
// just before a persistence call.
type PendingInsight struct {
	Subject  SubjectRef
	Question string
	Answer   string
}
