// Package provider wraps the upstream language-model client. It maps chat
// history into provider turns, relays the reply as a lazy fragment stream,
// and classifies upstream failures so raw provider errors never cross this
// boundary.
package provider

import (
	"context"

	"rekindle/internal/resume"
)

// Streamer is the provider adapter contract. StreamReply returns a lazy,
// finite, non-restartable fragment sequence: fragments arrive on the first
// channel; the second carries at most one classified error. Both channels
// close when the stream ends. Cancelling ctx aborts the upstream call.
type Streamer interface {
	StreamReply(ctx context.Context, systemInstruction string, history []resume.ChatTurn, newMessage string) (<-chan string, <-chan error)
	Close() error
}
