package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"go.uber.org/zap"

	"rekindle/internal/provider"
	"rekindle/internal/resume"
	"rekindle/internal/store"
)

const (
	maxMessageLen   = 10000
	maxHistoryTurns = 50
)

// Subject ids pass straight into store lookups, so the format is locked
// down before any fetch: no separators, no reserved names, bounded length.
var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type chatRequest struct {
	ConversationID string            `json:"conversationId,omitempty"`
	SpaceID        string            `json:"spaceId,omitempty"`
	UserMessage    string            `json:"userMessage"`
	ChatHistory    []resume.ChatTurn `json:"chatHistory"`
}

func (r *chatRequest) subject() resume.SubjectRef {
	return resume.SubjectRef{ConversationID: r.ConversationID, SpaceID: r.SpaceID}
}

// validate enforces the request schema. It runs before any I/O.
func (r *chatRequest) validate() error {
	if err := r.subject().Validate(); err != nil {
		return err
	}
	if len(r.UserMessage) == 0 || len(r.UserMessage) > maxMessageLen {
		return fmt.Errorf("userMessage must be 1..%d bytes", maxMessageLen)
	}
	if len(r.ChatHistory) > maxHistoryTurns {
		return fmt.Errorf("chatHistory must not exceed %d turns", maxHistoryTurns)
	}
	for i, turn := range r.ChatHistory {
		if turn.Role != resume.RoleUser && turn.Role != resume.RoleModel {
			return fmt.Errorf("chatHistory[%d]: role must be user or model", i)
		}
		if len(turn.Content) > maxMessageLen {
			return fmt.Errorf("chatHistory[%d]: content exceeds %d bytes", i, maxMessageLen)
		}
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "request body is not valid JSON")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationError, err.Error())
		return
	}
	if !validID.MatchString(req.subject().ID()) {
		writeError(w, http.StatusBadRequest, codeInvalidIDFormat, "subject id has an invalid format")
		return
	}

	rc, err := s.builder.BuildContext(ctx, req.subject())
	if err != nil {
		s.writeContextError(w, req.subject(), err)
		return
	}
	instruction := resume.BuildSystemInstruction(rc)

	fragments, errs := s.streamer.StreamReply(ctx, instruction, req.ChatHistory, req.UserMessage)

	// The response status commits on the first fragment. A failure before
	// that is still reportable as a whole-response error; after it, only
	// the terminal error frame can carry the failure.
	first, ok := <-fragments
	if !ok {
		if err := <-errs; err != nil {
			s.writeProviderError(w, err)
			return
		}
		// Zero-fragment success: an empty but well-terminated stream.
		flusher := s.openStream(w)
		s.finish(w, flusher, resume.DoneEvent())
		return
	}

	flusher := s.openStream(w)
	if err := writeFrame(w, resume.TextEvent(first)); err != nil {
		return
	}
	flusher.Flush()

	for frag := range fragments {
		if err := writeFrame(w, resume.TextEvent(frag)); err != nil {
			// Transport gone; the provider stream unwinds via ctx.
			return
		}
		flusher.Flush()
	}

	if err := <-errs; err != nil {
		if ctx.Err() != nil {
			// Client disconnected; nobody is reading the frame.
			s.log.Debug("chat stream abandoned by client")
			return
		}
		s.finish(w, flusher, resume.ErrorEvent(providerMessage(err)))
		return
	}
	s.finish(w, flusher, resume.DoneEvent())
}

// openStream commits the response to SSE.
func (s *Server) openStream(w http.ResponseWriter) http.Flusher {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		// Every real ResponseWriter flushes; tests use httptest.Recorder
		// which also does. Fall back to a no-op to stay total.
		return noopFlusher{}
	}
	return flusher
}

// finish emits the single terminal frame. The stream never closes without
// one, so the consumer can tell "finished" from "network severed".
func (s *Server) finish(w http.ResponseWriter, flusher http.Flusher, ev resume.StreamEvent) {
	if err := writeFrame(w, ev); err != nil {
		s.log.Debug("terminal frame not delivered", zap.Error(err))
		return
	}
	flusher.Flush()
}

type noopFlusher struct{}

func (noopFlusher) Flush() {}

func (s *Server) writeContextError(w http.ResponseWriter, subject resume.SubjectRef, err error) {
	var integrity *store.IntegrityError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "subject does not exist")
	case errors.As(err, &integrity):
		s.log.Error("context build hit corrupt document",
			zap.String("subject", subject.ID()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeDataIntegrity,
			"stored conversation data is unusable")
	case errors.Is(err, resume.ErrSubjectExclusivity):
		writeError(w, http.StatusBadRequest, codeValidationError, err.Error())
	default:
		s.log.Error("context build failed",
			zap.String("subject", subject.ID()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "context build failed")
	}
}

// writeProviderError maps a pre-stream provider failure onto a
// whole-response error.
func (s *Server) writeProviderError(w http.ResponseWriter, err error) {
	var classified *provider.Error
	if !errors.As(err, &classified) {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error("provider failed before streaming", zap.Error(err))
		writeError(w, http.StatusBadGateway, "unknown", "the language model request failed")
		return
	}

	status := http.StatusBadGateway
	switch classified.Kind {
	case provider.KindUnconfigured:
		status = http.StatusServiceUnavailable
	case provider.KindQuotaExceeded:
		status = http.StatusTooManyRequests
	case provider.KindPermissionDenied, provider.KindModelUnavailable, provider.KindUnknown:
		status = http.StatusBadGateway
	}
	writeError(w, status, classified.Kind.String(), classified.Message)
}

// providerMessage extracts the classified message for the terminal error
// frame without leaking raw provider errors.
func providerMessage(err error) string {
	var classified *provider.Error
	if errors.As(err, &classified) {
		return classified.Message
	}
	return "the reply stream was interrupted"
}
