package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"rekindle/internal/resume"
)

type insightRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	SpaceID        string `json:"spaceId,omitempty"`
	Question       string `json:"question"`
	Answer         string `json:"answer"`
}

func (r *insightRequest) validate() error {
	subject := resume.SubjectRef{ConversationID: r.ConversationID, SpaceID: r.SpaceID}
	if err := subject.Validate(); err != nil {
		return err
	}
	if len(r.Question) == 0 || len(r.Question) > maxMessageLen {
		return fmt.Errorf("question must be 1..%d bytes", maxMessageLen)
	}
	if len(r.Answer) == 0 || len(r.Answer) > maxMessageLen {
		return fmt.Errorf("answer must be 1..%d bytes", maxMessageLen)
	}
	return nil
}

type insightResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	var req insightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "request body is not valid JSON")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationError, err.Error())
		return
	}
	subjectID := resume.SubjectRef{ConversationID: req.ConversationID, SpaceID: req.SpaceID}.ID()
	if !validID.MatchString(subjectID) {
		writeError(w, http.StatusBadRequest, codeInvalidIDFormat, "subject id has an invalid format")
		return
	}

	ins, err := s.store.AddInsight(r.Context(), req.ConversationID, req.SpaceID, req.Question, req.Answer)
	if err != nil {
		s.log.Error("insight save failed", zap.String("subject", subjectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "insight could not be saved")
		return
	}

	s.log.Info("insight saved",
		zap.String("id", ins.ID), zap.String("subject", subjectID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(insightResponse{ID: ins.ID, CreatedAt: ins.CreatedAt})
}
