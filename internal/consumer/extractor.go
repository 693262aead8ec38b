package consumer

import (
	"context"

	"go.uber.org/zap"

	"rekindle/internal/resume"
)

// Extract pairs the model reply at replyIndex with its originating
// question: the nearest preceding user turn. ok is false when no such
// turn exists — which only happens for the synthetic greeting — or when
// replyIndex does not name a model turn.
func Extract(history []resume.ChatTurn, replyIndex int) (resume.PendingInsight, bool) {
	if replyIndex < 0 || replyIndex >= len(history) {
		return resume.PendingInsight{}, false
	}
	reply := history[replyIndex]
	if reply.Role != resume.RoleModel {
		return resume.PendingInsight{}, false
	}

	for i := replyIndex - 1; i >= 0; i-- {
		if history[i].Role == resume.RoleUser {
			return resume.PendingInsight{
				Question: history[i].Content,
				Answer:   reply.Content,
			}, true
		}
	}
	return resume.PendingInsight{}, false
}

// SaveInsight promotes the reply at replyIndex into a persisted insight.
// It is a silent no-op for the greeting and for already-saved replies.
// A failed save is logged but never surfaced: it must not interrupt the
// chat session.
func (s *Session) SaveInsight(ctx context.Context, replyIndex int) bool {
	s.mu.Lock()
	if s.saved[replyIndex] {
		s.mu.Unlock()
		return false
	}
	pending, ok := Extract(s.history, replyIndex)
	s.mu.Unlock()
	if !ok {
		return false
	}
	pending.Subject = s.subject

	saved, err := s.client.SaveInsight(ctx, pending)
	if err != nil {
		s.log.Warn("insight save failed", zap.Int("reply", replyIndex), zap.Error(err))
		return false
	}

	s.mu.Lock()
	s.saved[replyIndex] = true
	s.mu.Unlock()

	s.log.Info("insight saved", zap.String("id", saved.ID))
	return true
}
