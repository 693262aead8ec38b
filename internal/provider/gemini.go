package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"rekindle/internal/resume"
)

// GeminiConfig holds the settings for the Gemini adapter.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini implements Streamer on the Google Gemini API. It is an explicitly
// constructed, injected dependency; nothing here is process-global.
type Gemini struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewGemini constructs the adapter. A missing API key does not fail
// construction: the adapter reports KindUnconfigured on first use, so a
// half-configured service still starts and surfaces a clear error per
// request.
func NewGemini(ctx context.Context, cfg GeminiConfig, log *zap.Logger) (*Gemini, error) {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gemini{model: cfg.Model, log: log.Named("provider")}

	if cfg.APIKey == "" {
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

// Close releases the adapter. The genai client holds no connection state
// that needs tearing down, but callers treat the adapter as a dependency
// with a lifecycle.
func (g *Gemini) Close() error {
	return nil
}

// StreamReply implements Streamer. Fragments are forwarded as the provider
// emits them; the sequence cannot be restarted.
func (g *Gemini) StreamReply(ctx context.Context, systemInstruction string, history []resume.ChatTurn, newMessage string) (<-chan string, <-chan error) {
	fragments := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(fragments)
		defer close(errs)

		if g.client == nil {
			errs <- &Error{Kind: KindUnconfigured, Message: "no provider API key configured; set GEMINI_API_KEY"}
			return
		}

		contents := buildContents(history, newMessage)
		cfg := &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{{Text: systemInstruction}},
			},
		}

		start := time.Now()
		g.log.Debug("opening provider stream",
			zap.String("model", g.model),
			zap.Int("history_turns", len(history)),
			zap.Int("system_len", len(systemInstruction)))

		count := 0
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				g.log.Warn("provider stream failed",
					zap.Duration("elapsed", time.Since(start)),
					zap.Int("fragments", count),
					zap.Error(err))
				errs <- Classify(err)
				return
			}

			frag := fragmentText(resp)
			if frag == "" {
				continue
			}
			select {
			case fragments <- frag:
				count++
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		g.log.Debug("provider stream completed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("fragments", count))
	}()

	return fragments, errs
}

// buildContents maps the chat history plus the new message into provider
// turns. The new message is always the final user turn.
func buildContents(history []resume.ChatTurn, newMessage string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		contents = append(contents, &genai.Content{
			Role:  providerRole(turn.Role),
			Parts: []*genai.Part{{Text: turn.Content}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: newMessage}},
	})
	return contents
}

// providerRole maps the closed role enumeration onto Gemini's two chat
// roles. System turns never reach here in normal operation (the system
// instruction travels separately); mapping them to user keeps the switch
// exhaustive.
func providerRole(r resume.Role) string {
	switch r {
	case resume.RoleModel:
		return genai.RoleModel
	case resume.RoleUser, resume.RoleSystem:
		return genai.RoleUser
	default:
		return genai.RoleUser
	}
}

// fragmentText extracts the visible text of one streamed chunk, skipping
// thought parts.
func fragmentText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		out += part.Text
	}
	return out
}
