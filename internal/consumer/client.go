package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rekindle/internal/resume"
)

// RemoteError is a non-streaming error response from the relay.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("relay %d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to the relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the relay at baseURL. No timeout is set
// on the underlying http.Client: streams are open-ended and are bounded by
// the request context instead.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Stream is one open reply stream.
type Stream struct {
	body io.ReadCloser
	dec  *Decoder
}

// Next returns the next decoded event.
func (s *Stream) Next() (resume.StreamEvent, error) {
	return s.dec.Next()
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

type chatBody struct {
	ConversationID string            `json:"conversationId,omitempty"`
	SpaceID        string            `json:"spaceId,omitempty"`
	UserMessage    string            `json:"userMessage"`
	ChatHistory    []resume.ChatTurn `json:"chatHistory"`
}

// Chat opens a reply stream. A pre-stream failure comes back as
// *RemoteError; transport failures as plain errors.
func (c *Client) Chat(ctx context.Context, subject resume.SubjectRef, history []resume.ChatTurn, message string) (*Stream, error) {
	if history == nil {
		history = []resume.ChatTurn{}
	}
	payload, err := json.Marshal(chatBody{
		ConversationID: subject.ConversationID,
		SpaceID:        subject.SpaceID,
		UserMessage:    message,
		ChatHistory:    history,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeRemoteError(resp)
	}

	return &Stream{body: resp.Body, dec: NewDecoder(resp.Body)}, nil
}

type insightBody struct {
	ConversationID string `json:"conversationId,omitempty"`
	SpaceID        string `json:"spaceId,omitempty"`
	Question       string `json:"question"`
	Answer         string `json:"answer"`
}

// SavedInsight is the relay's acknowledgement of a persisted insight.
type SavedInsight struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// SaveInsight submits a pending insight to the persistence boundary.
func (c *Client) SaveInsight(ctx context.Context, p resume.PendingInsight) (*SavedInsight, error) {
	payload, err := json.Marshal(insightBody{
		ConversationID: p.Subject.ConversationID,
		SpaceID:        p.Subject.SpaceID,
		Question:       p.Question,
		Answer:         p.Answer,
	})
	if err != nil {
		return nil, fmt.Errorf("encode insight: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/insights", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create insight request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("insight request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, decodeRemoteError(resp)
	}

	var saved SavedInsight
	if err := json.NewDecoder(resp.Body).Decode(&saved); err != nil {
		return nil, fmt.Errorf("decode insight response: %w", err)
	}
	return &saved, nil
}

func decodeRemoteError(resp *http.Response) error {
	remote := &RemoteError{Status: resp.StatusCode, Code: "unknown", Message: resp.Status}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil && body.Error.Code != "" {
		remote.Code = body.Error.Code
		remote.Message = body.Error.Message
	}
	return remote
}
