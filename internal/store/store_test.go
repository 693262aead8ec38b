package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{
		ID:    "c1",
		Title: "Quantum homework",
		Note:  "revisit the measurement chapter",
		Turns: []StoredTurn{
			{Role: "user", Content: "what is decoherence?"},
			{Role: "model", Content: "loss of phase information"},
		},
	}
	require.NoError(t, s.PutConversation(ctx, conv))

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, conv.Title, got.Title)
	assert.Equal(t, conv.Note, got.Note)
	assert.Equal(t, conv.Turns, got.Turns)
}

func TestConversationNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutConversation(ctx, &Conversation{ID: "c1", Title: "old"}))
	require.NoError(t, s.PutConversation(ctx, &Conversation{ID: "c1", Title: "new"}))

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
}

func TestCorruptTurnsIsIntegrityError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Simulate a document written by a buggy scraper: turns is an object,
	// not a sequence.
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, title, turns) VALUES ('bad', 't', '{"oops":1}')`)
	require.NoError(t, err)

	_, err = s.GetConversation(ctx, "bad")
	var integrity *IntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, "conversation", integrity.Doc)
	assert.Equal(t, "bad", integrity.ID)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestBatchGetSkipsMissingAndCorrupt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutConversation(ctx, &Conversation{
		ID: "a", Turns: []StoredTurn{{Role: "user", Content: "hi"}},
	}))
	require.NoError(t, s.PutConversation(ctx, &Conversation{
		ID: "b", Turns: []StoredTurn{{Role: "model", Content: "hello"}},
	}))
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, turns) VALUES ('corrupt', 'not json')`)
	require.NoError(t, err)

	got, err := s.GetConversations(ctx, []string{"a", "missing", "corrupt", "b"})
	require.NoError(t, err)

	assert.Len(t, got, 2)
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "b")
}

func TestBatchGetEmpty(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetConversations(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSpaceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sp := &Space{
		ID:              "s1",
		Title:           "Physics",
		Note:            "exam prep",
		ConversationIDs: []string{"c2", "c1", "c3"},
	}
	require.NoError(t, s.PutSpace(ctx, sp))

	got, err := s.GetSpace(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sp.ConversationIDs, got.ConversationIDs)

	_, err = s.GetSpace(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddInsight(t *testing.T) {
	s := newTestStore(t)

	ins, err := s.AddInsight(context.Background(), "c1", "", "why?", "because")
	require.NoError(t, err)

	assert.NotEmpty(t, ins.ID)
	assert.False(t, ins.CreatedAt.IsZero())
	assert.Equal(t, "c1", ins.ConversationID)
	assert.Empty(t, ins.SpaceID)

	// Second insight gets its own id.
	other, err := s.AddInsight(context.Background(), "c1", "", "how?", "like so")
	require.NoError(t, err)
	assert.NotEqual(t, ins.ID, other.ID)
}
