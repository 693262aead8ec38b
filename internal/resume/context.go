package resume

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"rekindle/internal/store"
)

// ConversationSource is the slice of the persistence boundary the builder
// reads from. *store.LocalStore satisfies it; tests substitute fakes.
type ConversationSource interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversations(ctx context.Context, ids []string) (map[string]*store.Conversation, error)
	GetSpace(ctx context.Context, id string) (*store.Space, error)
}

// Builder assembles a ResumeContext from one conversation or from every
// surviving member of a space. Contexts are built fresh per request and
// never cached.
type Builder struct {
	src ConversationSource
	log *zap.Logger
}

// NewBuilder returns a context builder over the given source.
func NewBuilder(src ConversationSource, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{src: src, log: log.Named("context")}
}

// BuildContext resolves the subject and flattens it into a ResumeContext.
// Errors pass through from the store: store.ErrNotFound for a missing
// subject, *store.IntegrityError for a corrupt one.
func (b *Builder) BuildContext(ctx context.Context, subject SubjectRef) (*ResumeContext, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	if subject.ConversationID != "" {
		return b.buildFromConversation(ctx, subject.ConversationID)
	}
	return b.buildFromSpace(ctx, subject.SpaceID)
}

func (b *Builder) buildFromConversation(ctx context.Context, id string) (*ResumeContext, error) {
	conv, err := b.src.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	summary, err := flattenTurns(conv.Turns)
	if err != nil {
		// The row exists but cannot feed prompt construction.
		return nil, &store.IntegrityError{Doc: "conversation", ID: id, Err: err}
	}

	return &ResumeContext{
		Summary: summary,
		Title:   conv.Title,
		Note:    conv.Note,
	}, nil
}

func (b *Builder) buildFromSpace(ctx context.Context, id string) (*ResumeContext, error) {
	sp, err := b.src.GetSpace(ctx, id)
	if err != nil {
		return nil, err
	}

	members, err := b.src.GetConversations(ctx, sp.ConversationIDs)
	if err != nil {
		return nil, err
	}

	// Aggregation is lenient: a missing or malformed member must not abort
	// the whole space. Skips are logged so an operator can see that the
	// context was incomplete.
	var blocks []string
	for _, cid := range sp.ConversationIDs {
		conv, ok := members[cid]
		if !ok {
			b.log.Warn("skipping unavailable space member",
				zap.String("space", id), zap.String("conversation", cid))
			continue
		}
		flat, err := flattenTurns(conv.Turns)
		if err != nil {
			b.log.Warn("skipping malformed space member",
				zap.String("space", id), zap.String("conversation", cid), zap.Error(err))
			continue
		}
		blocks = append(blocks, fmt.Sprintf("### Conversation %d: %s\n%s",
			len(blocks)+1, conv.Title, flat))
	}

	return &ResumeContext{
		Summary: strings.Join(blocks, "\n\n---\n\n"),
		Title:   sp.Title,
		Note:    sp.Note,
	}, nil
}

// flattenTurns renders a stored turn list as "<Role>: <content>" paragraphs
// separated by blank lines. A role outside the closed enumeration means the
// document is corrupt.
func flattenTurns(turns []store.StoredTurn) (string, error) {
	lines := make([]string, 0, len(turns))
	for i, t := range turns {
		role, err := ParseRole(t.Role)
		if err != nil {
			return "", fmt.Errorf("turn %d: %w", i, err)
		}
		lines = append(lines, role.Display()+": "+t.Content)
	}
	return strings.Join(lines, "\n\n"), nil
}
