package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

// ConversationRepository is an in-memory implementation of repositories.ConversationRepository.
// Used when no MongoDB URI is configured and in tests.
type ConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*entities.Conversation
}

var _ repositories.ConversationRepository = (*ConversationRepository)(nil)

// NewConversationRepository creates an empty store
func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		conversations: make(map[string]*entities.Conversation),
	}
}

func (m *ConversationRepository) Create(ctx context.Context, conversation *entities.Conversation) error {
	if conversation == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := conversation.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conversation.ID]; exists {
		return errors.New("conversation already exists")
	}
	m.conversations[conversation.ID] = clone(conversation)
	return nil
}

func (m *ConversationRepository) GetByID(ctx context.Context, id string) (*entities.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conversation, exists := m.conversations[id]
	if !exists {
		return nil, repositories.ErrConversationNotFound
	}
	// Return a copy to prevent external modifications
	return clone(conversation), nil
}

func (m *ConversationRepository) ListByParticipant(ctx context.Context, participantID string, limit int) ([]*entities.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*entities.Conversation, 0)
	for _, c := range m.conversations {
		if !c.HasParticipant(participantID) {
			continue
		}
		summary := clone(c)
		summary.Messages = nil
		result = append(result, summary)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActiveAt.After(result[j].LastActiveAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *ConversationRepository) Update(ctx context.Context, conversation *entities.Conversation) error {
	if err := conversation.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.conversations[conversation.ID]
	if !exists {
		return repositories.ErrConversationNotFound
	}

	updated := clone(conversation)
	updated.Messages = stored.Messages
	updated.LastMessageAt = stored.LastMessageAt
	m.conversations[conversation.ID] = updated
	return nil
}

func (m *ConversationRepository) AppendMessages(ctx context.Context, conversationID string, messages ...entities.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.conversations[conversationID]
	if !exists {
		return repositories.ErrConversationNotFound
	}
	for _, msg := range messages {
		stored.AddMessage(msg)
	}
	return nil
}

func (m *ConversationRepository) RemoveMessage(ctx context.Context, conversationID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.conversations[conversationID]
	if !exists {
		return repositories.ErrConversationNotFound
	}
	stored.RemoveMessage(messageID)
	return nil
}

func (m *ConversationRepository) ClearMessages(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.conversations[conversationID]
	if !exists {
		return repositories.ErrConversationNotFound
	}
	stored.Clear()
	return nil
}

func (m *ConversationRepository) ExpireIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, c := range m.conversations {
		if c.Status == entities.ConversationStatusActive && c.LastSpokenAt().Before(cutoff) {
			c.Expire()
			count++
		}
	}
	return count, nil
}

func clone(c *entities.Conversation) *entities.Conversation {
	out := *c
	out.Participants = append([]entities.Participant(nil), c.Participants...)
	out.Messages = append(make([]entities.Message, 0, len(c.Messages)), c.Messages...)
	if c.LastMessageAt != nil {
		ts := *c.LastMessageAt
		out.LastMessageAt = &ts
	}
	if c.PurgeAt != nil {
		ts := *c.PurgeAt
		out.PurgeAt = &ts
	}
	return &out
}
