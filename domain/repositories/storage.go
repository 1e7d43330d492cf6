package repositories

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrAudioNotFound        = errors.New("audio not found")
)

// ConversationRepository defines data access methods for conversations
type ConversationRepository interface {
	Create(ctx context.Context, conversation *entities.Conversation) error
	GetByID(ctx context.Context, id string) (*entities.Conversation, error)
	ListByParticipant(ctx context.Context, participantID string, limit int) ([]*entities.Conversation, error)
	// Update persists settings, participants and status; messages are left untouched
	Update(ctx context.Context, conversation *entities.Conversation) error
	AppendMessages(ctx context.Context, conversationID string, messages ...entities.Message) error
	RemoveMessage(ctx context.Context, conversationID, messageID string) error
	ClearMessages(ctx context.Context, conversationID string) error
	// ExpireIdle marks active conversations idle since before cutoff as expired
	ExpireIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// AudioStore archives voice messages and synthesized replies
type AudioStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
}
