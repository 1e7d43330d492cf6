package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

const conversationsCollection = "conversations"

// ConversationRepository implements repositories.ConversationRepository using MongoDB
type ConversationRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.ConversationRepository = (*ConversationRepository)(nil)

// NewConversationRepository creates the repository and ensures its indexes
func NewConversationRepository(ctx context.Context, db *mongo.Database, logger *zap.Logger) (*ConversationRepository, error) {
	repo := &ConversationRepository{
		collection: db.Collection(conversationsCollection),
		logger:     logger,
	}
	if err := repo.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *ConversationRepository) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants.id", Value: 1}, {Key: "last_active_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "last_message_at", Value: 1}}},
		// purge_at is only set on expired or closed conversations
		{
			Keys:    bson.D{{Key: "purge_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create conversation indexes: %w", err)
	}
	r.logger.Info("Conversation indexes created")
	return nil
}

// Create inserts a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conversation *entities.Conversation) error {
	if conversation == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := conversation.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, conversation); err != nil {
		r.logger.Error("Failed to create conversation", zap.Error(err), zap.String("conversationID", conversation.ID))
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	r.logger.Info("Conversation created",
		zap.String("conversationID", conversation.ID),
		zap.String("language", string(conversation.Language)))
	return nil
}

// GetByID retrieves a conversation with its messages
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*entities.Conversation, error) {
	var conversation entities.Conversation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&conversation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	if conversation.Messages == nil {
		conversation.Messages = make([]entities.Message, 0)
	}
	return &conversation, nil
}

// ListByParticipant returns the participant's conversations, most recently active first, without messages
func (r *ConversationRepository) ListByParticipant(ctx context.Context, participantID string, limit int) ([]*entities.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "last_active_at", Value: -1}}).
		SetProjection(bson.M{"messages": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"participants.id": participantID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	conversations := make([]*entities.Conversation, 0)
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return conversations, nil
}

// Update persists settings, participants and status
func (r *ConversationRepository) Update(ctx context.Context, conversation *entities.Conversation) error {
	if err := conversation.Validate(); err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"title":          conversation.Title,
			"language":       conversation.Language,
			"tts_enabled":    conversation.TTSEnabled,
			"model":          conversation.Model,
			"participants":   conversation.Participants,
			"last_active_at": conversation.LastActiveAt,
			"expires_at":     conversation.ExpiresAt,
			"purge_at":       conversation.PurgeAt,
			"status":         conversation.Status,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": conversation.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrConversationNotFound
	}

	r.logger.Debug("Conversation updated", zap.String("conversationID", conversation.ID))
	return nil
}

// AppendMessages pushes messages in order and refreshes activity timestamps
func (r *ConversationRepository) AppendMessages(ctx context.Context, conversationID string, messages ...entities.Message) error {
	if len(messages) == 0 {
		return nil
	}

	now := time.Now()
	update := bson.M{
		"$push": bson.M{"messages": bson.M{"$each": messages}},
		"$set": bson.M{
			"last_message_at": messages[len(messages)-1].Timestamp,
			"last_active_at":  now,
			"expires_at":      now.Add(entities.ConversationTTL),
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": conversationID}, update)
	if err != nil {
		r.logger.Error("Failed to append messages",
			zap.Error(err),
			zap.String("conversationID", conversationID))
		return fmt.Errorf("failed to append messages: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrConversationNotFound
	}

	r.logger.Debug("Messages appended",
		zap.String("conversationID", conversationID),
		zap.Int("count", len(messages)))
	return nil
}

// RemoveMessage pulls a single message by id
func (r *ConversationRepository) RemoveMessage(ctx context.Context, conversationID, messageID string) error {
	update := bson.M{"$pull": bson.M{"messages": bson.M{"id": messageID}}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": conversationID}, update)
	if err != nil {
		return fmt.Errorf("failed to remove message: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrConversationNotFound
	}
	return nil
}

// ClearMessages empties the message list
func (r *ConversationRepository) ClearMessages(ctx context.Context, conversationID string) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"messages":        bson.A{},
			"last_message_at": nil,
			"last_active_at":  now,
			"expires_at":      now.Add(entities.ConversationTTL),
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": conversationID}, update)
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrConversationNotFound
	}

	r.logger.Info("Conversation cleared", zap.String("conversationID", conversationID))
	return nil
}

// ExpireIdle marks active conversations whose last message (or creation, when
// nobody spoke) is older than cutoff as expired and schedules their purge
func (r *ConversationRepository) ExpireIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	update := bson.M{"$set": bson.M{
		"status":   entities.ConversationStatusExpired,
		"purge_at": time.Now().Add(entities.ConversationRetention),
	}}
	filter := idleFilter(cutoff)

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		r.logger.Error("Failed to expire conversations", zap.Error(err))
		return 0, fmt.Errorf("failed to expire conversations: %w", err)
	}

	if result.ModifiedCount > 0 {
		r.logger.Info("Expired idle conversations", zap.Int64("count", result.ModifiedCount))
	}
	return result.ModifiedCount, nil
}

func idleFilter(cutoff time.Time) bson.M {
	return bson.M{
		"status": entities.ConversationStatusActive,
		"$or": bson.A{
			bson.M{"last_message_at": bson.M{"$lt": cutoff}},
			bson.M{"last_message_at": nil, "created_at": bson.M{"$lt": cutoff}},
		},
	}
}
