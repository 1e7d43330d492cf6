package usecase

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

const defaultListLimit = 50

// ConversationService manages conversation lifecycle and settings
type ConversationService struct {
	conversations repositories.ConversationRepository
	audio         repositories.AudioStore
	notifier      Notifier
	logger        *zap.Logger
}

// NewConversationService creates a new conversation service. audio may be nil.
func NewConversationService(
	conversations repositories.ConversationRepository,
	audio repositories.AudioStore,
	logger *zap.Logger,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		audio:         audio,
		notifier:      nopNotifier{},
		logger:        logger,
	}
}

// SetNotifier replaces the notifier. Call during wiring, before serving.
func (s *ConversationService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// OpenRequest holds the initial conversation settings
type OpenRequest struct {
	Title      string
	Language   entities.Language
	TTSEnabled *bool
	Model      string
}

// SettingsUpdate changes only the non-nil fields
type SettingsUpdate struct {
	Title      *string
	Language   *entities.Language
	TTSEnabled *bool
	Model      *string
}

// Open creates a conversation with creator as its first participant
func (s *ConversationService) Open(ctx context.Context, creator entities.Participant, req OpenRequest) (*entities.Conversation, error) {
	if err := creator.Validate(); err != nil {
		return nil, err
	}
	if req.Language == "" {
		req.Language = entities.LanguageAuto
	}
	if !req.Language.IsValid() {
		return nil, ErrInvalidLanguage
	}

	conv := entities.NewConversation(strings.TrimSpace(req.Title), req.Language, creator)
	if req.TTSEnabled != nil {
		conv.TTSEnabled = *req.TTSEnabled
	}
	conv.Model = strings.TrimSpace(req.Model)

	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to open conversation: %w", err)
	}

	s.logger.Info("Conversation opened",
		zap.String("conversationID", conv.ID),
		zap.String("creatorID", creator.ID),
		zap.String("language", string(conv.Language)))
	return conv, nil
}

// Get returns a conversation the participant belongs to
func (s *ConversationService) Get(ctx context.Context, id, participantID string) (*entities.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(participantID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// List returns the participant's conversations, most recently active first
func (s *ConversationService) List(ctx context.Context, participantID string, limit int) ([]*entities.Conversation, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	return s.conversations.ListByParticipant(ctx, participantID, limit)
}

// Join adds the participant to an active conversation. Joining twice is a no-op.
func (s *ConversationService) Join(ctx context.Context, id string, p entities.Participant) (*entities.Conversation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.HasParticipant(p.ID) {
		return conv, nil
	}
	if conv.IsExpired() {
		return nil, ErrConversationClosed
	}

	conv.Join(p)
	if err := s.conversations.Update(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to join conversation: %w", err)
	}

	s.logger.Info("Participant joined",
		zap.String("conversationID", id),
		zap.String("participantID", p.ID),
		zap.String("role", string(p.Role)))
	return conv, nil
}

// Clear removes every message, keeping the conversation and its participants
func (s *ConversationService) Clear(ctx context.Context, id, participantID string) error {
	if _, err := s.Get(ctx, id, participantID); err != nil {
		return err
	}
	if err := s.conversations.ClearMessages(ctx, id); err != nil {
		return err
	}
	s.notifier.ConversationCleared(id)
	return nil
}

// UpdateSettings changes title, language, TTS or model
func (s *ConversationService) UpdateSettings(ctx context.Context, id, participantID string, upd SettingsUpdate) (*entities.Conversation, error) {
	conv, err := s.Get(ctx, id, participantID)
	if err != nil {
		return nil, err
	}
	if conv.IsExpired() {
		return nil, ErrConversationClosed
	}

	if upd.Title != nil {
		conv.Title = strings.TrimSpace(*upd.Title)
	}
	if upd.Language != nil {
		if !upd.Language.IsValid() {
			return nil, ErrInvalidLanguage
		}
		conv.Language = *upd.Language
	}
	if upd.TTSEnabled != nil {
		conv.TTSEnabled = *upd.TTSEnabled
	}
	if upd.Model != nil {
		conv.Model = strings.TrimSpace(*upd.Model)
	}
	conv.UpdateLastActive()

	if err := s.conversations.Update(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return conv, nil
}

// Close ends a conversation; it keeps its history but accepts no new turns
func (s *ConversationService) Close(ctx context.Context, id, participantID string) error {
	conv, err := s.Get(ctx, id, participantID)
	if err != nil {
		return err
	}
	conv.Close()
	if err := s.conversations.Update(ctx, conv); err != nil {
		return fmt.Errorf("failed to close conversation: %w", err)
	}
	s.logger.Info("Conversation closed", zap.String("conversationID", id))
	return nil
}

// MessageAudio opens the archived audio of a message
func (s *ConversationService) MessageAudio(ctx context.Context, id, messageID, participantID string) (io.ReadCloser, string, error) {
	conv, err := s.Get(ctx, id, participantID)
	if err != nil {
		return nil, "", err
	}
	msg, ok := conv.FindMessage(messageID)
	if !ok {
		return nil, "", ErrMessageNotFound
	}
	if msg.AudioKey == "" || s.audio == nil {
		return nil, "", repositories.ErrAudioNotFound
	}
	return s.audio.Get(ctx, msg.AudioKey)
}

// ExpireIdle expires active conversations idle for longer than idleTimeout
func (s *ConversationService) ExpireIdle(ctx context.Context, idleTimeout time.Duration) (int64, error) {
	return s.conversations.ExpireIdle(ctx, time.Now().Add(-idleTimeout))
}
