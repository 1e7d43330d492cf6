package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ConversationStatus represents the status of a conversation
type ConversationStatus string

const (
	ConversationStatusActive  ConversationStatus = "active"
	ConversationStatusExpired ConversationStatus = "expired"
	ConversationStatusClosed  ConversationStatus = "closed"
)

// MessageRole represents the role of a message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// MessageSource tells how the message content was produced
type MessageSource string

const (
	MessageSourceVoice MessageSource = "voice"
	MessageSourceText  MessageSource = "text"
	MessageSourceModel MessageSource = "model"
)

// ConversationTTL is how long a conversation stays alive after its last activity
const ConversationTTL = 24 * time.Hour

// ConversationRetention is how long an expired or closed conversation is kept before it is purged
const ConversationRetention = 7 * 24 * time.Hour

// DefaultHistoryTurns caps how many messages are replayed to the dialogue model
const DefaultHistoryTurns = 20

// MessageMetadata contains additional metadata for a message
type MessageMetadata struct {
	TranscriptionConfidence *float64 `json:"transcription_confidence,omitempty" bson:"transcription_confidence,omitempty"`
	Model                   string   `json:"model,omitempty" bson:"model,omitempty"`
	// DetectedLanguage is the ISO 639-1 code detected on auto turns
	DetectedLanguage string `json:"detected_language,omitempty" bson:"detected_language,omitempty"`
	// Notice marks fixed replies shown when the model could not answer
	Notice   bool     `json:"notice,omitempty" bson:"notice,omitempty"`
	Warnings []string `json:"warnings,omitempty" bson:"warnings,omitempty"`
}

// Message represents a single turn within a conversation
type Message struct {
	ID         string          `json:"id" bson:"id"`
	Role       MessageRole     `json:"role" bson:"role"`
	SenderID   string          `json:"sender_id,omitempty" bson:"sender_id,omitempty"`
	SenderName string          `json:"sender_name,omitempty" bson:"sender_name,omitempty"`
	SenderRole ParticipantRole `json:"sender_role,omitempty" bson:"sender_role,omitempty"`
	// Content is the text as shown to participants, in the conversation language.
	Content string `json:"content" bson:"content"`
	// Pivot is the English text exchanged with the dialogue model.
	Pivot      string          `json:"pivot" bson:"pivot"`
	Language   Language        `json:"language" bson:"language"`
	Source     MessageSource   `json:"source" bson:"source"`
	AudioKey   string          `json:"audio_key,omitempty" bson:"audio_key,omitempty"`
	DurationMs int64           `json:"duration_ms" bson:"duration_ms"`
	Timestamp  time.Time       `json:"timestamp" bson:"timestamp"`
	Metadata   MessageMetadata `json:"metadata" bson:"metadata"`
}

// NewMessage creates a message with a fresh id and timestamp
func NewMessage(role MessageRole, content string, lang Language, source MessageSource) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Pivot:     content,
		Language:  lang,
		Source:    source,
		Timestamp: time.Now(),
	}
}

// Conversation represents a relay conversation between a parent and a teacher
type Conversation struct {
	ID            string             `json:"id" bson:"_id"`
	Title         string             `json:"title" bson:"title"`
	Language      Language           `json:"language" bson:"language"`
	TTSEnabled    bool               `json:"tts_enabled" bson:"tts_enabled"`
	Model         string             `json:"model,omitempty" bson:"model,omitempty"`
	Participants  []Participant      `json:"participants" bson:"participants"`
	Messages      []Message          `json:"messages" bson:"messages"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	LastActiveAt  time.Time          `json:"last_active_at" bson:"last_active_at"`
	LastMessageAt *time.Time         `json:"last_message_at" bson:"last_message_at"`
	ExpiresAt     time.Time          `json:"expires_at" bson:"expires_at"`
	// PurgeAt is set once the conversation stops being active
	PurgeAt *time.Time         `json:"purge_at,omitempty" bson:"purge_at,omitempty"`
	Status  ConversationStatus `json:"status" bson:"status"`
}

// NewConversation creates a new conversation opened by creator
func NewConversation(title string, lang Language, creator Participant) *Conversation {
	now := time.Now()
	if creator.JoinedAt.IsZero() {
		creator.JoinedAt = now
	}
	return &Conversation{
		ID:           uuid.New().String(),
		Title:        title,
		Language:     lang,
		TTSEnabled:   true,
		Participants: []Participant{creator},
		Messages:     make([]Message, 0),
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(ConversationTTL),
		Status:       ConversationStatusActive,
	}
}

// AddMessage appends a message to the conversation
func (c *Conversation) AddMessage(message Message) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	c.Messages = append(c.Messages, message)
	ts := message.Timestamp
	c.LastMessageAt = &ts
	c.UpdateLastActive()
}

// RemoveMessage drops the message with the given id. It reports whether anything was removed.
func (c *Conversation) RemoveMessage(id string) bool {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			return true
		}
	}
	return false
}

// FindMessage returns the message with the given id
func (c *Conversation) FindMessage(id string) (Message, bool) {
	for _, m := range c.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Clear removes every message but keeps the conversation open
func (c *Conversation) Clear() {
	c.Messages = make([]Message, 0)
	c.LastMessageAt = nil
	c.UpdateLastActive()
}

// UpdateLastActive updates the last active timestamp and extends expiration
func (c *Conversation) UpdateLastActive() {
	c.LastActiveAt = time.Now()
	c.ExpiresAt = c.LastActiveAt.Add(ConversationTTL)
}

// IsExpired checks if the conversation can no longer accept messages
func (c *Conversation) IsExpired() bool {
	return time.Now().After(c.ExpiresAt) || c.Status != ConversationStatusActive
}

// LastSpokenAt is the time of the last message, or creation when nobody spoke yet
func (c *Conversation) LastSpokenAt() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// IsIdle reports whether the last message is older than d. Joins and setting
// changes do not count.
func (c *Conversation) IsIdle(d time.Duration) bool {
	return time.Since(c.LastSpokenAt()) > d
}

// HasParticipant reports whether the participant joined this conversation
func (c *Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Join adds a participant. Joining twice is a no-op.
func (c *Conversation) Join(p Participant) {
	if c.HasParticipant(p.ID) {
		return
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	c.Participants = append(c.Participants, p)
	c.UpdateLastActive()
}

// Close marks the conversation as closed and schedules its purge
func (c *Conversation) Close() {
	c.Status = ConversationStatusClosed
	c.UpdateLastActive()
	c.schedulePurge()
}

// Expire marks the conversation as expired and schedules its purge
func (c *Conversation) Expire() {
	c.Status = ConversationStatusExpired
	c.schedulePurge()
}

func (c *Conversation) schedulePurge() {
	if c.PurgeAt == nil {
		at := time.Now().Add(ConversationRetention)
		c.PurgeAt = &at
	}
}

// History returns the last maxTurns messages used as dialogue model context.
// Notices are left out.
func (c *Conversation) History(maxTurns int) []Message {
	history := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if !m.Metadata.Notice {
			history = append(history, m)
		}
	}
	if maxTurns <= 0 || len(history) <= maxTurns {
		return history
	}
	return history[len(history)-maxTurns:]
}

// Validate validates the conversation data
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if !c.Language.IsValid() {
		return errors.New("invalid conversation language")
	}
	if c.Status != ConversationStatusActive && c.Status != ConversationStatusExpired && c.Status != ConversationStatusClosed {
		return errors.New("invalid conversation status")
	}
	return nil
}
