package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client to server message types
const (
	MessageTypeJoin           MessageType = "join"
	MessageTypeLeave          MessageType = "leave"
	MessageTypeTextMessage    MessageType = "text_message"
	MessageTypeListeningStart MessageType = "listening_start"
	MessageTypeListeningEnd   MessageType = "listening_end"
	MessageTypePing           MessageType = "ping"
)

// Server to client message types
const (
	MessageTypeJoined        MessageType = "joined"
	MessageTypeLeft          MessageType = "left"
	MessageTypeTranscript    MessageType = "transcript"
	MessageTypeMessage       MessageType = "message"
	MessageTypeCleared       MessageType = "cleared"
	MessageTypeSpeakingStart MessageType = "speaking_start"
	MessageTypeSpeakingEnd   MessageType = "speaking_end"
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"
)

// Error codes sent in error messages
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeNotJoined      = "not_joined"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeForbidden      = "forbidden"
	ErrorCodeClosed         = "conversation_closed"
	ErrorCodeNoInput        = "no_input"
	ErrorCodeNotListening   = "not_listening"
	ErrorCodeStreamFailed   = "stream_failed"
	ErrorCodeInternal       = "internal_error"
)

const (
	defaultSampleRate = 16000
	defaultEncoding   = "LINEAR16"
)

var validEncodings = map[string]bool{
	"LINEAR16": true, "OGG_OPUS": true, "WEBM_OPUS": true, "MP3": true, "FLAC": true, "MULAW": true,
}

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// ClientMessage is any control message sent by a participant. Fields that do
// not apply to a type are ignored.
type ClientMessage struct {
	BaseMessage
	ConversationID string             `json:"conversation_id,omitempty"`
	Text           string             `json:"text,omitempty"`
	Language       *entities.Language `json:"language,omitempty"`
	TTS            *bool              `json:"tts,omitempty"`
	Model          string             `json:"model,omitempty"`
	SampleRate     int                `json:"sample_rate,omitempty"`
	Encoding       string             `json:"encoding,omitempty"`
	Data           string             `json:"data,omitempty"`
}

// JoinedMessage confirms a subscription
type JoinedMessage struct {
	BaseMessage
	ConversationID string                 `json:"conversation_id"`
	Conversation   *entities.Conversation `json:"conversation,omitempty"`
}

// ListeningStartMessage acknowledges a streaming session
type ListeningStartMessage struct {
	BaseMessage
	ConversationID string            `json:"conversation_id"`
	Language       entities.Language `json:"language"`
	SampleRate     int               `json:"sample_rate"`
	Encoding       string            `json:"encoding"`
}

// TranscriptMessage carries what the recognizer heard
type TranscriptMessage struct {
	BaseMessage
	ConversationID string  `json:"conversation_id"`
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	DurationMs     int64   `json:"duration_ms"`
}

// ChatMessage fans a new conversation message out to subscribers
type ChatMessage struct {
	BaseMessage
	ConversationID string           `json:"conversation_id"`
	Message        entities.Message `json:"message"`
}

// ClearedMessage tells subscribers the history was wiped
type ClearedMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id"`
}

// SpeakingStartMessage precedes binary reply audio
type SpeakingStartMessage struct {
	BaseMessage
	ConversationID string   `json:"conversation_id"`
	MessageID      string   `json:"message_id"`
	ContentType    string   `json:"content_type"`
	Warnings       []string `json:"warnings,omitempty"`
}

// SpeakingEndMessage follows the last binary reply chunk
type SpeakingEndMessage struct {
	BaseMessage
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Bytes          int    `json:"bytes"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// MessageValidator parses and validates incoming control messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an incoming message and applies per type defaults
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().Format(time.RFC3339)
	}
	if msg.Language != nil {
		lang, err := entities.ParseLanguage(string(*msg.Language))
		if err != nil {
			return nil, err
		}
		msg.Language = &lang
	}

	switch msg.Type {
	case MessageTypeJoin:
		if msg.ConversationID == "" {
			return nil, fmt.Errorf("conversation_id is required")
		}
	case MessageTypeTextMessage:
		if msg.Text == "" {
			return nil, fmt.Errorf("text is required")
		}
	case MessageTypeListeningStart:
		if err := v.validateListeningStart(&msg); err != nil {
			return nil, err
		}
	case MessageTypeLeave, MessageTypeListeningEnd, MessageTypePing:
	default:
		return nil, fmt.Errorf("unsupported message type: %s", msg.Type)
	}
	return &msg, nil
}

func (v *MessageValidator) validateListeningStart(msg *ClientMessage) error {
	if msg.SampleRate == 0 {
		msg.SampleRate = defaultSampleRate
	}
	if msg.SampleRate < 8000 || msg.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000")
	}
	if msg.Encoding == "" {
		msg.Encoding = defaultEncoding
	}
	if !validEncodings[msg.Encoding] {
		return fmt.Errorf("unsupported encoding: %s", msg.Encoding)
	}
	return nil
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong),
		Data:        data,
	}
}
