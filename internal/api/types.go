package api

import (
	"time"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
)

// TokenRequest represents the request payload for participant authentication
type TokenRequest struct {
	Name       string `json:"name"`
	Role       string `json:"role"`
	AccessCode string `json:"access_code"`
	// ParticipantID lets a returning participant keep their identity
	ParticipantID string `json:"participant_id,omitempty"`
}

// TokenResponse represents the response payload for participant authentication
type TokenResponse struct {
	Token       string               `json:"token"`
	ExpiresAt   time.Time            `json:"expires_at"`
	Participant entities.Participant `json:"participant"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// LanguageInfo describes a supported language
type LanguageInfo struct {
	Code entities.Language `json:"code"`
	Name string            `json:"name"`
}

// InfoResponse describes the running service
type InfoResponse struct {
	Service          string            `json:"service"`
	Description      string            `json:"description"`
	FFmpegAvailable  bool              `json:"ffmpeg_available"`
	ModelLoaded      bool              `json:"model_loaded"`
	Providers        Providers         `json:"providers"`
	LLMProviders     map[string]string `json:"llm_providers,omitempty"`
	ConnectedClients int               `json:"connected_clients"`
}

// CreateConversationRequest opens a conversation
type CreateConversationRequest struct {
	Title      string            `json:"title"`
	Language   entities.Language `json:"language"`
	TTSEnabled *bool             `json:"tts_enabled"`
	Model      string            `json:"model"`
}

// UpdateConversationRequest changes only the fields present
type UpdateConversationRequest struct {
	Title      *string            `json:"title"`
	Language   *entities.Language `json:"language"`
	TTSEnabled *bool              `json:"tts_enabled"`
	Model      *string            `json:"model"`
}

// SendMessageRequest is the JSON form of a turn; voice turns use multipart
type SendMessageRequest struct {
	Text     string             `json:"text"`
	Language *entities.Language `json:"language"`
	TTS      *bool              `json:"tts"`
	Model    string             `json:"model"`
}

// SendMessageResponse is the outcome of a turn
type SendMessageResponse struct {
	UserMessage  entities.Message `json:"user_message"`
	ReplyMessage entities.Message `json:"reply_message"`
	Recognized   string           `json:"recognized,omitempty"`
	// AudioURL points at the archived reply audio
	AudioURL string `json:"audio_url,omitempty"`
	// Audio carries the reply inline when it could not be archived
	Audio            []byte   `json:"audio,omitempty"`
	AudioContentType string   `json:"audio_content_type,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// TranscriptionResponse is the outcome of a transcription-only request
type TranscriptionResponse struct {
	Text       string            `json:"text"`
	Confidence float64           `json:"confidence"`
	Language   entities.Language `json:"language"`
}
