package websocket

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name    string
		message string
		wantErr bool
	}{
		{
			name:    "valid join",
			message: `{"type": "join", "conversation_id": "conv-1"}`,
		},
		{
			name:    "join without conversation",
			message: `{"type": "join"}`,
			wantErr: true,
		},
		{
			name:    "valid text message",
			message: `{"type": "text_message", "text": "hello", "language": "hi", "tts": false}`,
		},
		{
			name:    "empty text message",
			message: `{"type": "text_message"}`,
			wantErr: true,
		},
		{
			name:    "unsupported language",
			message: `{"type": "text_message", "text": "bonjour", "language": "fr"}`,
			wantErr: true,
		},
		{
			name:    "valid listening start",
			message: `{"type": "listening_start", "sample_rate": 48000, "encoding": "OGG_OPUS"}`,
		},
		{
			name:    "invalid sample rate",
			message: `{"type": "listening_start", "sample_rate": 100000}`,
			wantErr: true,
		},
		{
			name:    "invalid encoding",
			message: `{"type": "listening_start", "encoding": "wav"}`,
			wantErr: true,
		},
		{
			name:    "listening end",
			message: `{"type": "listening_end"}`,
		},
		{
			name:    "leave",
			message: `{"type": "leave"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageValidator_Defaults(t *testing.T) {
	validator := NewMessageValidator()

	msg, err := validator.ValidateMessage([]byte(`{"type": "listening_start", "language": "ta"}`))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}
	if msg.SampleRate != defaultSampleRate || msg.Encoding != defaultEncoding {
		t.Errorf("expected defaults, got %d %s", msg.SampleRate, msg.Encoding)
	}
	if msg.Language == nil || *msg.Language != entities.LanguageTamil {
		t.Errorf("expected ta, got %v", msg.Language)
	}
	if msg.Timestamp == "" {
		t.Error("expected timestamp to be filled")
	}
}

func TestMessageValidator_LanguageCaseInsensitive(t *testing.T) {
	msg, err := NewMessageValidator().ValidateMessage([]byte(`{"type": "text_message", "text": "namaste", "language": " HI "}`))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}
	if msg.Language == nil || *msg.Language != entities.LanguageHindi {
		t.Errorf("expected hi, got %v", msg.Language)
	}
}

func TestMessageValidator_ValidatePing(t *testing.T) {
	validator := NewMessageValidator()

	msg, err := validator.ValidateMessage([]byte(`{"type": "ping", "data": "test-ping"}`))
	if err != nil {
		t.Errorf("ValidateMessage() error = %v", err)
	}
	if msg.Data != "test-ping" {
		t.Errorf("Expected data 'test-ping', got '%s'", msg.Data)
	}
}

func TestMessageValidator_InvalidJSON(t *testing.T) {
	validator := NewMessageValidator()

	invalidMessages := []string{
		`{invalid json}`,
		`{"type": "join", "conversation_id":}`,
		``,
		`null`,
		`{"type": "unsupported_type"}`,
	}

	for i, msg := range invalidMessages {
		t.Run(fmt.Sprintf("invalid_%d", i), func(t *testing.T) {
			if _, err := validator.ValidateMessage([]byte(msg)); err == nil {
				t.Errorf("Expected error, got nil")
			}
		})
	}
}

func TestCreateErrorMessage(t *testing.T) {
	errorMsg := CreateErrorMessage(ErrorCodeNotJoined, "join first")

	if errorMsg.Type != MessageTypeError {
		t.Errorf("Expected type %s, got %s", MessageTypeError, errorMsg.Type)
	}
	if errorMsg.Code != ErrorCodeNotJoined || errorMsg.Message != "join first" {
		t.Errorf("unexpected error message %+v", errorMsg)
	}

	timestamp, err := time.Parse(time.RFC3339, errorMsg.Timestamp)
	if err != nil {
		t.Errorf("Invalid timestamp format: %v", err)
	}
	if time.Since(timestamp) > 2*time.Second {
		t.Errorf("Timestamp is not recent: %s", errorMsg.Timestamp)
	}

	data, _ := json.Marshal(errorMsg)
	var raw map[string]interface{}
	_ = json.Unmarshal(data, &raw)
	if raw["type"] != "error" || raw["error_code"] != ErrorCodeNotJoined {
		t.Errorf("unexpected wire format %s", data)
	}
}

func TestCreatePongMessage(t *testing.T) {
	pongMsg := CreatePongMessage("test-pong-data")

	if pongMsg.Type != MessageTypePong {
		t.Errorf("Expected type %s, got %s", MessageTypePong, pongMsg.Type)
	}
	if pongMsg.Data != "test-pong-data" {
		t.Errorf("Expected data test-pong-data, got %s", pongMsg.Data)
	}
}
