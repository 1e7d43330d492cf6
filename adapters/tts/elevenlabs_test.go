package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

func TestNewElevenLabsTTS(t *testing.T) {
	logger := zaptest.NewLogger(t)

	if _, err := NewElevenLabsTTS(ElevenLabsConfig{}, logger); err == nil {
		t.Error("Expected error when API key is not set")
	}

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key"}, logger)
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}
	if tts.cfg.VoiceID != elevenLabsVoiceID {
		t.Errorf("Expected default voice ID '%s', got '%s'", elevenLabsVoiceID, tts.cfg.VoiceID)
	}
	if tts.cfg.ChunkSize != defaultChunkSize {
		t.Errorf("Expected default chunk size %d, got %d", defaultChunkSize, tts.cfg.ChunkSize)
	}
	if tts.ContentType() != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg for default format, got %s", tts.ContentType())
	}

	pcm, _ := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "k", OutputFormat: "pcm_16000"}, logger)
	if pcm.ContentType() != "audio/pcm" {
		t.Errorf("Expected audio/pcm, got %s", pcm.ContentType())
	}
}

func TestElevenLabsConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  ElevenLabsConfig
	}{
		{"stability out of range", ElevenLabsConfig{APIKey: "k", Stability: 1.5}},
		{"negative similarity", ElevenLabsConfig{APIKey: "k", Similarity: -0.1}},
		{"negative chunk size", ElevenLabsConfig{APIKey: "k", ChunkSize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_EmptyText(t *testing.T) {
	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	ctx := context.Background()
	if _, err = tts.ConvertTextToSpeech(ctx, "", "en"); err == nil {
		t.Error("Expected error for empty text")
	}
	if _, err = tts.ConvertTextToSpeech(ctx, "   ", "en"); err == nil {
		t.Error("Expected error for whitespace-only text")
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_Stream(t *testing.T) {
	audio := make([]byte, 10000)
	for i := range audio {
		audio[i] = byte(i)
	}

	var (
		received elevenLabsRequest
		path     string
		format   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "test-api-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		path, format = r.URL.Path, r.URL.Query().Get("output_format")
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(audio)
	}))
	defer server.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{
		APIKey:     "test-api-key",
		APIBaseURL: server.URL + "/",
		Voices:     map[entities.Language]string{entities.LanguageHindi: "voice-hindi"},
		ChunkSize:  1024,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := tts.ConvertTextToSpeech(ctx, "नमस्ते", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []byte
	chunks := 0
	for chunk := range ch {
		if len(chunk) > 1024 {
			t.Errorf("chunk of %d bytes exceeds configured size", len(chunk))
		}
		got = append(got, chunk...)
		chunks++
	}

	if len(got) != len(audio) {
		t.Errorf("Expected %d bytes, got %d", len(audio), len(got))
	}
	if chunks != 10 {
		t.Errorf("Expected 10 chunks, got %d", chunks)
	}
	if received.Text != "नमस्ते" {
		t.Errorf("Expected text to be forwarded, got %q", received.Text)
	}
	if received.LanguageCode != "hi" {
		t.Errorf("Expected language_code hi for flash v2.5 model, got %q", received.LanguageCode)
	}
	if path != "/text-to-speech/voice-hindi/stream" {
		t.Errorf("Expected the Hindi voice to be used, got path %s", path)
	}
	if format != elevenLabsOutputFormat {
		t.Errorf("Expected output_format %s, got %s", elevenLabsOutputFormat, format)
	}
}

func TestElevenLabsTTS_AutoSpeaksPivotWithDefaultVoice(t *testing.T) {
	var (
		received elevenLabsRequest
		path     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		path = r.URL.Path
		w.Write([]byte("mp3"))
	}))
	defer server.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{
		APIKey:     "k",
		APIBaseURL: server.URL,
		VoiceID:    "voice-default",
		Voices:     map[entities.Language]string{entities.LanguageHindi: "voice-hindi"},
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := tts.ConvertTextToSpeech(context.Background(), "Hello", "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := repositories.CollectAudio(context.Background(), ch)

	if string(got) != "mp3" {
		t.Errorf("unexpected audio %q", got)
	}
	if received.LanguageCode != "en" {
		t.Errorf("Expected auto to be spoken in English, got %q", received.LanguageCode)
	}
	if !strings.Contains(path, "voice-default") {
		t.Errorf("Expected default voice, got path %s", path)
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"detail":"quota exceeded"}`))
	}))
	defer server.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key", APIBaseURL: server.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	_, err = tts.ConvertTextToSpeech(context.Background(), "hello", "en")
	if err == nil {
		t.Fatal("Expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("Expected API detail in error, got %v", err)
	}
}

// Integration test - only runs if ELEVEN_LABS_API_KEY is set with real API key
func TestElevenLabsTTS_ConvertTextToSpeech_Integration(t *testing.T) {
	apiKey := os.Getenv("ELEVEN_LABS_API_KEY")
	if apiKey == "" || apiKey == "test-api-key" {
		t.Skip("Skipping integration test - set ELEVEN_LABS_API_KEY environment variable with real API key")
	}

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: apiKey}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ch, err := tts.ConvertTextToSpeech(ctx, "The school will be closed on Monday.", "en")
	if err != nil {
		t.Fatalf("Failed to convert text to speech: %v", err)
	}

	audio, _ := repositories.CollectAudio(ctx, ch)
	if len(audio) == 0 {
		t.Error("No audio data received")
	}
}
