package repositories

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned when audio contained nothing the recognizer could understand
var ErrNoSpeech = errors.New("no speech detected in audio")

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// TranscribeAudio converts audio data to text
	TranscribeAudio(ctx context.Context, audioData []byte, config AudioConfig) (Transcript, error)
	// InitTranscribeStreaming initializes a streaming transcription session
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
	// Channels is the interleaved channel count; zero means mono
	Channels int `json:"channels,omitempty"`
}

// Transcript is a recognition result
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type SpeechToTextStreaming interface {
	Stream(data []byte) error
	End() (Transcript, error)
}
