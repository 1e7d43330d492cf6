package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

// MockSpeechToText is a placeholder implementation for speech recognition used
// when no cloud credentials are configured
type MockSpeechToText struct {
	logger *zap.Logger
}

// MockSpeechToTextStream is a mock implementation of streaming speech recognition
type MockSpeechToTextStream struct {
	logger     *zap.Logger
	totalBytes int
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) repositories.SpeechToText {
	return &MockSpeechToText{
		logger: logger,
	}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &MockSpeechToTextStream{logger: s.logger}, nil
}

// Stream implements mock streaming audio processing
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.totalBytes += len(data)
	return nil
}

// End returns the mock transcription result
func (m *MockSpeechToTextStream) End() (repositories.Transcript, error) {
	m.logger.Info("Ending mock transcription stream", zap.Int("totalBytes", m.totalBytes))

	if m.totalBytes == 0 {
		return repositories.Transcript{}, fmt.Errorf("no audio data received: %w", repositories.ErrNoSpeech)
	}
	return mockTranscript(m.totalBytes)
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (repositories.Transcript, error) {
	s.logger.Info("Processing mock speech-to-text",
		zap.Int("audioSize", len(audioData)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding))

	return mockTranscript(len(audioData))
}

// mockTranscript picks a canned sentence based on audio size
func mockTranscript(size int) (repositories.Transcript, error) {
	switch {
	case size > 10000:
		return repositories.Transcript{Text: "Hello, I would like to know how my child is doing in mathematics this term.", Confidence: 0.9}, nil
	case size > 1000:
		return repositories.Transcript{Text: "When is the next parent teacher meeting?", Confidence: 0.9}, nil
	case size > 0:
		return repositories.Transcript{Text: "Hello", Confidence: 0.9}, nil
	default:
		return repositories.Transcript{}, repositories.ErrNoSpeech
	}
}
