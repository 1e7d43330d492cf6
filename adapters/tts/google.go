package tts

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

// defaultChunkSize is the size of audio chunks handed to callers
const defaultChunkSize = 4096

// GoogleTTS implements TextToSpeech using Google Cloud Text-to-Speech, producing MP3
type GoogleTTS struct {
	client    *texttospeech.Client
	chunkSize int
	logger    *zap.Logger
}

var _ repositories.TextToSpeech = (*GoogleTTS)(nil)

// NewGoogleTTS creates a Google Cloud Text-to-Speech client
func NewGoogleTTS(ctx context.Context, logger *zap.Logger, opts ...option.ClientOption) (*GoogleTTS, error) {
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}
	return &GoogleTTS{client: client, chunkSize: defaultChunkSize, logger: logger}, nil
}

// Close releases the underlying gRPC connection
func (g *GoogleTTS) Close() error {
	return g.client.Close()
}

func (g *GoogleTTS) ContentType() string {
	return "audio/mpeg"
}

// ConvertTextToSpeech synthesizes text in one request and streams the result in chunks
func (g *GoogleTTS) ConvertTextToSpeech(ctx context.Context, text string, language string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	resp, err := g.client.SynthesizeSpeech(ctx, buildSynthesizeRequest(text, language))
	if err != nil {
		return nil, fmt.Errorf("synthesize speech failed: %w", err)
	}

	g.logger.Info("Synthesized speech",
		zap.String("language", language),
		zap.Int("chars", len(text)),
		zap.Int("audioBytes", len(resp.AudioContent)))

	return chunkAudio(ctx, resp.AudioContent, g.chunkSize), nil
}

func buildSynthesizeRequest(text, language string) *texttospeechpb.SynthesizeSpeechRequest {
	lang, err := entities.ParseLanguage(language)
	if err != nil {
		lang = entities.PivotLanguage
	}
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: lang.SpeechLanguage().Locale(),
			SsmlGender:   texttospeechpb.SsmlVoiceGender_NEUTRAL,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	}
}

// chunkAudio splits a finished buffer into a closed channel of chunks
func chunkAudio(ctx context.Context, audio []byte, chunkSize int) <-chan []byte {
	out := make(chan []byte, 10)
	go func() {
		defer close(out)
		for start := 0; start < len(audio); start += chunkSize {
			end := min(start+chunkSize, len(audio))
			select {
			case out <- audio[start:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
