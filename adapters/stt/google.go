package stt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a Google Cloud Speech client. Credentials come from
// the environment (GOOGLE_APPLICATION_CREDENTIALS) unless opts say otherwise.
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger, opts ...option.ClientOption) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// Close releases the underlying gRPC connection
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

// TranscribeAudio converts a complete recording to text using synchronous recognition
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (repositories.Transcript, error) {
	if len(audioData) == 0 {
		return repositories.Transcript{}, fmt.Errorf("no audio data received")
	}

	recognitionConfig, err := buildRecognitionConfig(config)
	if err != nil {
		return repositories.Transcript{}, err
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	})
	if err != nil {
		return repositories.Transcript{}, fmt.Errorf("recognize request failed: %w", err)
	}

	transcript := joinResults(resp.Results)
	g.logger.Info("Recognition completed",
		zap.String("language", config.Language),
		zap.Int("audioSize", len(audioData)),
		zap.Int("results", len(resp.Results)))

	if strings.TrimSpace(transcript.Text) == "" {
		return repositories.Transcript{}, repositories.ErrNoSpeech
	}
	return transcript, nil
}

func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	recognitionConfig, err := buildRecognitionConfig(config)
	if err != nil {
		return nil, err
	}

	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	// Send initial configuration
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          recognitionConfig,
				InterimResults:  false,
				SingleUtterance: false,
			},
		},
	}); err != nil {
		stream.CloseSend()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &GoogleSpeechToTextStream{
		stream:    stream,
		ctx:       ctx,
		logger:    g.logger,
		resultCh:  make(chan repositories.Transcript, 1),
		errorCh:   make(chan error, 1),
		startOnce: sync.Once{},
	}
	return s, nil
}

type GoogleSpeechToTextStream struct {
	stream        speechpb.Speech_StreamingRecognizeClient
	ctx           context.Context
	logger        *zap.Logger
	audioReceived bool
	resultCh      chan repositories.Transcript
	errorCh       chan error
	startOnce     sync.Once
}

func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	g.startOnce.Do(func() {
		go g.receiveResults()
	})

	if len(data) == 0 {
		return nil
	}
	g.audioReceived = true

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (g *GoogleSpeechToTextStream) End() (repositories.Transcript, error) {
	if !g.audioReceived {
		g.stream.CloseSend()
		return repositories.Transcript{}, fmt.Errorf("no audio data received: %w", repositories.ErrNoSpeech)
	}

	// Close the send stream to signal end of audio
	if err := g.stream.CloseSend(); err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to close send stream: %w", err)
	}

	select {
	case <-g.ctx.Done():
		return repositories.Transcript{}, fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case err := <-g.errorCh:
		return repositories.Transcript{}, err
	case result := <-g.resultCh:
		if strings.TrimSpace(result.Text) == "" {
			return repositories.Transcript{}, repositories.ErrNoSpeech
		}
		return result, nil
	}
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	var final []*speechpb.StreamingRecognitionResult

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			g.resultCh <- joinStreamingResults(final)
			return
		}
		if err != nil {
			g.errorCh <- fmt.Errorf("failed to receive response: %w", err)
			return
		}

		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				final = append(final, result)
			}
		}
	}
}

func buildRecognitionConfig(config repositories.AudioConfig) (*speechpb.RecognitionConfig, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}
	language := config.Language
	if language == "" {
		language = "en-US"
	}
	rc := &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
	}
	if config.SampleRate > 0 {
		rc.SampleRateHertz = int32(config.SampleRate)
	}
	// only the first channel is recognized
	if config.Channels > 1 {
		rc.AudioChannelCount = int32(config.Channels)
	}
	return rc, nil
}

// joinResults concatenates the best alternative of every result. Long audio is
// split by the service into consecutive results.
func joinResults(results []*speechpb.SpeechRecognitionResult) repositories.Transcript {
	var parts []string
	var confidence float32
	for _, r := range results {
		if len(r.Alternatives) == 0 {
			continue
		}
		parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		confidence += r.Alternatives[0].Confidence
	}
	if len(parts) == 0 {
		return repositories.Transcript{}
	}
	return repositories.Transcript{
		Text:       strings.Join(parts, " "),
		Confidence: float64(confidence) / float64(len(parts)),
	}
}

func joinStreamingResults(results []*speechpb.StreamingRecognitionResult) repositories.Transcript {
	var parts []string
	var confidence float32
	for _, r := range results {
		parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		confidence += r.Alternatives[0].Confidence
	}
	if len(parts) == 0 {
		return repositories.Transcript{}
	}
	return repositories.Transcript{
		Text:       strings.Join(parts, " "),
		Confidence: float64(confidence) / float64(len(parts)),
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "LINEAR16", "PCM":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS", "OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
