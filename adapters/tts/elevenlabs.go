package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

const (
	elevenLabsBaseURL       = "https://api.elevenlabs.io/v1"
	elevenLabsVoiceID       = "21m00Tcm4TlvDq8ikWAM" // Rachel voice
	elevenLabsOutputFormat  = "mp3_44100_128"
	elevenLabsModelID       = "eleven_flash_v2_5"
	elevenLabsStability     = 0.5
	elevenLabsSimilarity    = 0.75
	elevenLabsErrorBodySize = 4096
)

// ElevenLabsConfig configures the ElevenLabs adapter. Only APIKey is required.
type ElevenLabsConfig struct {
	APIKey     string
	APIBaseURL string
	// VoiceID is used for any language without an entry in Voices
	VoiceID      string
	Voices       map[entities.Language]string
	ModelID      string
	OutputFormat string
	ChunkSize    int
	Stability    float64
	Similarity   float64
}

// Validate checks the ranges ElevenLabs accepts
func (c ElevenLabsConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}
	if c.Stability < 0 || c.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", c.Stability)
	}
	if c.Similarity < 0 || c.Similarity > 1 {
		return fmt.Errorf("similarity must be between 0 and 1, got %f", c.Similarity)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	return nil
}

func (c ElevenLabsConfig) withDefaults() ElevenLabsConfig {
	if c.APIBaseURL == "" {
		c.APIBaseURL = elevenLabsBaseURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.VoiceID == "" {
		c.VoiceID = elevenLabsVoiceID
	}
	if c.ModelID == "" {
		c.ModelID = elevenLabsModelID
	}
	if c.OutputFormat == "" {
		c.OutputFormat = elevenLabsOutputFormat
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.Stability == 0 {
		c.Stability = elevenLabsStability
	}
	if c.Similarity == 0 {
		c.Similarity = elevenLabsSimilarity
	}
	return c
}

// ElevenLabsTTS streams speech from the ElevenLabs text-to-speech API
type ElevenLabsTTS struct {
	cfg        ElevenLabsConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

type elevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	LanguageCode           string                  `json:"language_code,omitempty"`
	VoiceSettings          elevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

// NewElevenLabsTTS creates an ElevenLabs adapter
func NewElevenLabsTTS(cfg ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	logger.Info("ElevenLabs voice configured",
		zap.String("defaultVoice", cfg.VoiceID),
		zap.Int("languageVoices", len(cfg.Voices)),
		zap.String("model", cfg.ModelID))

	return &ElevenLabsTTS{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}, nil
}

// ContentType returns the MIME type matching the configured output format
func (e *ElevenLabsTTS) ContentType() string {
	switch {
	case strings.HasPrefix(e.cfg.OutputFormat, "pcm"):
		return "audio/pcm"
	case strings.HasPrefix(e.cfg.OutputFormat, "ulaw"):
		return "audio/basic"
	default:
		return "audio/mpeg"
	}
}

// voiceFor picks the voice configured for a language, else the default voice
func (e *ElevenLabsTTS) voiceFor(lang entities.Language) string {
	if v, ok := e.cfg.Voices[lang]; ok && v != "" {
		return v
	}
	return e.cfg.VoiceID
}

// ConvertTextToSpeech issues the request before returning so API errors reach
// the caller; the response body is streamed on the channel.
func (e *ElevenLabsTTS) ConvertTextToSpeech(ctx context.Context, text string, language string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	lang, err := entities.ParseLanguage(language)
	if err != nil {
		lang = entities.PivotLanguage
	}
	lang = lang.SpeechLanguage()
	voice := e.voiceFor(lang)

	req, err := e.newRequest(ctx, text, lang, voice)
	if err != nil {
		return nil, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, elevenLabsErrorBodySize))
		return nil, fmt.Errorf("eleven labs API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	e.logger.Info("Streaming synthesized speech",
		zap.String("language", string(lang)),
		zap.String("voiceID", voice),
		zap.Int("chars", len(text)))

	out := make(chan []byte, 10)
	go e.stream(ctx, resp.Body, out)
	return out, nil
}

func (e *ElevenLabsTTS) newRequest(ctx context.Context, text string, lang entities.Language, voice string) (*http.Request, error) {
	payload := elevenLabsRequest{
		Text:                   text,
		ModelID:                e.cfg.ModelID,
		ApplyTextNormalization: "auto",
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       e.cfg.Stability,
			SimilarityBoost: e.cfg.Similarity,
			UseSpeakerBoost: true,
		},
	}
	// Only the v2.5 models accept an explicit language code
	if strings.Contains(e.cfg.ModelID, "v2_5") {
		payload.LanguageCode = string(lang)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s/stream?%s", e.cfg.APIBaseURL, url.PathEscape(voice), url.Values{
		"output_format":  {e.cfg.OutputFormat},
		"enable_logging": {"false"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", e.ContentType())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	return req, nil
}

// stream copies body into fixed-size chunks until EOF, a read error or cancellation
func (e *ElevenLabsTTS) stream(ctx context.Context, body io.ReadCloser, out chan<- []byte) {
	defer close(out)
	defer body.Close()

	buf := make([]byte, e.cfg.ChunkSize)
	var total, chunks int
	for {
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-ctx.Done():
				e.logger.Warn("Synthesis cancelled mid-stream", zap.Int("bytes", total))
				return
			}
			total += n
			chunks++
		}

		switch err {
		case nil:
			continue
		case io.EOF, io.ErrUnexpectedEOF:
			e.logger.Debug("Finished streaming speech", zap.Int("chunks", chunks), zap.Int("bytes", total))
		default:
			e.logger.Error("Error reading synthesized speech", zap.Error(err))
		}
		return
	}
}
