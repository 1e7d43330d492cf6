package translate

import (
	"context"
	"fmt"
	"strings"

	gtranslate "cloud.google.com/go/translate"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"google.golang.org/api/option"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

// GoogleTranslator implements Translator using the Cloud Translation basic API
type GoogleTranslator struct {
	client *gtranslate.Client
	logger *zap.Logger
}

var _ repositories.Translator = (*GoogleTranslator)(nil)

// NewGoogleTranslator creates a translator authenticated with an API key. An empty
// key falls back to application default credentials.
func NewGoogleTranslator(ctx context.Context, apiKey string, logger *zap.Logger) (*GoogleTranslator, error) {
	var opts []option.ClientOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client, err := gtranslate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create translate client: %w", err)
	}
	return &GoogleTranslator{client: client, logger: logger}, nil
}

// Close releases the client
func (g *GoogleTranslator) Close() error {
	return g.client.Close()
}

// Translate converts text from source to target. Source "auto" lets the service detect it.
func (g *GoogleTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	targetTag, err := parseTag(target)
	if err != nil {
		return "", err
	}
	opts := &gtranslate.Options{Format: gtranslate.Text}
	if source != "" && source != "auto" {
		sourceTag, err := parseTag(source)
		if err != nil {
			return "", err
		}
		if sourceTag == targetTag {
			return text, nil
		}
		opts.Source = sourceTag
	}

	translations, err := g.client.Translate(ctx, []string{text}, targetTag, opts)
	if err != nil {
		return "", fmt.Errorf("translate %s->%s failed: %w", source, target, err)
	}
	if len(translations) == 0 {
		return "", fmt.Errorf("translate %s->%s returned no result", source, target)
	}

	g.logger.Debug("Translated text",
		zap.String("source", source),
		zap.String("target", target),
		zap.Int("chars", len(text)))

	return translations[0].Text, nil
}

// DetectLanguage returns the most confident language detected for text
func (g *GoogleTranslator) DetectLanguage(ctx context.Context, text string) (string, error) {
	detections, err := g.client.DetectLanguage(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("detect language failed: %w", err)
	}
	if len(detections) == 0 || len(detections[0]) == 0 {
		return "", fmt.Errorf("no language detected")
	}

	best := detections[0][0]
	for _, d := range detections[0][1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	base, _ := best.Language.Base()
	return base.String(), nil
}

func parseTag(code string) (language.Tag, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und, fmt.Errorf("invalid language code %q: %w", code, err)
	}
	return tag, nil
}
