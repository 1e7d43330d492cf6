package translate

import (
	"context"

	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

// PassthroughTranslator returns text unchanged. Used when no translation service is configured.
type PassthroughTranslator struct {
	logger *zap.Logger
}

var _ repositories.Translator = (*PassthroughTranslator)(nil)

func NewPassthroughTranslator(logger *zap.Logger) *PassthroughTranslator {
	return &PassthroughTranslator{logger: logger}
}

func (p *PassthroughTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	p.logger.Debug("Translation disabled, returning original text",
		zap.String("source", source),
		zap.String("target", target))
	return text, nil
}

// DetectLanguage reports no language; nothing can be detected without a service
func (p *PassthroughTranslator) DetectLanguage(ctx context.Context, text string) (string, error) {
	return "", nil
}
