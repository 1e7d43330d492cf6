package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

// ErrAllProvidersFailed is returned when no provider produced a reply
var ErrAllProvidersFailed = errors.New("all dialogue model providers failed")

type fallbackEntry struct {
	provider repositories.LargeLanguageModel
	breaker  *gobreaker.CircuitBreaker
}

// FallbackLLM tries providers in registration order. Each provider sits behind
// its own circuit breaker so a failing primary is skipped until it recovers.
type FallbackLLM struct {
	entries   []fallbackEntry
	onFailure func(provider string)
	logger    *zap.Logger
}

var _ repositories.LargeLanguageModel = (*FallbackLLM)(nil)

// NewFallbackLLM wraps primary with an initially empty list of fallbacks
func NewFallbackLLM(primary repositories.LargeLanguageModel, cfg BreakerConfig, logger *zap.Logger) *FallbackLLM {
	f := &FallbackLLM{logger: logger}
	f.add(primary, cfg)
	return f
}

// AddFallback registers another provider tried after the ones already present
func (f *FallbackLLM) AddFallback(provider repositories.LargeLanguageModel, cfg BreakerConfig) {
	f.add(provider, cfg)
}

func (f *FallbackLLM) add(provider repositories.LargeLanguageModel, cfg BreakerConfig) {
	cfg.Name = provider.Name()
	f.entries = append(f.entries, fallbackEntry{
		provider: provider,
		breaker:  newBreaker(cfg, f.logger),
	})
}

// OnFailure registers a hook called with the provider name on every failed attempt
func (f *FallbackLLM) OnFailure(fn func(provider string)) {
	f.onFailure = fn
}

// Name joins provider names, e.g. "gemini>openai"
func (f *FallbackLLM) Name() string {
	names := make([]string, len(f.entries))
	for i, e := range f.entries {
		names[i] = e.provider.Name()
	}
	return strings.Join(names, ">")
}

// Providers returns provider names with their breaker state
func (f *FallbackLLM) Providers() map[string]string {
	out := make(map[string]string, len(f.entries))
	for _, e := range f.entries {
		out[e.provider.Name()] = e.breaker.State().String()
	}
	return out
}

func (f *FallbackLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage, opts repositories.ChatOptions) (repositories.ChatSession, error) {
	return &fallbackSession{
		parent:  f,
		history: append([]repositories.ChatMessage(nil), history...),
		opts:    opts,
	}, nil
}

type fallbackSession struct {
	parent  *FallbackLLM
	history []repositories.ChatMessage
	opts    repositories.ChatOptions
}

func (s *fallbackSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	var errs []error
	for i, e := range s.parent.entries {
		opts := s.opts
		if i > 0 {
			// model overrides name a primary model and mean nothing to fallbacks
			opts.Model = ""
		}
		reply, err := callThrough(e.breaker, func() (repositories.ChatMessage, error) {
			session, err := e.provider.GenerateChat(ctx, s.history, opts)
			if err != nil {
				return repositories.ChatMessage{}, err
			}
			return session.SendMessage(ctx, message)
		})
		if err == nil {
			s.history = append(s.history, message, reply)
			return reply, nil
		}
		if ctx.Err() != nil {
			return repositories.ChatMessage{}, ctx.Err()
		}

		if s.parent.onFailure != nil {
			s.parent.onFailure(e.provider.Name())
		}
		s.parent.logger.Warn("Dialogue model provider failed, trying next",
			zap.String("provider", e.provider.Name()),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", e.provider.Name(), err))
	}
	return repositories.ChatMessage{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

func (s *fallbackSession) History() ([]repositories.ChatMessage, error) {
	return append([]repositories.ChatMessage(nil), s.history...), nil
}
