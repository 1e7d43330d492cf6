package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/adapters/llm"
	"github.com/satriahrh/bridgetalk/server/adapters/memory"
	"github.com/satriahrh/bridgetalk/server/adapters/mongo"
	"github.com/satriahrh/bridgetalk/server/adapters/storage"
	"github.com/satriahrh/bridgetalk/server/adapters/stt"
	"github.com/satriahrh/bridgetalk/server/adapters/translate"
	"github.com/satriahrh/bridgetalk/server/adapters/tts"
	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
	"github.com/satriahrh/bridgetalk/server/internal/api"
	"github.com/satriahrh/bridgetalk/server/internal/config"
)

type stores struct {
	conversations repositories.ConversationRepository
	audio         repositories.AudioStore
	storageName   string
	audioName     string
	mongo         *mongo.Client
	minio         *storage.MinIOAudioStore
	logger        *zap.Logger
}

// newStores picks MongoDB and MinIO when configured, in-memory stores otherwise
func newStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	s := &stores{logger: logger}

	if cfg.Mongo.URI != "" {
		client, err := mongo.NewClient(ctx, mongo.Config{
			URI:         cfg.Mongo.URI,
			Database:    cfg.Mongo.Database,
			MaxPoolSize: cfg.Mongo.MaxPoolSize,
		}, logger)
		if err != nil {
			return nil, err
		}
		repo, err := mongo.NewConversationRepository(ctx, client.Database, logger)
		if err != nil {
			client.Close(ctx)
			return nil, err
		}
		s.mongo, s.conversations, s.storageName = client, repo, "mongodb"
	} else {
		logger.Warn("MONGODB_URI not set, conversations are kept in memory")
		s.conversations, s.storageName = memory.NewConversationRepository(), "memory"
	}

	if cfg.Storage.Endpoint != "" {
		store, err := storage.NewMinIOAudioStore(ctx, storage.MinIOConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		}, logger)
		if err != nil {
			s.close()
			return nil, err
		}
		s.audio, s.minio, s.audioName = store, store, "minio"
	} else {
		s.audio, s.audioName = memory.NewAudioStore(), "memory"
	}
	return s, nil
}

// healthChecks pings the external stores in use
func (s *stores) healthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if s.mongo != nil {
		checks["mongodb"] = s.mongo.Healthy
	}
	if s.minio != nil {
		checks["minio"] = s.minio.Healthy
	}
	return checks
}

func (s *stores) close() {
	if s.mongo != nil {
		s.mongo.Close(context.Background())
	}
}

type providers struct {
	stt        repositories.SpeechToText
	translator repositories.Translator
	llm        repositories.LargeLanguageModel
	fallback   *llm.FallbackLLM
	tts        repositories.TextToSpeech

	sttName, translatorName, llmName, ttsName string

	closers []io.Closer
	logger  *zap.Logger
}

// newProviders builds each provider, falling back to the mock or passthrough
// adapter when a cloud client cannot be created
func newProviders(ctx context.Context, cfg *config.Config, logger *zap.Logger) *providers {
	p := &providers{logger: logger}
	p.buildSpeech(ctx, cfg)
	p.buildTranslator(ctx, cfg)
	p.buildLLM(ctx, cfg)
	p.buildTTS(ctx, cfg)
	return p
}

func (p *providers) buildSpeech(ctx context.Context, cfg *config.Config) {
	if cfg.Speech.Provider == config.ProviderGoogle {
		client, err := stt.NewGoogleSpeechToText(ctx, p.logger)
		if err == nil {
			p.stt, p.sttName = client, config.ProviderGoogle
			p.closers = append(p.closers, client)
			return
		}
		p.logger.Warn("Google Speech unavailable, using mock recognizer", zap.Error(err))
	}
	p.stt, p.sttName = stt.NewMockSpeechToText(p.logger), config.ProviderMock
}

func (p *providers) buildTranslator(ctx context.Context, cfg *config.Config) {
	if cfg.Translation.Provider == config.ProviderGoogle {
		client, err := translate.NewGoogleTranslator(ctx, cfg.Translation.APIKey, p.logger)
		if err == nil {
			p.translator, p.translatorName = client, config.ProviderGoogle
			p.closers = append(p.closers, client)
			return
		}
		p.logger.Warn("Google Translate unavailable, messages will not be translated", zap.Error(err))
	}
	p.translator, p.translatorName = translate.NewPassthroughTranslator(p.logger), config.ProviderNone
}

// buildLLM chains the primary provider with the configured fallbacks. With
// provider "none" no model is loaded and turns reply with a fixed notice.
func (p *providers) buildLLM(ctx context.Context, cfg *config.Config) {
	if cfg.LLM.Provider == config.ProviderNone {
		p.llmName = config.ProviderNone
		return
	}

	breaker := llm.BreakerConfig{MaxFailures: cfg.LLM.MaxFailures, ResetTimeout: cfg.LLM.ResetTimeout}
	var chain *llm.FallbackLLM
	for _, name := range append([]string{cfg.LLM.Provider}, cfg.LLM.Fallbacks...) {
		model, err := p.newModel(ctx, cfg, name)
		if err != nil {
			p.logger.Warn("Dialogue model unavailable", zap.String("provider", name), zap.Error(err))
			continue
		}
		if chain == nil {
			chain = llm.NewFallbackLLM(model, breaker, p.logger)
		} else {
			chain.AddFallback(model, breaker)
		}
	}

	if chain == nil {
		p.logger.Warn("No dialogue model could be loaded")
		p.llmName = config.ProviderNone
		return
	}
	p.llm, p.fallback, p.llmName = chain, chain, chain.Name()
}

func (p *providers) newModel(ctx context.Context, cfg *config.Config, name string) (repositories.LargeLanguageModel, error) {
	switch name {
	case config.ProviderGemini:
		return llm.NewGeminiLLM(ctx, llm.GeminiConfig{
			APIKey:       cfg.LLM.Gemini.APIKey,
			Model:        cfg.LLM.Gemini.Model,
			SystemPrompt: cfg.LLM.SystemPrompt,
		}, p.logger)
	case config.ProviderOpenAI:
		return llm.NewOpenAILLM(llm.OpenAIConfig{
			APIKey:       cfg.LLM.OpenAI.APIKey,
			BaseURL:      cfg.LLM.OpenAI.BaseURL,
			Model:        cfg.LLM.OpenAI.Model,
			SystemPrompt: cfg.LLM.SystemPrompt,
		}, p.logger)
	case config.ProviderMock:
		return llm.NewMockLLM(p.logger), nil
	default:
		return nil, fmt.Errorf("unknown dialogue model provider %q", name)
	}
}

func (p *providers) buildTTS(ctx context.Context, cfg *config.Config) {
	switch cfg.TTS.Provider {
	case config.ProviderNone:
		p.ttsName = config.ProviderNone
		return
	case config.ProviderGoogle:
		client, err := tts.NewGoogleTTS(ctx, p.logger)
		if err == nil {
			p.tts, p.ttsName = client, config.ProviderGoogle
			p.closers = append(p.closers, client)
			return
		}
		p.logger.Warn("Google TTS unavailable, using mock voice", zap.Error(err))
	case config.ProviderElevenLabs:
		client, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:       cfg.TTS.ElevenLabs.APIKey,
			VoiceID:      cfg.TTS.ElevenLabs.VoiceID,
			Voices:       languageVoices(cfg.TTS.ElevenLabs.Voices),
			ModelID:      cfg.TTS.ElevenLabs.ModelID,
			OutputFormat: cfg.TTS.ElevenLabs.OutputFormat,
		}, p.logger)
		if err == nil {
			p.tts, p.ttsName = client, config.ProviderElevenLabs
			return
		}
		p.logger.Warn("ElevenLabs unavailable, using mock voice", zap.Error(err))
	}
	p.tts, p.ttsName = tts.NewMockTextToSpeech(p.logger), config.ProviderMock
}

// languageVoices keeps the voice entries whose key is a supported language
func languageVoices(in map[string]string) map[entities.Language]string {
	out := make(map[entities.Language]string, len(in))
	for code, voice := range in {
		if lang, err := entities.ParseLanguage(code); err == nil {
			out[lang] = voice
		}
	}
	return out
}

func (p *providers) names(s *stores) api.Providers {
	return api.Providers{
		SpeechToText: p.sttName,
		Translation:  p.translatorName,
		LLM:          p.llmName,
		TextToSpeech: p.ttsName,
		Storage:      s.storageName,
		AudioStore:   s.audioName,
	}
}

func (p *providers) llmStates() func() map[string]string {
	if p.fallback == nil {
		return nil
	}
	return p.fallback.Providers
}

func (p *providers) close() {
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			p.logger.Warn("Failed to close provider client", zap.Error(err))
		}
	}
}
