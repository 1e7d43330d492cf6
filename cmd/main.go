package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/adapters/audio"
	"github.com/satriahrh/bridgetalk/server/internal/api"
	"github.com/satriahrh/bridgetalk/server/internal/auth"
	"github.com/satriahrh/bridgetalk/server/internal/config"
	"github.com/satriahrh/bridgetalk/server/internal/metrics"
	"github.com/satriahrh/bridgetalk/server/internal/pipeline"
	"github.com/satriahrh/bridgetalk/server/internal/websocket"
	"github.com/satriahrh/bridgetalk/server/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()

	// Initialize adapters
	stores, err := newStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer stores.close()

	providers := newProviders(ctx, cfg, logger)
	defer providers.close()
	if providers.fallback != nil {
		providers.fallback.OnFailure(m.ProviderFailed)
	}

	converter := audio.NewFFmpegConverter(cfg.Speech.FFmpegPath, logger)

	// Initialize usecase services
	conversations := usecase.NewConversationService(stores.conversations, stores.audio, logger)
	relay := usecase.NewRelayService(usecase.RelayDependencies{
		Conversations: stores.conversations,
		SpeechToText:  providers.stt,
		Translator:    providers.translator,
		LLM:           providers.llm,
		TextToSpeech:  providers.tts,
		Converter:     converter,
		AudioStore:    stores.audio,
	}, usecase.RelayOptions{
		HistoryTurns:    cfg.Relay.HistoryTurns,
		TurnTimeout:     cfg.Relay.TurnTimeout,
		GenerateTimeout: cfg.Relay.GenerateTimeout,
		Observers:       []pipeline.Observer{m.ObservePipeline},
	}, logger)

	// Initialize WebSocket hub; it also fans out REST-originated changes
	hub := websocket.NewHub(relay, conversations, websocket.HubOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        m,
	}, logger)
	relay.SetNotifier(hub)
	conversations.SetNotifier(hub)
	go hub.Run(ctx)

	cleanup := websocket.NewSessionCleanupService(conversations, cfg.Session.CleanupInterval, cfg.Session.IdleTimeout, m, logger)
	cleanup.Start()
	defer cleanup.Stop()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.AllowedOrigins}))
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	e.Use(m.Middleware())

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		Tokens:        auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		AccessCode:    cfg.Auth.AccessCode,
		Conversations: conversations,
		Relay:         relay,
		Hub:           hub,
		Converter:     converter,
		Providers:     providers.names(stores),
		LLMStates:     providers.llmStates(),
		Metrics:       m,
		HealthChecks:  stores.healthChecks(),
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	// Graceful shutdown
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", addr),
		zap.String("llm", providers.llmName))

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newLogger builds a JSON production logger or a console development logger
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
