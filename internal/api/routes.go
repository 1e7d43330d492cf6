package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
	"github.com/satriahrh/bridgetalk/server/internal/auth"
	"github.com/satriahrh/bridgetalk/server/internal/metrics"
	"github.com/satriahrh/bridgetalk/server/internal/websocket"
	"github.com/satriahrh/bridgetalk/server/usecase"
)

const serviceName = "bridgetalk-server"

// Providers names the adapter chosen for each concern
type Providers struct {
	SpeechToText string `json:"speech_to_text"`
	Translation  string `json:"translation"`
	LLM          string `json:"llm"`
	TextToSpeech string `json:"text_to_speech"`
	Storage      string `json:"storage"`
	AudioStore   string `json:"audio_store"`
}

// Dependencies are the services the HTTP layer exposes
type Dependencies struct {
	Tokens        *auth.TokenManager
	AccessCode    string
	Conversations *usecase.ConversationService
	Relay         *usecase.RelayService
	Hub           *websocket.Hub
	Converter     repositories.AudioConverter
	Providers     Providers
	// LLMStates reports circuit breaker state per dialogue model; may be nil
	LLMStates func() map[string]string
	// Metrics may be nil
	Metrics *metrics.Metrics
	// HealthChecks check backing stores by name for /health
	HealthChecks map[string]func(context.Context) error
}

type handler struct {
	deps   Dependencies
	logger *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	h := &handler{deps: deps, logger: logger}

	// Health check
	e.GET("/health", h.health)

	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/auth/token", h.issueToken)

	secured := v1.Group("", JWTMiddleware(deps.Tokens, logger))
	secured.GET("/info", h.info)
	secured.GET("/languages", h.languages)

	secured.POST("/conversations", h.createConversation)
	secured.GET("/conversations", h.listConversations)
	secured.GET("/conversations/:id", h.getConversation)
	secured.PATCH("/conversations/:id", h.updateConversation)
	secured.POST("/conversations/:id/join", h.joinConversation)
	secured.POST("/conversations/:id/close", h.closeConversation)
	secured.POST("/conversations/:id/messages", h.sendMessage)
	secured.DELETE("/conversations/:id/messages", h.clearMessages)
	secured.GET("/conversations/:id/messages/:messageID/audio", h.messageAudio)

	secured.POST("/transcriptions", h.transcribe)

	// WebSocket endpoint with JWT validation
	e.GET("/ws", h.serveWebSocket, JWTMiddleware(deps.Tokens, logger))
}

// health reports "degraded" with 503 when any backing store check fails
func (h *handler) health(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Service: serviceName}
	if len(h.deps.HealthChecks) == 0 {
		return c.JSON(http.StatusOK, resp)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.deps.HealthChecks))
	for name := range h.deps.HealthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp.Checks = make(map[string]string, len(names))
	status := http.StatusOK
	for _, name := range names {
		if err := h.deps.HealthChecks[name](ctx); err != nil {
			h.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = err.Error()
			resp.Status, status = "degraded", http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	return c.JSON(status, resp)
}

// serveWebSocket hands the authenticated participant over to the hub
func (h *handler) serveWebSocket(c echo.Context) error {
	p := participantFrom(c)
	h.logger.Info("WebSocket connection authenticated",
		zap.String("participantID", p.ID),
		zap.String("role", string(p.Role)))
	return websocket.HandleWebSocketWithAuth(h.deps.Hub, c, p, h.logger)
}
