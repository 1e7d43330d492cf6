package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
	"github.com/satriahrh/bridgetalk/server/usecase"
)

var allowedAudioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".ogg": true,
}

// respondError maps domain errors to HTTP responses
func (h *handler) respondError(c echo.Context, err error) error {
	status, code, message := http.StatusInternalServerError, "internal_error", "Internal server error"
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		status, code, message = http.StatusNotFound, "conversation_not_found", "Conversation not found"
	case errors.Is(err, usecase.ErrMessageNotFound):
		status, code, message = http.StatusNotFound, "message_not_found", "Message not found"
	case errors.Is(err, repositories.ErrAudioNotFound):
		status, code, message = http.StatusNotFound, "audio_not_found", "No audio stored for this message"
	case errors.Is(err, usecase.ErrNotParticipant):
		status, code, message = http.StatusForbidden, "not_participant", "You are not a participant in this conversation"
	case errors.Is(err, usecase.ErrConversationClosed):
		status, code, message = http.StatusConflict, "conversation_closed", "Conversation is no longer active"
	case errors.Is(err, usecase.ErrNoInput):
		status, code, message = http.StatusBadRequest, "no_input", "No input provided."
	case errors.Is(err, usecase.ErrInvalidLanguage):
		status, code, message = http.StatusBadRequest, "invalid_language", "Unsupported language"
	case errors.Is(err, repositories.ErrNoSpeech):
		status, code, message = http.StatusUnprocessableEntity, "no_speech", usecase.WarningNoSpeech
	case errors.Is(err, repositories.ErrConverterUnavailable):
		status, code, message = http.StatusServiceUnavailable, "converter_unavailable", usecase.WarningConverter
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: code, Message: message})
}

func badRequest(c echo.Context, code, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: code, Message: message})
}

func (h *handler) issueToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind token request", zap.Error(err))
		return badRequest(c, "invalid_request", "Invalid request format")
	}

	if h.deps.AccessCode != "" && subtle.ConstantTimeCompare([]byte(req.AccessCode), []byte(h.deps.AccessCode)) != 1 {
		h.logger.Warn("Token request rejected: wrong access code", zap.String("role", req.Role))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid access code",
		})
	}

	p := entities.Participant{
		ID:   strings.TrimSpace(req.ParticipantID),
		Name: strings.TrimSpace(req.Name),
		Role: entities.ParticipantRole(strings.ToLower(strings.TrimSpace(req.Role))),
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return badRequest(c, "missing_fields", err.Error())
	}

	token, expiresAt, err := h.deps.Tokens.GenerateParticipantToken(p)
	if err != nil {
		h.logger.Error("Failed to generate participant token",
			zap.String("participantID", p.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.logger.Info("Participant authenticated",
		zap.String("participantID", p.ID),
		zap.String("role", string(p.Role)))

	return c.JSON(http.StatusOK, TokenResponse{
		Token:       token,
		ExpiresAt:   expiresAt,
		Participant: p,
	})
}

func (h *handler) info(c echo.Context) error {
	resp := InfoResponse{
		Service:     serviceName,
		Description: "Multilingual parent-teacher voice relay",
		ModelLoaded: h.deps.Relay.ModelLoaded(),
		Providers:   h.deps.Providers,
	}
	if h.deps.Converter != nil {
		resp.FFmpegAvailable = h.deps.Converter.Available()
	}
	if h.deps.LLMStates != nil {
		resp.LLMProviders = h.deps.LLMStates()
	}
	if h.deps.Hub != nil {
		resp.ConnectedClients = h.deps.Hub.ClientCount()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) languages(c echo.Context) error {
	out := make([]LanguageInfo, 0, len(entities.SupportedLanguages))
	for _, l := range entities.SupportedLanguages {
		out = append(out, LanguageInfo{Code: l, Name: l.DisplayName()})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handler) createConversation(c echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind conversation request", zap.Error(err))
		return badRequest(c, "invalid_request", "Invalid request format")
	}
	if rerr := normalizeLanguage(&req.Language); rerr != nil {
		return rerr.respond(c)
	}

	conv, err := h.deps.Conversations.Open(c.Request().Context(), participantFrom(c), usecase.OpenRequest{
		Title:      req.Title,
		Language:   req.Language,
		TTSEnabled: req.TTSEnabled,
		Model:      req.Model,
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, conv)
}

func (h *handler) listConversations(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	convs, err := h.deps.Conversations.List(c.Request().Context(), participantFrom(c).ID, limit)
	if err != nil {
		return h.respondError(c, err)
	}
	if convs == nil {
		convs = []*entities.Conversation{}
	}
	return c.JSON(http.StatusOK, convs)
}

func (h *handler) getConversation(c echo.Context) error {
	conv, err := h.deps.Conversations.Get(c.Request().Context(), c.Param("id"), participantFrom(c).ID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *handler) updateConversation(c echo.Context) error {
	var req UpdateConversationRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind settings request", zap.Error(err))
		return badRequest(c, "invalid_request", "Invalid request format")
	}
	if rerr := normalizeLanguage(req.Language); rerr != nil {
		return rerr.respond(c)
	}

	conv, err := h.deps.Conversations.UpdateSettings(c.Request().Context(), c.Param("id"), participantFrom(c).ID, usecase.SettingsUpdate{
		Title:      req.Title,
		Language:   req.Language,
		TTSEnabled: req.TTSEnabled,
		Model:      req.Model,
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *handler) joinConversation(c echo.Context) error {
	conv, err := h.deps.Conversations.Join(c.Request().Context(), c.Param("id"), participantFrom(c))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *handler) closeConversation(c echo.Context) error {
	if err := h.deps.Conversations.Close(c.Request().Context(), c.Param("id"), participantFrom(c).ID); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) clearMessages(c echo.Context) error {
	if err := h.deps.Conversations.Clear(c.Request().Context(), c.Param("id"), participantFrom(c).ID); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) sendMessage(c echo.Context) error {
	conversationID := c.Param("id")
	req := usecase.SendRequest{
		ConversationID: conversationID,
		Sender:         participantFrom(c),
	}

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var body SendMessageRequest
		if err := c.Bind(&body); err != nil {
			h.logger.Error("Failed to bind message request", zap.Error(err))
			return badRequest(c, "invalid_request", "Invalid request format")
		}
		if rerr := normalizeLanguage(body.Language); rerr != nil {
			return rerr.respond(c)
		}
		req.Text, req.Language, req.TTSEnabled, req.Model = body.Text, body.Language, body.TTS, body.Model
	} else if rerr := h.bindMultipartTurn(c, &req); rerr != nil {
		return rerr.respond(c)
	}

	result, err := h.deps.Relay.Send(c.Request().Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}

	resp := SendMessageResponse{
		UserMessage:      result.UserMessage,
		ReplyMessage:     result.ReplyMessage,
		Recognized:       result.Recognized,
		AudioContentType: result.AudioContentType,
		Warnings:         result.Warnings,
	}
	if result.ReplyMessage.AudioKey != "" {
		resp.AudioURL = fmt.Sprintf("/api/v1/conversations/%s/messages/%s/audio", conversationID, result.ReplyMessage.ID)
	} else {
		resp.Audio = result.Audio
	}
	return c.JSON(http.StatusOK, resp)
}

// requestError is a client error whose response is already decided
type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) Error() string { return e.message }

func (e *requestError) respond(c echo.Context) error {
	return c.JSON(e.status, ErrorResponse{Error: e.code, Message: e.message})
}

var (
	errMissingAudio     = &requestError{http.StatusBadRequest, "missing_audio", "An audio file is required"}
	errUnsupportedAudio = &requestError{http.StatusUnsupportedMediaType, "unsupported_audio", "Audio must be wav, mp3, m4a or ogg"}
	errBadLanguage      = &requestError{http.StatusBadRequest, "invalid_language", "Unsupported language"}
	errBadForm          = &requestError{http.StatusBadRequest, "invalid_request", "Invalid multipart form"}
)

// normalizeLanguage lower-cases a language bound from JSON in place, the way
// form values go through ParseLanguage. Empty values are left to the use case.
func normalizeLanguage(l *entities.Language) *requestError {
	if l == nil || *l == "" {
		return nil
	}
	parsed, err := entities.ParseLanguage(string(*l))
	if err != nil {
		return errBadLanguage
	}
	*l = parsed
	return nil
}

// bindMultipartTurn reads the optional audio file and form fields
func (h *handler) bindMultipartTurn(c echo.Context, req *usecase.SendRequest) *requestError {
	audio, rerr := h.readAudioFile(c, false)
	if rerr != nil {
		return rerr
	}
	req.Audio = audio
	req.Text = c.FormValue("text")
	req.Model = c.FormValue("model")

	if v := c.FormValue("language"); v != "" {
		lang, err := entities.ParseLanguage(v)
		if err != nil {
			return errBadLanguage
		}
		req.Language = &lang
	}
	if v := c.FormValue("tts"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return &requestError{http.StatusBadRequest, "invalid_request", "tts must be true or false"}
		}
		req.TTSEnabled = &enabled
	}
	return nil
}

// readAudioFile reads the "audio" form file; a missing file is only an error when required
func (h *handler) readAudioFile(c echo.Context, required bool) (*usecase.AudioInput, *requestError) {
	fh, err := c.FormFile("audio")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		if required {
			return nil, errMissingAudio
		}
		return nil, nil
	}
	if err != nil {
		h.logger.Warn("Bad audio upload", zap.Error(err))
		return nil, errBadForm
	}
	if !allowedAudioExtensions[strings.ToLower(filepath.Ext(fh.Filename))] {
		return nil, errUnsupportedAudio
	}

	f, err := fh.Open()
	if err != nil {
		h.logger.Warn("Failed to open audio upload", zap.Error(err))
		return nil, errBadForm
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.logger.Warn("Failed to read audio upload", zap.Error(err))
		return nil, errBadForm
	}
	return &usecase.AudioInput{Data: data, Filename: fh.Filename}, nil
}

func (h *handler) messageAudio(c echo.Context) error {
	rc, contentType, err := h.deps.Conversations.MessageAudio(c.Request().Context(), c.Param("id"), c.Param("messageID"), participantFrom(c).ID)
	if err != nil {
		return h.respondError(c, err)
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, contentType, rc)
}

func (h *handler) transcribe(c echo.Context) error {
	audio, rerr := h.readAudioFile(c, true)
	if rerr != nil {
		return rerr.respond(c)
	}

	lang, err := entities.ParseLanguage(c.FormValue("language"))
	if err != nil {
		return errBadLanguage.respond(c)
	}

	transcript, err := h.deps.Relay.Transcribe(c.Request().Context(), *audio, lang)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, TranscriptionResponse{
		Text:       transcript.Text,
		Confidence: transcript.Confidence,
		Language:   lang,
	})
}
