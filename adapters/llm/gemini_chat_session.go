package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

const maxGenerateAttempts = 3

// GeminiChatSession keeps the turns exchanged with one Gemini model
type GeminiChatSession struct {
	models       contentGenerator
	model        string
	generation   *genai.GenerateContentConfig
	timeout      time.Duration
	history      []*genai.Content
	retryBackoff time.Duration
	logger       *zap.Logger
}

// NewGeminiChatSession creates a chat session seeded with history. System
// messages in history are appended to the system instruction.
func NewGeminiChatSession(models contentGenerator, config GeminiConfig, opts repositories.ChatOptions, logger *zap.Logger, history []repositories.ChatMessage) *GeminiChatSession {
	config = config.withDefaults()
	model := config.Model
	if opts.Model != "" {
		model = opts.Model
	}

	contents, system := toGeminiContents(history)
	instruction := config.SystemPrompt
	if len(system) > 0 {
		instruction = strings.Join(append([]string{instruction}, system...), "\n\n")
	}

	return &GeminiChatSession{
		models: models,
		model:  model,
		generation: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
			Temperature:       genai.Ptr(config.Temperature),
			TopP:              genai.Ptr(config.TopP),
			TopK:              genai.Ptr(config.TopK),
			MaxOutputTokens:   int32(config.MaxOutputTokens),
		},
		timeout:      time.Duration(config.TimeoutSeconds) * time.Second,
		history:      contents,
		retryBackoff: time.Second,
		logger:       logger,
	}
}

// SendMessage asks the model for a reply. The exchange is recorded in the
// session history only when a non-empty reply comes back.
func (s *GeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	prompt := genai.NewContentFromText(message.Content, genai.RoleUser)
	contents := append(append(make([]*genai.Content, 0, len(s.history)+1), s.history...), prompt)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.generate(ctx, contents)
	if err != nil {
		return repositories.ChatMessage{}, err
	}

	reply := extractText(response)
	if reply == "" {
		return repositories.ChatMessage{}, errors.New("gemini returned an empty response")
	}
	s.history = append(s.history, prompt, genai.NewContentFromText(reply, genai.RoleModel))

	s.logger.Debug("Gemini reply received",
		zap.String("model", s.model),
		zap.Int("replyChars", len(reply)),
		zap.Int("turns", len(s.history)/2))

	return repositories.ChatMessage{
		Role:    repositories.AssistantRole,
		Content: reply,
		Model:   s.model,
	}, nil
}

// generate calls the model up to maxGenerateAttempts times with a linear backoff
func (s *GeminiChatSession) generate(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		response, err := s.models.GenerateContent(ctx, s.model, contents, s.generation)
		if err == nil {
			return response, nil
		}
		lastErr = err

		s.logger.Warn("Gemini generation failed",
			zap.String("model", s.model),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == maxGenerateAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gemini generate cancelled: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * s.retryBackoff):
		}
	}
	return nil, fmt.Errorf("gemini generate failed after %d attempts: %w", maxGenerateAttempts, lastErr)
}

// History returns the recorded exchanges, oldest first
func (s *GeminiChatSession) History() ([]repositories.ChatMessage, error) {
	return fromGeminiContents(s.history), nil
}

func extractText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	return strings.TrimSpace(contentText(response.Candidates[0].Content))
}

func contentText(content *genai.Content) string {
	var sb strings.Builder
	for _, part := range content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// toGeminiContents splits history into chat contents and system instructions
func toGeminiContents(messages []repositories.ChatMessage) ([]*genai.Content, []string) {
	contents := make([]*genai.Content, 0, len(messages))
	var system []string
	for _, msg := range messages {
		switch msg.Role {
		case repositories.SystemRole:
			system = append(system, msg.Content)
		case repositories.AssistantRole:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents, system
}

func fromGeminiContents(contents []*genai.Content) []repositories.ChatMessage {
	messages := make([]repositories.ChatMessage, 0, len(contents))
	for _, content := range contents {
		text := contentText(content)
		if text == "" {
			continue
		}
		role := repositories.UserRole
		if content.Role == string(genai.RoleModel) {
			role = repositories.AssistantRole
		}
		messages = append(messages, repositories.ChatMessage{Role: role, Content: text})
	}
	return messages
}
