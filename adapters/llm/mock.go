package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

// MockLLM answers with a canned acknowledgement. It is used when no model credentials are configured.
type MockLLM struct {
	logger *zap.Logger
}

func NewMockLLM(logger *zap.Logger) *MockLLM {
	return &MockLLM{logger: logger}
}

func (m *MockLLM) Name() string {
	return "mock"
}

func (m *MockLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage, opts repositories.ChatOptions) (repositories.ChatSession, error) {
	return &mockSession{history: append([]repositories.ChatMessage(nil), history...), logger: m.logger}, nil
}

type mockSession struct {
	history []repositories.ChatMessage
	logger  *zap.Logger
}

func (s *mockSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	text := strings.TrimSpace(message.Content)
	reply := repositories.ChatMessage{
		Role:    repositories.AssistantRole,
		Content: fmt.Sprintf("Thank you for your message. I have noted: %q", text),
		Model:   "mock",
	}
	s.history = append(s.history, message, reply)
	s.logger.Debug("Mock model replied", zap.Int("historyLength", len(s.history)))
	return reply, nil
}

func (s *mockSession) History() ([]repositories.ChatMessage, error) {
	return s.history, nil
}
