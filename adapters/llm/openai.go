package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAIConfig configures any OpenAI-compatible chat completion endpoint. Setting
// BaseURL to the Hugging Face router lets Hugging Face hosted models serve replies.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float32
	TopP           float32
	MaxTokens      int
	TimeoutSeconds int
	SystemPrompt   string
}

// chatCompleter is the subset of *openai.Client used by chat sessions
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAILLM implements LargeLanguageModel for OpenAI-compatible APIs
type OpenAILLM struct {
	client chatCompleter
	config OpenAIConfig
	logger *zap.Logger
}

var _ repositories.LargeLanguageModel = (*OpenAILLM)(nil)

// NewOpenAILLM creates a chat completion client
func NewOpenAILLM(config OpenAIConfig, logger *zap.Logger) (*OpenAILLM, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}

	config = config.withDefaults()
	logger.Info("OpenAI-compatible model configured",
		zap.String("model", config.Model),
		zap.String("baseURL", clientConfig.BaseURL))

	return &OpenAILLM{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}, nil
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	if c.Model == "" {
		c.Model = defaultOpenAIModel
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.TopP == 0 {
		c.TopP = defaultTopP
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	return c
}

func (o *OpenAILLM) Name() string {
	return "openai"
}

func (o *OpenAILLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage, opts repositories.ChatOptions) (repositories.ChatSession, error) {
	model := o.config.Model
	if opts.Model != "" {
		model = opts.Model
	}

	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: o.config.SystemPrompt,
	}}
	for _, m := range history {
		messages = append(messages, toOpenAIMessage(m))
	}

	return &OpenAIChatSession{
		client:   o.client,
		config:   o.config,
		model:    model,
		messages: messages,
		logger:   o.logger,
	}, nil
}

// OpenAIChatSession keeps the running message list for one conversation turn sequence
type OpenAIChatSession struct {
	client   chatCompleter
	config   OpenAIConfig
	model    string
	messages []openai.ChatCompletionMessage
	logger   *zap.Logger
}

func (s *OpenAIChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.config.TimeoutSeconds)*time.Second)
	defer cancel()

	userMessage := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message.Content}
	request := openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    append(append([]openai.ChatCompletionMessage{}, s.messages...), userMessage),
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
		TopP:        s.config.TopP,
	}

	resp, err := s.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return repositories.ChatMessage{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return repositories.ChatMessage{}, errors.New("chat completion returned no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return repositories.ChatMessage{}, errors.New("chat completion returned an empty response")
	}

	s.messages = append(s.messages, userMessage, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: text,
	})

	s.logger.Info("Chat completion processed",
		zap.String("model", s.model),
		zap.Int("promptTokens", resp.Usage.PromptTokens),
		zap.Int("completionTokens", resp.Usage.CompletionTokens))

	return repositories.ChatMessage{Role: repositories.AssistantRole, Content: text, Model: s.model}, nil
}

func (s *OpenAIChatSession) History() ([]repositories.ChatMessage, error) {
	var out []repositories.ChatMessage
	for _, m := range s.messages {
		switch m.Role {
		case openai.ChatMessageRoleUser:
			out = append(out, repositories.ChatMessage{Role: repositories.UserRole, Content: m.Content})
		case openai.ChatMessageRoleAssistant:
			out = append(out, repositories.ChatMessage{Role: repositories.AssistantRole, Content: m.Content})
		}
	}
	return out, nil
}

func toOpenAIMessage(m repositories.ChatMessage) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	switch m.Role {
	case repositories.AssistantRole:
		role = openai.ChatMessageRoleAssistant
	case repositories.SystemRole:
		role = openai.ChatMessageRoleSystem
	}
	return openai.ChatCompletionMessage{Role: role, Content: m.Content}
}
