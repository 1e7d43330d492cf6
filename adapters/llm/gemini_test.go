package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

type fakeGenerator struct {
	replies []string
	errs    []error
	calls   int
	lastLen int
	model   string
	config  *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	i := f.calls
	f.calls++
	f.lastLen = len(contents)
	f.model = model
	f.config = config
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	text := ""
	if i < len(f.replies) {
		text = f.replies[i]
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}, nil
}

func newTestSession(t *testing.T, gen *fakeGenerator, history []repositories.ChatMessage, model string) *GeminiChatSession {
	session := NewGeminiChatSession(gen, GeminiConfig{APIKey: "k"}, repositories.ChatOptions{Model: model}, zaptest.NewLogger(t), history)
	session.retryBackoff = 0
	return session
}

func TestGeminiSendMessage(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"  The meeting is on Friday.  "}}
	history := []repositories.ChatMessage{
		{Role: repositories.UserRole, Content: "Hello"},
		{Role: repositories.AssistantRole, Content: "Hi, how can I help?"},
	}
	session := newTestSession(t, gen, history, "")

	reply, err := session.SendMessage(context.Background(), repositories.ChatMessage{Role: repositories.UserRole, Content: "When is the meeting?"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if reply.Content != "The meeting is on Friday." {
		t.Errorf("unexpected reply %q", reply.Content)
	}
	if reply.Role != repositories.AssistantRole || reply.Model != defaultGeminiModel {
		t.Errorf("unexpected reply metadata %+v", reply)
	}
	if gen.lastLen != 3 {
		t.Errorf("expected history plus new message (3 contents), got %d", gen.lastLen)
	}

	got, _ := session.History()
	if len(got) != 4 || got[3].Role != repositories.AssistantRole {
		t.Errorf("history not extended: %+v", got)
	}
}

func TestGeminiModelOverride(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"ok"}}
	session := newTestSession(t, gen, nil, "gemini-1.5-pro")

	if _, err := session.SendMessage(context.Background(), repositories.ChatMessage{Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if gen.model != "gemini-1.5-pro" {
		t.Errorf("expected override model, got %s", gen.model)
	}
}

func TestGeminiSystemMessagesJoinInstruction(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"ok"}}
	history := []repositories.ChatMessage{
		{Role: repositories.SystemRole, Content: "The class teacher is Ms. Rao."},
		{Role: repositories.UserRole, Content: "Hello"},
	}
	session := newTestSession(t, gen, history, "")

	if _, err := session.SendMessage(context.Background(), repositories.ChatMessage{Content: "Who teaches my son?"}); err != nil {
		t.Fatal(err)
	}
	if gen.lastLen != 2 {
		t.Errorf("system message must not be sent as a turn, got %d contents", gen.lastLen)
	}
	instruction := contentText(gen.config.SystemInstruction)
	if !strings.HasPrefix(instruction, DefaultSystemPrompt) || !strings.HasSuffix(instruction, "Ms. Rao.") {
		t.Errorf("unexpected system instruction %q", instruction)
	}
}

func TestGeminiRetriesThenSucceeds(t *testing.T) {
	gen := &fakeGenerator{
		errs:    []error{errors.New("unavailable"), nil},
		replies: []string{"", "Recovered"},
	}
	session := newTestSession(t, gen, nil, "")

	reply, err := session.SendMessage(context.Background(), repositories.ChatMessage{Content: "hi"})
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if reply.Content != "Recovered" || gen.calls != 2 {
		t.Errorf("unexpected reply %q after %d calls", reply.Content, gen.calls)
	}
}

func TestGeminiReturnsErrorAfterRetries(t *testing.T) {
	boom := errors.New("quota exceeded")
	gen := &fakeGenerator{errs: []error{boom, boom, boom}}
	session := newTestSession(t, gen, nil, "")

	_, err := session.SendMessage(context.Background(), repositories.ChatMessage{Content: "hi"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped quota error, got %v", err)
	}
	if gen.calls != maxGenerateAttempts {
		t.Errorf("expected %d attempts, got %d", maxGenerateAttempts, gen.calls)
	}
	if h, _ := session.History(); len(h) != 0 {
		t.Error("failed exchange must not be recorded")
	}
}

func TestGeminiEmptyReplyIsError(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"   "}}
	session := newTestSession(t, gen, nil, "")

	if _, err := session.SendMessage(context.Background(), repositories.ChatMessage{Content: "hi"}); err == nil {
		t.Error("expected error for empty reply")
	}
}

func TestValidateGeminiConfig(t *testing.T) {
	if err := ValidateGeminiConfig(GeminiConfig{}); err == nil {
		t.Error("missing API key should fail validation")
	}
	if err := ValidateGeminiConfig(GeminiConfig{APIKey: "k", Temperature: 3}); err == nil {
		t.Error("temperature above 2 should fail validation")
	}
	if err := ValidateGeminiConfig(GeminiConfig{APIKey: "k"}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}
