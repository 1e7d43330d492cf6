package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/adapters/llm"
	"github.com/satriahrh/bridgetalk/server/adapters/memory"
	"github.com/satriahrh/bridgetalk/server/adapters/stt"
	"github.com/satriahrh/bridgetalk/server/adapters/translate"
	"github.com/satriahrh/bridgetalk/server/adapters/tts"
	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/internal/metrics"
	"github.com/satriahrh/bridgetalk/server/usecase"
)

var (
	parent  = entities.Participant{ID: "parent-1", Name: "Asha", Role: entities.ParticipantRoleParent}
	teacher = entities.Participant{ID: "teacher-1", Name: "Mr. Rao", Role: entities.ParticipantRoleTeacher}
)

type testEnv struct {
	hub           *Hub
	conversations *usecase.ConversationService
	server        *httptest.Server
}

func setupTestHub(t *testing.T) *testEnv {
	t.Helper()
	// connection goroutines may log after the test returns
	logger := zap.NewNop()

	repo := memory.NewConversationRepository()
	audio := memory.NewAudioStore()
	conversations := usecase.NewConversationService(repo, audio, logger)
	relay := usecase.NewRelayService(usecase.RelayDependencies{
		Conversations: repo,
		SpeechToText:  stt.NewMockSpeechToText(logger),
		Translator:    translate.NewPassthroughTranslator(logger),
		LLM:           llm.NewMockLLM(logger),
		TextToSpeech:  tts.NewMockTextToSpeech(logger),
		AudioStore:    audio,
	}, usecase.RelayOptions{}, logger)

	hub := NewHub(relay, conversations, HubOptions{Metrics: metrics.NewMetrics()}, logger)
	relay.SetNotifier(hub)
	conversations.SetNotifier(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		p := entities.Participant{
			ID:   c.QueryParam("id"),
			Name: c.QueryParam("name"),
			Role: entities.ParticipantRole(c.QueryParam("role")),
		}
		return HandleWebSocketWithAuth(hub, c, p, logger)
	})
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return &testEnv{hub: hub, conversations: conversations, server: server}
}

func (env *testEnv) dial(t *testing.T, p entities.Participant) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?id=" + p.ID + "&name=" + p.Name + "&role=" + string(p.Role)
	wsURL = strings.ReplaceAll(wsURL, " ", "%20")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

// readUntil reads frames until a text message of the wanted type arrives,
// returning it and the number of binary frames seen on the way
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) (map[string]interface{}, int) {
	t.Helper()
	binary := 0
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if mt == websocket.BinaryMessage {
			binary++
			continue
		}
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid JSON %s: %v", data, err)
		}
		if MessageType(msg["type"].(string)) == want {
			return msg, binary
		}
	}
}

func TestHub_JoinAndTextMessageFanOut(t *testing.T) {
	env := setupTestHub(t)
	conv, err := env.conversations.Open(context.Background(), parent, usecase.OpenRequest{Language: entities.LanguageEnglish})
	if err != nil {
		t.Fatal(err)
	}

	parentConn := env.dial(t, parent)
	send(t, parentConn, map[string]any{"type": "join", "conversation_id": conv.ID})
	readUntil(t, parentConn, MessageTypeJoined)

	teacherConn := env.dial(t, teacher)
	send(t, teacherConn, map[string]any{"type": "join", "conversation_id": conv.ID})
	joined, _ := readUntil(t, teacherConn, MessageTypeJoined)
	if joined["conversation_id"] != conv.ID {
		t.Errorf("unexpected joined payload %v", joined)
	}
	if n := env.hub.Subscribers(conv.ID); n != 2 {
		t.Errorf("expected 2 subscribers, got %d", n)
	}

	send(t, parentConn, map[string]any{"type": "text_message", "text": "How is my son doing?"})

	first, _ := readUntil(t, teacherConn, MessageTypeMessage)
	second, _ := readUntil(t, teacherConn, MessageTypeMessage)
	if role := first["message"].(map[string]interface{})["role"]; role != "user" {
		t.Errorf("expected user message first, got %v", role)
	}
	reply := second["message"].(map[string]interface{})
	if reply["role"] != "assistant" || !strings.Contains(reply["content"].(string), "How is my son doing?") {
		t.Errorf("unexpected reply %v", reply)
	}

	start, _ := readUntil(t, parentConn, MessageTypeSpeakingStart)
	if start["content_type"] != "audio/wav" || start["message_id"] != reply["id"] {
		t.Errorf("unexpected speaking_start %v", start)
	}
	end, frames := readUntil(t, parentConn, MessageTypeSpeakingEnd)
	if frames == 0 || end["bytes"].(float64) <= 0 {
		t.Errorf("expected reply audio frames, got %d frames %v", frames, end)
	}
}

func TestHub_StreamingTurn(t *testing.T) {
	env := setupTestHub(t)
	conv, _ := env.conversations.Open(context.Background(), parent, usecase.OpenRequest{Language: entities.LanguageHindi})

	conn := env.dial(t, parent)
	send(t, conn, map[string]any{"type": "join", "conversation_id": conv.ID})
	readUntil(t, conn, MessageTypeJoined)

	send(t, conn, map[string]any{"type": "listening_start", "sample_rate": 16000})
	started, _ := readUntil(t, conn, MessageTypeListeningStart)
	if started["language"] != "hi" {
		t.Errorf("expected conversation language, got %v", started["language"])
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 2000)); err != nil {
		t.Fatal(err)
	}
	send(t, conn, map[string]any{"type": "listening_end"})

	transcript, _ := readUntil(t, conn, MessageTypeTranscript)
	if transcript["text"] != "When is the next parent teacher meeting?" {
		t.Errorf("unexpected transcript %v", transcript)
	}

	userMsg, _ := readUntil(t, conn, MessageTypeMessage)
	msg := userMsg["message"].(map[string]interface{})
	if msg["source"] != "voice" || msg["language"] != "hi" {
		t.Errorf("unexpected user message %v", msg)
	}
}

func TestHub_Errors(t *testing.T) {
	env := setupTestHub(t)
	conn := env.dial(t, parent)

	tests := []struct {
		name    string
		message map[string]any
		code    string
	}{
		{name: "text before join", message: map[string]any{"type": "text_message", "text": "hi"}, code: ErrorCodeNotJoined},
		{name: "end without start", message: map[string]any{"type": "listening_end"}, code: ErrorCodeNotListening},
		{name: "unknown conversation", message: map[string]any{"type": "join", "conversation_id": "missing"}, code: ErrorCodeNotFound},
		{name: "unknown type", message: map[string]any{"type": "dance"}, code: ErrorCodeInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.message)
			msg, _ := readUntil(t, conn, MessageTypeError)
			if msg["error_code"] != tt.code {
				t.Errorf("expected %s, got %v", tt.code, msg)
			}
		})
	}

	send(t, conn, map[string]any{"type": "ping", "data": "x"})
	pong, _ := readUntil(t, conn, MessageTypePong)
	if pong["data"] != "x" {
		t.Errorf("unexpected pong %v", pong)
	}
}

func TestHub_ClearedBroadcast(t *testing.T) {
	env := setupTestHub(t)
	conv, _ := env.conversations.Open(context.Background(), parent, usecase.OpenRequest{})

	conn := env.dial(t, parent)
	send(t, conn, map[string]any{"type": "join", "conversation_id": conv.ID})
	readUntil(t, conn, MessageTypeJoined)

	if err := env.conversations.Clear(context.Background(), conv.ID, parent.ID); err != nil {
		t.Fatal(err)
	}
	cleared, _ := readUntil(t, conn, MessageTypeCleared)
	if cleared["conversation_id"] != conv.ID {
		t.Errorf("unexpected cleared payload %v", cleared)
	}

	send(t, conn, map[string]any{"type": "leave"})
	readUntil(t, conn, MessageTypeLeft)
	if n := env.hub.Subscribers(conv.ID); n != 0 {
		t.Errorf("expected no subscribers after leave, got %d", n)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://school.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !check(req) {
		t.Error("requests without origin should pass")
	}
	req.Header.Set("Origin", "https://school.example")
	if !check(req) {
		t.Error("allowed origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Error("unknown origin accepted")
	}

	if !originChecker([]string{"*"})(req) {
		t.Error("wildcard should accept any origin")
	}
}

type fakeExpirer struct {
	n       int64
	err     error
	timeout time.Duration
}

func (f *fakeExpirer) ExpireIdle(ctx context.Context, idleTimeout time.Duration) (int64, error) {
	f.timeout = idleTimeout
	return f.n, f.err
}

func TestSessionCleanupService_RunOnce(t *testing.T) {
	m := metrics.NewMetrics()
	expirer := &fakeExpirer{n: 3}
	svc := NewSessionCleanupService(expirer, time.Minute, 10*time.Minute, m, zap.NewNop())

	if got := svc.RunOnce(); got != 3 {
		t.Errorf("expected 3 expired, got %d", got)
	}
	if expirer.timeout != 10*time.Minute {
		t.Errorf("unexpected idle timeout %s", expirer.timeout)
	}

	expirer.err = errors.New("db down")
	if got := svc.RunOnce(); got != 0 {
		t.Errorf("expected 0 on error, got %d", got)
	}

	svc.Start()
	svc.Stop()
	svc.Stop()
}
