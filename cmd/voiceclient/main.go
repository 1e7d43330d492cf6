// Command voiceclient drives one spoken turn against a running server: it
// obtains a participant token, joins (or creates) a conversation, streams a
// WAV file over the WebSocket and saves the synthesized reply.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/internal/api"
	ws "github.com/satriahrh/bridgetalk/server/internal/websocket"
)

type options struct {
	server         string
	name           string
	role           string
	accessCode     string
	conversationID string
	language       string
	audioPath      string
	outputDir      string
	chunkSize      int
	chunkDelay     time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.server, "server", "localhost:8080", "server host:port")
	flag.StringVar(&o.name, "name", "Demo Parent", "participant display name")
	flag.StringVar(&o.role, "role", string(entities.ParticipantRoleParent), "participant role (parent or teacher)")
	flag.StringVar(&o.accessCode, "access-code", os.Getenv("ACCESS_CODE"), "shared access code")
	flag.StringVar(&o.conversationID, "conversation", "", "conversation to join; a new one is created when empty")
	flag.StringVar(&o.language, "language", string(entities.LanguageHindi), "spoken language")
	flag.StringVar(&o.audioPath, "audio", "sample_audio.wav", "16 kHz LINEAR16 WAV file to stream")
	flag.StringVar(&o.outputDir, "out", "audio_responses", "directory for reply audio")
	flag.IntVar(&o.chunkSize, "chunk", 1024, "bytes per binary frame")
	flag.DurationVar(&o.chunkDelay, "delay", 100*time.Millisecond, "pause between frames")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if err := run(o, logger); err != nil {
		logger.Fatal("Voice client failed", zap.Error(err))
	}
}

func run(o options, logger *zap.Logger) error {
	base := url.URL{Scheme: "http", Host: o.server}

	token, err := authenticate(base, o)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	logger.Info("Authenticated", zap.String("participantID", token.Participant.ID))

	if o.conversationID == "" {
		conv, err := createConversation(base, token.Token, entities.Language(o.language))
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		o.conversationID = conv.ID
		logger.Info("Created conversation", zap.String("conversationID", conv.ID))
	}

	audioData, err := os.ReadFile(o.audioPath)
	if err != nil {
		return fmt.Errorf("read audio file: %w", err)
	}

	u := url.URL{Scheme: "ws", Host: o.server, Path: "/ws"}
	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+token.Token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	turnDone := make(chan struct{}, 1)
	go readLoop(c, o.outputDir, logger, done, turnDone)

	if err := streamTurn(c, o, audioData, logger); err != nil {
		return err
	}

	select {
	case <-turnDone:
	case <-done:
		return nil
	case <-interrupt:
		logger.Info("Interrupted")
	case <-time.After(time.Minute):
		logger.Warn("Timed out waiting for the reply")
	}

	// Cleanly close the connection and wait briefly for the server to hang up
	err = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return fmt.Errorf("write close: %w", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return nil
}

func authenticate(base url.URL, o options) (*api.TokenResponse, error) {
	body, err := json.Marshal(api.TokenRequest{Name: o.name, Role: o.role, AccessCode: o.accessCode})
	if err != nil {
		return nil, err
	}
	base.Path = "/api/v1/auth/token"

	var out api.TokenResponse
	if err := postJSON(base.String(), "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func createConversation(base url.URL, token string, lang entities.Language) (*entities.Conversation, error) {
	body, err := json.Marshal(api.CreateConversationRequest{Title: "Voice client", Language: lang})
	if err != nil {
		return nil, err
	}
	base.Path = "/api/v1/conversations"

	var out entities.Conversation
	if err := postJSON(base.String(), token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func postJSON(target, token string, body []byte, out interface{}) error {
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s: %s", resp.Status, string(data))
	}
	return json.Unmarshal(data, out)
}

// streamTurn joins the conversation, then sends listening_start, the audio
// frames and listening_end
func streamTurn(c *websocket.Conn, o options, audioData []byte, logger *zap.Logger) error {
	lang := entities.Language(o.language)
	control := []ws.ClientMessage{
		{BaseMessage: ws.BaseMessage{Type: ws.MessageTypeJoin}, ConversationID: o.conversationID},
		{BaseMessage: ws.BaseMessage{Type: ws.MessageTypeListeningStart}, ConversationID: o.conversationID, Language: &lang},
	}
	for _, msg := range control {
		if err := c.WriteJSON(msg); err != nil {
			return fmt.Errorf("send %s: %w", msg.Type, err)
		}
	}

	// Give the server a moment to open the recognition stream
	time.Sleep(500 * time.Millisecond)

	start := time.Now()
	frames := 0
	for offset := 0; offset < len(audioData); offset += o.chunkSize {
		end := offset + o.chunkSize
		if end > len(audioData) {
			end = len(audioData)
		}
		if err := c.WriteMessage(websocket.BinaryMessage, audioData[offset:end]); err != nil {
			return fmt.Errorf("send audio frame %d: %w", frames, err)
		}
		frames++
		time.Sleep(o.chunkDelay)
	}
	logger.Info("Finished streaming audio",
		zap.Int("frames", frames),
		zap.Int("bytes", len(audioData)),
		zap.Duration("elapsed", time.Since(start)))

	end := ws.ClientMessage{BaseMessage: ws.BaseMessage{Type: ws.MessageTypeListeningEnd}}
	if err := c.WriteJSON(end); err != nil {
		return fmt.Errorf("send listening_end: %w", err)
	}
	return nil
}

// readLoop logs server events and writes reply audio between speaking_start
// and speaking_end to a file
func readLoop(c *websocket.Conn, outputDir string, logger *zap.Logger, done chan struct{}, turnDone chan<- struct{}) {
	defer close(done)

	var (
		audioFile  *os.File
		replyStart time.Time
		chunks     int
	)
	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			logger.Info("Connection closed", zap.Error(err))
			return
		}

		if messageType == websocket.BinaryMessage {
			chunks++
			if audioFile != nil {
				if _, err := audioFile.Write(data); err != nil {
					logger.Error("Failed to write reply audio", zap.Error(err))
				}
			}
			continue
		}

		var msg struct {
			ws.BaseMessage
			Text        string          `json:"text"`
			ContentType string          `json:"content_type"`
			Message     json.RawMessage `json:"message"`
			Code        string          `json:"error_code"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("Unreadable server message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case ws.MessageTypeTranscript:
			logger.Info("Recognized", zap.String("text", msg.Text))
		case ws.MessageTypeMessage:
			var m entities.Message
			if err := json.Unmarshal(msg.Message, &m); err != nil {
				logger.Warn("Unreadable chat message", zap.Error(err))
				continue
			}
			logger.Info("Message",
				zap.String("role", string(m.Role)),
				zap.String("language", string(m.Language)),
				zap.String("content", m.Content))
		case ws.MessageTypeSpeakingStart:
			replyStart, chunks = time.Now(), 0
			audioFile, err = createReplyFile(outputDir, msg.ContentType)
			if err != nil {
				logger.Error("Failed to create reply audio file", zap.Error(err))
			}
		case ws.MessageTypeSpeakingEnd:
			if audioFile != nil {
				logger.Info("Saved reply audio",
					zap.String("path", audioFile.Name()),
					zap.Int("frames", chunks),
					zap.Duration("elapsed", time.Since(replyStart)))
				audioFile.Close()
				audioFile = nil
			}
			signalDone(turnDone)
		case ws.MessageTypeError:
			logger.Warn("Server error", zap.String("code", msg.Code), zap.ByteString("message", msg.Message))
			signalDone(turnDone)
		default:
			logger.Debug("Server event", zap.String("type", string(msg.Type)))
		}
	}
}

func signalDone(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func createReplyFile(dir, contentType string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	ext := ".bin"
	switch contentType {
	case "audio/mpeg":
		ext = ".mp3"
	case "audio/wav", "audio/x-wav":
		ext = ".wav"
	case "audio/ogg":
		ext = ".ogg"
	}
	return os.Create(filepath.Join(dir, fmt.Sprintf("%d%s", time.Now().Unix(), ext)))
}
