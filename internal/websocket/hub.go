package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
	"github.com/satriahrh/bridgetalk/server/internal/metrics"
	"github.com/satriahrh/bridgetalk/server/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Size of binary frames carrying reply audio.
	audioFrameSize = 4096

	controlTimeout = 5 * time.Second
)

// HubOptions configure a hub
type HubOptions struct {
	// AllowedOrigins restricts browser origins; empty or "*" allows all
	AllowedOrigins []string
	// Metrics may be nil
	Metrics *metrics.Metrics
}

// Hub maintains the set of active clients and fans conversation updates out
// to the clients subscribed to each conversation.
type Hub struct {
	// Registered clients keyed by connection id.
	clients map[string]*Client

	// Subscribed clients keyed by conversation id, then connection id.
	rooms map[string]map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients and rooms
	mu sync.RWMutex

	relay         *usecase.RelayService
	conversations *usecase.ConversationService
	validator     *MessageValidator
	upgrader      websocket.Upgrader
	metrics       *metrics.Metrics

	logger *zap.Logger
}

var _ usecase.Notifier = (*Hub)(nil)

// NewHub creates a new WebSocket hub
func NewHub(
	relay *usecase.RelayService,
	conversations *usecase.ConversationService,
	opts HubOptions,
	logger *zap.Logger,
) *Hub {
	h := &Hub{
		clients:       make(map[string]*Client),
		rooms:         make(map[string]map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		done:          make(chan struct{}),
		relay:         relay,
		conversations: conversations,
		validator:     NewMessageValidator(),
		metrics:       opts.Metrics,
		logger:        logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     originChecker(opts.AllowedOrigins),
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// non-browser clients send no origin
		return len(set) == 0 || origin == "" || set[origin]
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.observeClients(1)
			h.logger.Info("Client registered",
				zap.String("connectionID", client.id),
				zap.String("participantID", client.participant.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				h.leaveRoomLocked(client)
				client.closeSend()
				h.observeClients(-1)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("connectionID", client.id))

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.closeSend()
				delete(h.clients, id)
				h.observeClients(-1)
			}
			h.rooms = make(map[string]map[string]*Client)
			h.mu.Unlock()
			h.logger.Info("Hub stopped")
			return
		}
	}
}

func (h *Hub) observeClients(delta float64) {
	if h.metrics != nil {
		h.metrics.ActiveClients.Add(delta)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of clients subscribed to a conversation
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// MessagesAdded fans new messages out to every subscriber of the conversation
func (h *Hub) MessagesAdded(conversationID string, messages ...entities.Message) {
	for _, m := range messages {
		h.broadcast(conversationID, &ChatMessage{
			BaseMessage:    newBase(MessageTypeMessage),
			ConversationID: conversationID,
			Message:        m,
		})
	}
}

// ConversationCleared tells subscribers the history was wiped
func (h *Hub) ConversationCleared(conversationID string) {
	h.broadcast(conversationID, &ClearedMessage{
		BaseMessage:    newBase(MessageTypeCleared),
		ConversationID: conversationID,
	})
}

func (h *Hub) broadcast(conversationID string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.rooms[conversationID] {
		client.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
	}
}

func (h *Hub) subscribe(c *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(c)
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[conversationID] = room
	}
	room[c.id] = c
	c.setConversation(conversationID)
}

func (h *Hub) unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(c)
}

func (h *Hub) leaveRoomLocked(c *Client) {
	id := c.currentConversation()
	if id == "" {
		return
	}
	if room, ok := h.rooms[id]; ok {
		delete(room, c.id)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
	c.setConversation("")
}

func (h *Hub) isSubscribed(c *Client, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[conversationID][c.id]
	return ok
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// listeningSession is an open streaming recognition for one client
type listeningSession struct {
	conversationID string
	language       entities.Language
	stream         repositories.SpeechToTextStreaming
	startedAt      time.Time
	chunks         int
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Connection id and the authenticated participant
	id          string
	participant entities.Participant

	// Cancelled when the connection goes away
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger

	sendMu sync.Mutex
	closed bool

	mutex          sync.Mutex
	conversationID string
	listening      *listeningSession
}

func newClient(hub *Hub, conn *websocket.Conn, participant entities.Participant, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan WriteData, 256),
		id:          id,
		participant: participant,
		ctx:         ctx,
		cancel:      cancel,
		logger: logger.With(
			zap.String("connectionID", id),
			zap.String("participantID", participant.ID)),
	}
}

// HandleWebSocketWithAuth upgrades the request for an authenticated participant
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, participant entities.Participant, logger *zap.Logger) error {
	conn, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, participant, logger)
	select {
	case hub.register <- client:
	case <-hub.done:
		client.cancel()
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// enqueue queues a frame, dropping it when the client is gone or too slow
func (c *Client) enqueue(data WriteData) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("Send buffer full, dropping frame", zap.Int("type", data.Type))
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) sendError(code, message string) {
	c.sendJSON(CreateErrorMessage(code, message))
}

func (c *Client) setConversation(id string) {
	c.mutex.Lock()
	c.conversationID = id
	c.mutex.Unlock()
}

func (c *Client) currentConversation() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conversationID
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.abortListening()
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage dispatches a control message from the participant
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.sendError(ErrorCodeInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case MessageTypeJoin:
		c.handleJoin(msg)
	case MessageTypeLeave:
		c.hub.unsubscribe(c)
		c.sendJSON(&BaseMessage{Type: MessageTypeLeft, Timestamp: time.Now().Format(time.RFC3339)})
	case MessageTypeTextMessage:
		c.handleTextMessage(msg)
	case MessageTypeListeningStart:
		c.handleListeningStart(msg)
	case MessageTypeListeningEnd:
		c.handleListeningEnd()
	case MessageTypePing:
		c.sendJSON(CreatePongMessage(msg.Data))
	}
}

// handleJoin joins the conversation if needed and subscribes to its updates
func (c *Client) handleJoin(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(c.ctx, controlTimeout)
	defer cancel()

	conv, err := c.hub.conversations.Join(ctx, msg.ConversationID, c.participant)
	if err != nil {
		c.replyError(err)
		return
	}

	c.hub.subscribe(c, conv.ID)
	c.logger.Info("Subscribed to conversation", zap.String("conversationID", conv.ID))
	c.sendJSON(&JoinedMessage{
		BaseMessage:    newBase(MessageTypeJoined),
		ConversationID: conv.ID,
		Conversation:   conv,
	})
}

// targetConversation resolves the conversation a message applies to
func (c *Client) targetConversation(msg *ClientMessage) (string, bool) {
	if msg.ConversationID != "" {
		return msg.ConversationID, true
	}
	id := c.currentConversation()
	if id == "" {
		c.sendError(ErrorCodeNotJoined, "join a conversation first or pass conversation_id")
		return "", false
	}
	return id, true
}

func (c *Client) handleTextMessage(msg *ClientMessage) {
	conversationID, ok := c.targetConversation(msg)
	if !ok {
		return
	}
	go c.relayTurn(usecase.SendRequest{
		ConversationID: conversationID,
		Sender:         c.participant,
		Text:           msg.Text,
		Language:       msg.Language,
		TTSEnabled:     msg.TTS,
		Model:          msg.Model,
	})
}

// handleListeningStart opens a streaming recognition session
func (c *Client) handleListeningStart(msg *ClientMessage) {
	conversationID, ok := c.targetConversation(msg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, controlTimeout)
	defer cancel()

	conv, err := c.hub.conversations.Get(ctx, conversationID, c.participant.ID)
	if err != nil {
		c.replyError(err)
		return
	}
	if conv.IsExpired() {
		c.replyError(usecase.ErrConversationClosed)
		return
	}
	language := conv.Language
	if msg.Language != nil {
		language = *msg.Language
	}

	// the stream outlives this handler, so it is bound to the connection
	stream, err := c.hub.relay.OpenStream(c.ctx, language, msg.SampleRate, msg.Encoding)
	if err != nil {
		c.logger.Error("Failed to initialize streaming transcription", zap.Error(err))
		c.sendError(ErrorCodeStreamFailed, "failed to initialize transcription")
		return
	}

	c.abortListening()
	c.mutex.Lock()
	c.listening = &listeningSession{
		conversationID: conv.ID,
		language:       language,
		stream:         stream,
		startedAt:      time.Now(),
	}
	c.mutex.Unlock()

	if c.hub.metrics != nil {
		c.hub.metrics.ListeningStarted.Inc()
	}
	c.logger.Info("Listening started",
		zap.String("conversationID", conv.ID),
		zap.String("language", string(language)),
		zap.Int("sampleRate", msg.SampleRate))

	c.sendJSON(&ListeningStartMessage{
		BaseMessage:    newBase(MessageTypeListeningStart),
		ConversationID: conv.ID,
		Language:       language,
		SampleRate:     msg.SampleRate,
		Encoding:       msg.Encoding,
	})
}

// processBinaryAudioChunk forwards a binary frame to the open stream
func (c *Client) processBinaryAudioChunk(data []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.listening == nil {
		c.logger.Warn("Received binary audio chunk but no listening session is open",
			zap.Int("size", len(data)))
		return
	}

	if err := c.listening.stream.Stream(data); err != nil {
		c.logger.Error("Failed to stream audio data",
			zap.String("conversationID", c.listening.conversationID),
			zap.Error(err))
		c.listening = nil
		c.sendError(ErrorCodeStreamFailed, "failed to stream audio")
		return
	}

	c.listening.chunks++
	if c.hub.metrics != nil {
		c.hub.metrics.AudioChunks.Inc()
	}
}

// handleListeningEnd closes the stream and relays what was heard
func (c *Client) handleListeningEnd() {
	c.mutex.Lock()
	session := c.listening
	c.listening = nil
	c.mutex.Unlock()

	if session == nil {
		c.sendError(ErrorCodeNotListening, "no listening session is open")
		return
	}

	go func() {
		transcript, err := session.stream.End()
		durationMs := time.Since(session.startedAt).Milliseconds()
		if err != nil && !errors.Is(err, repositories.ErrNoSpeech) {
			c.logger.Error("Failed to end transcription stream", zap.Error(err))
			c.sendError(ErrorCodeStreamFailed, "failed to end transcription")
			return
		}

		c.logger.Info("Transcription completed",
			zap.String("conversationID", session.conversationID),
			zap.Int("chunks", session.chunks),
			zap.Int64("durationMs", durationMs))

		c.sendJSON(&TranscriptMessage{
			BaseMessage:    newBase(MessageTypeTranscript),
			ConversationID: session.conversationID,
			Text:           transcript.Text,
			Confidence:     transcript.Confidence,
			DurationMs:     durationMs,
		})

		language := session.language
		c.relayTurn(usecase.SendRequest{
			ConversationID: session.conversationID,
			Sender:         c.participant,
			Transcript:     &transcript,
			DurationMs:     durationMs,
			Language:       &language,
		})
	}()
}

// abortListening drops any open stream without relaying it
func (c *Client) abortListening() {
	c.mutex.Lock()
	session := c.listening
	c.listening = nil
	c.mutex.Unlock()

	if session != nil {
		go func() {
			if _, err := session.stream.End(); err != nil {
				c.logger.Debug("Aborted stream ended with error", zap.Error(err))
			}
		}()
	}
}

// relayTurn runs one turn and streams the spoken reply back to this client
func (c *Client) relayTurn(req usecase.SendRequest) {
	result, err := c.hub.relay.Send(c.ctx, req)
	if err != nil {
		c.replyError(err)
		return
	}

	// subscribers already got the messages through the hub
	if !c.hub.isSubscribed(c, req.ConversationID) {
		for _, m := range []entities.Message{result.UserMessage, result.ReplyMessage} {
			c.sendJSON(&ChatMessage{
				BaseMessage:    newBase(MessageTypeMessage),
				ConversationID: req.ConversationID,
				Message:        m,
			})
		}
	}

	if len(result.Audio) == 0 {
		return
	}

	c.sendJSON(&SpeakingStartMessage{
		BaseMessage:    newBase(MessageTypeSpeakingStart),
		ConversationID: req.ConversationID,
		MessageID:      result.ReplyMessage.ID,
		ContentType:    result.AudioContentType,
		Warnings:       result.Warnings,
	})
	for start := 0; start < len(result.Audio); start += audioFrameSize {
		end := min(start+audioFrameSize, len(result.Audio))
		c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: result.Audio[start:end]})
	}
	c.sendJSON(&SpeakingEndMessage{
		BaseMessage:    newBase(MessageTypeSpeakingEnd),
		ConversationID: req.ConversationID,
		MessageID:      result.ReplyMessage.ID,
		Bytes:          len(result.Audio),
	})
}

func (c *Client) replyError(err error) {
	code := errorCode(err)
	if code == ErrorCodeInternal {
		c.logger.Error("Request failed", zap.Error(err))
		c.sendError(code, "internal error")
		return
	}
	c.sendError(code, err.Error())
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, usecase.ErrNotParticipant):
		return ErrorCodeForbidden
	case errors.Is(err, usecase.ErrConversationClosed):
		return ErrorCodeClosed
	case errors.Is(err, usecase.ErrNoInput):
		return ErrorCodeNoInput
	case errors.Is(err, usecase.ErrInvalidLanguage):
		return ErrorCodeInvalidMessage
	default:
		return ErrorCodeInternal
	}
}
