package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
	"github.com/satriahrh/bridgetalk/server/internal/pipeline"
)

const (
	defaultTurnTimeout     = 90 * time.Second
	defaultGenerateTimeout = 60 * time.Second
	persistTimeout         = 10 * time.Second
	pipelineName           = "relay_turn"
)

// RelayDependencies are the providers a relay turn is stitched from. LLM, TTS,
// AudioStore and Notifier may be nil.
type RelayDependencies struct {
	Conversations repositories.ConversationRepository
	SpeechToText  repositories.SpeechToText
	Translator    repositories.Translator
	LLM           repositories.LargeLanguageModel
	TextToSpeech  repositories.TextToSpeech
	Converter     repositories.AudioConverter
	AudioStore    repositories.AudioStore
	Notifier      Notifier
}

// RelayOptions tune turn processing
type RelayOptions struct {
	HistoryTurns int
	TurnTimeout  time.Duration
	// GenerateTimeout bounds the dialogue model call. It must be shorter than
	// TurnTimeout; larger values are clamped to three quarters of it.
	GenerateTimeout time.Duration
	Observers       []pipeline.Observer
}

// AudioInput is an uploaded or streamed voice message
type AudioInput struct {
	Data     []byte
	Filename string
}

// SendRequest is one participant turn
type SendRequest struct {
	ConversationID string
	Sender         entities.Participant
	Audio          *AudioInput
	Text           string
	// Transcript carries speech already recognized by a streaming session
	Transcript *repositories.Transcript
	// DurationMs is the length of the streamed speech behind Transcript
	DurationMs int64
	Language   *entities.Language
	TTSEnabled *bool
	Model      string
}

// SendResult is the outcome of a successful turn
type SendResult struct {
	UserMessage      entities.Message `json:"user_message"`
	ReplyMessage     entities.Message `json:"reply_message"`
	Recognized       string           `json:"recognized,omitempty"`
	Audio            []byte           `json:"-"`
	AudioContentType string           `json:"audio_content_type,omitempty"`
	Warnings         []string         `json:"warnings,omitempty"`
	Trace            *pipeline.Trace  `json:"trace,omitempty"`
}

// RelayService runs the speech → translation → dialogue → translation → speech turn
type RelayService struct {
	deps            RelayDependencies
	historyTurns    int
	timeout         time.Duration
	generateTimeout time.Duration
	runner          *pipeline.Runner[*turn]
	logger          *zap.Logger
}

// NewRelayService creates a relay service
func NewRelayService(deps RelayDependencies, opts RelayOptions, logger *zap.Logger) *RelayService {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = entities.DefaultHistoryTurns
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = defaultTurnTimeout
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = defaultGenerateTimeout
	}
	if opts.GenerateTimeout >= opts.TurnTimeout {
		opts.GenerateTimeout = opts.TurnTimeout * 3 / 4
	}

	s := &RelayService{
		deps:            deps,
		historyTurns:    opts.HistoryTurns,
		timeout:         opts.TurnTimeout,
		generateTimeout: opts.GenerateTimeout,
		logger:          logger,
	}
	s.runner = pipeline.NewRunner(s.definition(), logger, opts.Observers...)
	return s
}

// SetNotifier replaces the notifier. Call during wiring, before serving.
func (s *RelayService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.deps.Notifier = n
}

// ModelLoaded reports whether a dialogue model is configured
func (s *RelayService) ModelLoaded() bool {
	return s.deps.LLM != nil
}

// turn is the state shared by the steps of one Send
type turn struct {
	req          SendRequest
	conversation *entities.Conversation
	language     entities.Language
	ttsEnabled   bool
	model        string

	recognized string
	confidence *float64
	detected   string
	inputAudio string
	durationMs int64
	source     entities.MessageSource
	input      string
	pivotInput string

	reply      string
	replyText  string
	replyModel string
	notice     bool
	audio      []byte
	audioType  string
	replyAudio string

	userMessage  entities.Message
	replyMessage entities.Message
	warnings     []string
}

func (t *turn) warn(w string) {
	t.warnings = append(t.warnings, w)
}

func (s *RelayService) definition() pipeline.Definition[*turn] {
	return pipeline.Definition[*turn]{
		Name:    pipelineName,
		Timeout: s.timeout,
		Steps: []pipeline.Step[*turn]{
			{
				Name:     "transcribe",
				Optional: true,
				When:     func(t *turn) bool { return t.req.Audio != nil && t.req.Transcript == nil },
				Execute:  s.stepTranscribe,
			},
			{
				Name:    "resolve_input",
				Execute: s.stepResolveInput,
			},
			{
				Name:     "detect_language",
				Optional: true,
				When:     func(t *turn) bool { return t.language == entities.LanguageAuto },
				Execute:  s.stepDetectLanguage,
			},
			{
				Name:     "translate_inbound",
				Optional: true,
				When:     func(t *turn) bool { return t.language.NeedsTranslation() },
				Execute:  s.stepTranslateInbound,
			},
			// persistence and generation outlive the turn deadline so a slow
			// provider still ends in a recorded reply
			{
				Name:       "record_user",
				Detached:   true,
				Timeout:    persistTimeout,
				Execute:    s.stepRecordUser,
				Compensate: s.compensateUser,
			},
			{
				Name:     "generate",
				Detached: true,
				Timeout:  s.generateTimeout,
				Execute:  s.stepGenerate,
			},
			{
				Name:     "translate_outbound",
				Optional: true,
				When:     func(t *turn) bool { return t.language.NeedsTranslation() },
				Execute:  s.stepTranslateOutbound,
			},
			{
				Name:     "synthesize",
				Optional: true,
				When:     func(t *turn) bool { return t.ttsEnabled && s.deps.TextToSpeech != nil },
				Execute:  s.stepSynthesize,
			},
			{
				Name:       "record_reply",
				Detached:   true,
				Timeout:    persistTimeout,
				Execute:    s.stepRecordReply,
				Compensate: s.compensateReply,
			},
		},
	}
}

// Send processes one turn and records both the user message and the reply
func (s *RelayService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	conv, err := s.deps.Conversations.GetByID(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.IsExpired() {
		return nil, ErrConversationClosed
	}
	if !conv.HasParticipant(req.Sender.ID) {
		return nil, ErrNotParticipant
	}

	t := &turn{
		req:          req,
		conversation: conv,
		language:     conv.Language,
		ttsEnabled:   conv.TTSEnabled,
		model:        conv.Model,
	}
	if req.Language != nil {
		if !req.Language.IsValid() {
			return nil, ErrInvalidLanguage
		}
		t.language = *req.Language
	}
	if req.TTSEnabled != nil {
		t.ttsEnabled = *req.TTSEnabled
	}
	if req.Model != "" {
		t.model = req.Model
	}

	s.logger.Info("Processing turn",
		zap.String("conversationID", conv.ID),
		zap.String("senderID", req.Sender.ID),
		zap.String("language", string(t.language)),
		zap.Bool("hasAudio", req.Audio != nil))

	trace, err := s.runner.Run(ctx, t)
	if err != nil {
		s.logger.Warn("Turn aborted",
			zap.String("conversationID", conv.ID),
			zap.Error(err))
		return nil, err
	}

	s.deps.Notifier.MessagesAdded(conv.ID, t.userMessage, t.replyMessage)

	return &SendResult{
		UserMessage:      t.userMessage,
		ReplyMessage:     t.replyMessage,
		Recognized:       t.recognized,
		Audio:            t.audio,
		AudioContentType: t.audioType,
		Warnings:         t.warnings,
		Trace:            trace,
	}, nil
}

// Transcribe only recognizes speech, without recording anything
func (s *RelayService) Transcribe(ctx context.Context, audio AudioInput, lang entities.Language) (repositories.Transcript, error) {
	if !lang.IsValid() {
		return repositories.Transcript{}, ErrInvalidLanguage
	}
	transcript, _, err := s.recognize(ctx, audio, lang)
	return transcript, err
}

// OpenStream starts a streaming recognition session for raw audio chunks
func (s *RelayService) OpenStream(ctx context.Context, lang entities.Language, sampleRate int, encoding string) (repositories.SpeechToTextStreaming, error) {
	if !lang.IsValid() {
		return nil, ErrInvalidLanguage
	}
	return s.deps.SpeechToText.InitTranscribeStreaming(ctx, repositories.AudioConfig{
		SampleRate: sampleRate,
		Encoding:   encoding,
		Language:   lang.Locale(),
	})
}

// recognize normalizes audio and transcribes it, also returning the audio duration
func (s *RelayService) recognize(ctx context.Context, audio AudioInput, lang entities.Language) (repositories.Transcript, int64, error) {
	normalized, err := s.deps.Converter.Normalize(ctx, audio.Data, audio.Filename)
	if err != nil {
		return repositories.Transcript{}, 0, fmt.Errorf("failed to prepare audio: %w", err)
	}

	transcript, err := s.deps.SpeechToText.TranscribeAudio(ctx, normalized.Data, repositories.AudioConfig{
		SampleRate: normalized.SampleRate,
		Encoding:   normalized.Encoding,
		Channels:   normalized.Channels,
		Language:   lang.Locale(),
	})
	return transcript, normalized.DurationMs, err
}

func (s *RelayService) stepTranscribe(ctx context.Context, t *turn) error {
	audio := *t.req.Audio
	transcript, durationMs, err := s.recognize(ctx, audio, t.language)
	t.durationMs = durationMs
	switch {
	case errors.Is(err, repositories.ErrNoSpeech):
		t.warn(WarningNoSpeech)
		return nil
	case errors.Is(err, repositories.ErrConverterUnavailable):
		t.warn(WarningConverter)
		return err
	case err != nil:
		t.warn(WarningRecognition)
		return err
	}

	t.recognized = strings.TrimSpace(transcript.Text)
	if t.recognized == "" {
		t.warn(WarningNoSpeech)
		return nil
	}
	confidence := transcript.Confidence
	t.confidence = &confidence

	s.logger.Info("Speech recognized",
		zap.String("conversationID", t.conversation.ID),
		zap.Float64("confidence", confidence))
	return nil
}

func (s *RelayService) stepResolveInput(ctx context.Context, t *turn) error {
	if t.req.Transcript != nil {
		t.durationMs = t.req.DurationMs
		t.recognized = strings.TrimSpace(t.req.Transcript.Text)
		if t.recognized != "" {
			confidence := t.req.Transcript.Confidence
			t.confidence = &confidence
		}
	}

	// recognized speech takes priority over typed text
	if t.recognized != "" {
		t.input = t.recognized
		t.source = entities.MessageSourceVoice
	} else {
		t.input = strings.TrimSpace(t.req.Text)
		t.source = entities.MessageSourceText
	}
	if t.input == "" {
		return ErrNoInput
	}
	t.pivotInput = t.input
	return nil
}

func (s *RelayService) stepDetectLanguage(ctx context.Context, t *turn) error {
	detected, err := s.deps.Translator.DetectLanguage(ctx, t.input)
	if err != nil {
		return err
	}
	t.detected = strings.ToLower(strings.TrimSpace(detected))
	return nil
}

func (s *RelayService) stepTranslateInbound(ctx context.Context, t *turn) error {
	translated, err := s.deps.Translator.Translate(ctx, t.input, string(t.language), string(entities.PivotLanguage))
	if err != nil {
		t.warn(WarningTranslateInbound)
		return err
	}
	if translated = strings.TrimSpace(translated); translated != "" {
		t.pivotInput = translated
	}
	return nil
}

func (s *RelayService) stepRecordUser(ctx context.Context, t *turn) error {
	msg := entities.NewMessage(entities.MessageRoleUser, t.input, t.language, t.source)
	msg.Pivot = t.pivotInput
	msg.SenderID = t.req.Sender.ID
	msg.SenderName = t.req.Sender.Name
	msg.SenderRole = t.req.Sender.Role
	msg.Metadata.TranscriptionConfidence = t.confidence
	msg.Metadata.DetectedLanguage = t.detected
	if t.source == entities.MessageSourceVoice {
		msg.DurationMs = t.durationMs
	}
	// input is resolved, so the upload is worth keeping
	if audio := t.req.Audio; audio != nil {
		t.inputAudio = s.archive(ctx, t.conversation.ID, audio.Data, filepath.Ext(audio.Filename), contentTypeFor(audio.Filename))
		msg.AudioKey = t.inputAudio
	}

	if err := s.deps.Conversations.AppendMessages(ctx, t.conversation.ID, msg); err != nil {
		s.discard(ctx, t.inputAudio)
		return fmt.Errorf("failed to record message: %w", err)
	}
	t.userMessage = msg
	return nil
}

func (s *RelayService) compensateUser(ctx context.Context, t *turn) error {
	s.discard(ctx, t.inputAudio)
	return s.deps.Conversations.RemoveMessage(ctx, t.conversation.ID, t.userMessage.ID)
}

func (s *RelayService) stepGenerate(ctx context.Context, t *turn) error {
	var err error
	t.reply, t.replyModel, err = s.generate(ctx, t)
	t.notice = err != nil
	t.replyText = t.reply
	return nil
}

// generate never fails the turn: a problem is returned together with the
// notice participants see in place of a reply
func (s *RelayService) generate(ctx context.Context, t *turn) (string, string, error) {
	if s.deps.LLM == nil {
		return ReplyModelNotLoaded, "", errModelNotLoaded
	}

	prior := t.conversation.History(s.historyTurns)
	history := make([]repositories.ChatMessage, 0, len(prior))
	for _, m := range prior {
		role := repositories.UserRole
		if m.Role == entities.MessageRoleAssistant {
			role = repositories.AssistantRole
		}
		history = append(history, repositories.ChatMessage{Role: role, Content: m.Pivot})
	}

	session, err := s.deps.LLM.GenerateChat(ctx, history, repositories.ChatOptions{Model: t.model})
	if err != nil {
		return replyErrorPrefix + err.Error(), "", err
	}

	reply, err := session.SendMessage(ctx, repositories.ChatMessage{Role: repositories.UserRole, Content: t.pivotInput})
	if err != nil {
		s.logger.Error("Failed to generate reply",
			zap.String("conversationID", t.conversation.ID),
			zap.Duration("timeout", s.generateTimeout),
			zap.Error(err))
		return replyErrorPrefix + err.Error(), "", err
	}

	text := strings.TrimSpace(reply.Content)
	if text == "" {
		return ReplyEmpty, reply.Model, errEmptyReply
	}
	return text, reply.Model, nil
}

func (s *RelayService) stepTranslateOutbound(ctx context.Context, t *turn) error {
	translated, err := s.deps.Translator.Translate(ctx, t.reply, string(entities.PivotLanguage), string(t.language))
	if err != nil {
		t.warn(WarningTranslateOutbound)
		return err
	}
	if translated = strings.TrimSpace(translated); translated != "" {
		t.replyText = translated
	}
	return nil
}

func (s *RelayService) stepSynthesize(ctx context.Context, t *turn) error {
	stream, err := s.deps.TextToSpeech.ConvertTextToSpeech(ctx, t.replyText, string(t.language.SpeechLanguage()))
	if err != nil {
		t.warn(WarningTTS)
		return err
	}
	audio, err := repositories.CollectAudio(ctx, stream)
	if err != nil {
		t.warn(WarningTTS)
		return err
	}
	if len(audio) == 0 {
		t.warn(WarningTTS)
		return errors.New("synthesizer produced no audio")
	}

	t.audio = audio
	t.audioType = s.deps.TextToSpeech.ContentType()
	return nil
}

func (s *RelayService) stepRecordReply(ctx context.Context, t *turn) error {
	msg := entities.NewMessage(entities.MessageRoleAssistant, t.replyText, t.language, entities.MessageSourceModel)
	msg.Pivot = t.reply
	msg.Metadata.Model = t.replyModel
	msg.Metadata.Notice = t.notice
	msg.Metadata.Warnings = t.warnings
	t.replyAudio = s.archive(ctx, t.conversation.ID, t.audio, extensionFor(t.audioType), t.audioType)
	msg.AudioKey = t.replyAudio

	if err := s.deps.Conversations.AppendMessages(ctx, t.conversation.ID, msg); err != nil {
		s.discard(ctx, t.replyAudio)
		return fmt.Errorf("failed to record reply: %w", err)
	}
	t.replyMessage = msg
	return nil
}

func (s *RelayService) compensateReply(ctx context.Context, t *turn) error {
	s.discard(ctx, t.replyAudio)
	return s.deps.Conversations.RemoveMessage(ctx, t.conversation.ID, t.replyMessage.ID)
}

// archive stores audio when a store is configured and returns its key, or "" when not stored
func (s *RelayService) archive(ctx context.Context, conversationID string, data []byte, ext, contentType string) string {
	if s.deps.AudioStore == nil || len(data) == 0 {
		return ""
	}
	key := fmt.Sprintf("conversations/%s/%s%s", conversationID, uuid.New().String(), strings.ToLower(ext))
	if err := s.deps.AudioStore.Put(ctx, key, data, contentType); err != nil {
		s.logger.Warn("Failed to archive audio",
			zap.String("conversationID", conversationID),
			zap.Error(err))
		return ""
	}
	return key
}

// discard removes audio archived for a turn that was not recorded
func (s *RelayService) discard(ctx context.Context, key string) {
	if s.deps.AudioStore == nil || key == "" {
		return
	}
	if err := s.deps.AudioStore.Delete(ctx, key); err != nil {
		s.logger.Warn("Failed to discard archived audio",
			zap.String("key", key),
			zap.Error(err))
	}
}

var audioContentTypes = map[string]string{
	".wav": "audio/wav",
	".mp3": "audio/mpeg",
	".m4a": "audio/mp4",
	".ogg": "audio/ogg",
	".pcm": "audio/pcm",
}

func contentTypeFor(filename string) string {
	if ct, ok := audioContentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func extensionFor(contentType string) string {
	for ext, ct := range audioContentTypes {
		if ct == contentType {
			return ext
		}
	}
	return ".bin"
}
