package usecase

import "errors"

var (
	// ErrNoInput means the turn had neither recognized speech nor typed text
	ErrNoInput            = errors.New("no input provided")
	ErrConversationClosed = errors.New("conversation is no longer active")
	ErrNotParticipant     = errors.New("not a participant in this conversation")
	ErrInvalidLanguage    = errors.New("unsupported language")
	ErrMessageNotFound    = errors.New("message not found")

	errModelNotLoaded = errors.New("no dialogue model configured")
	errEmptyReply     = errors.New("model returned an empty reply")
)

// Texts shown to participants in place of a model reply
const (
	ReplyModelNotLoaded = "Model not loaded. Check model choice and internet connection."
	ReplyEmpty          = "Sorry, no reply."
	replyErrorPrefix    = "Error generating response: "
)

// Turn warnings
const (
	WarningNoSpeech          = "Could not detect speech"
	WarningRecognition       = "Speech recognition failed"
	WarningConverter         = "ffmpeg not available, cannot convert audio"
	WarningTranslateInbound  = "Translation failed, using original text"
	WarningTranslateOutbound = "Translation failed, showing English reply"
	WarningTTS               = "TTS generation failed"
)
