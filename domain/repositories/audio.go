package repositories

import (
	"context"
	"errors"
)

// ErrConverterUnavailable is returned when audio needs conversion but no converter is installed
var ErrConverterUnavailable = errors.New("audio converter is not available")

// NormalizedAudio is audio ready for recognition
type NormalizedAudio struct {
	Data       []byte
	Encoding   string
	SampleRate int
	Channels   int
	DurationMs int64
}

// AudioConverter turns uploaded audio into a format the recognizer accepts
type AudioConverter interface {
	Available() bool
	Normalize(ctx context.Context, data []byte, filename string) (NormalizedAudio, error)
}
