package repositories

import "context"

type TextToSpeech interface {
	// ConvertTextToSpeech streams synthesized audio for text spoken in language.
	// The channel is closed when synthesis finishes or fails.
	ConvertTextToSpeech(ctx context.Context, text string, language string) (<-chan []byte, error)
	// ContentType is the MIME type of the produced audio
	ContentType() string
}

// CollectAudio drains an audio channel into a single buffer
func CollectAudio(ctx context.Context, audio <-chan []byte) ([]byte, error) {
	var out []byte
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case chunk, ok := <-audio:
			if !ok {
				return out, nil
			}
			out = append(out, chunk...)
		}
	}
}
