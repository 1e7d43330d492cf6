package repositories

import "context"

// Translator converts text between languages
type Translator interface {
	// Translate converts text from source to target. Source may be "auto".
	Translate(ctx context.Context, text, source, target string) (string, error)
	// DetectLanguage returns the ISO 639-1 code of the text's language
	DetectLanguage(ctx context.Context, text string) (string, error)
}
