package translate

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestPassthroughTranslator(t *testing.T) {
	p := NewPassthroughTranslator(zaptest.NewLogger(t))

	got, err := p.Translate(context.Background(), "नमस्ते", "hi", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "नमस्ते" {
		t.Errorf("Expected text unchanged, got %q", got)
	}

	lang, err := p.DetectLanguage(context.Background(), "anything")
	if err != nil || lang != "" {
		t.Errorf("Expected no detection, got %q (%v)", lang, err)
	}
}

func TestParseTag(t *testing.T) {
	for _, code := range []string{"en", "hi", "bn", "mr", "ta", "te"} {
		tag, err := parseTag(code)
		if err != nil {
			t.Errorf("parseTag(%q) unexpected error: %v", code, err)
		}
		if tag.String() != code {
			t.Errorf("parseTag(%q) = %s", code, tag)
		}
	}

	if _, err := parseTag("not a language"); err == nil {
		t.Error("Expected error for invalid code")
	}
}

func TestGoogleTranslator_EmptyTextShortCircuits(t *testing.T) {
	g := &GoogleTranslator{logger: zaptest.NewLogger(t)}

	got, err := g.Translate(context.Background(), "   ", "hi", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "   " {
		t.Errorf("Expected whitespace to be returned unchanged, got %q", got)
	}
}

func TestGoogleTranslator_SameLanguageShortCircuits(t *testing.T) {
	g := &GoogleTranslator{logger: zaptest.NewLogger(t)}

	got, err := g.Translate(context.Background(), "hello", "en", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("Expected text unchanged, got %q", got)
	}
}
