package entities

import (
	"fmt"
	"strings"
)

// Language is a conversation language code as chosen by a participant
type Language string

const (
	LanguageAuto    Language = "auto"
	LanguageEnglish Language = "en"
	LanguageHindi   Language = "hi"
	LanguageBengali Language = "bn"
	LanguageMarathi Language = "mr"
	LanguageTamil   Language = "ta"
	LanguageTelugu  Language = "te"
)

// PivotLanguage is the language the dialogue model is spoken to in
const PivotLanguage = LanguageEnglish

var languageInfo = map[Language]struct {
	name   string
	locale string
}{
	LanguageAuto:    {name: "Auto", locale: "en-US"},
	LanguageEnglish: {name: "English", locale: "en-US"},
	LanguageHindi:   {name: "Hindi", locale: "hi-IN"},
	LanguageBengali: {name: "Bengali", locale: "bn-IN"},
	LanguageMarathi: {name: "Marathi", locale: "mr-IN"},
	LanguageTamil:   {name: "Tamil", locale: "ta-IN"},
	LanguageTelugu:  {name: "Telugu", locale: "te-IN"},
}

// SupportedLanguages lists languages in the order they are offered to users
var SupportedLanguages = []Language{
	LanguageAuto,
	LanguageEnglish,
	LanguageHindi,
	LanguageBengali,
	LanguageMarathi,
	LanguageTamil,
	LanguageTelugu,
}

// ParseLanguage validates a language code. Empty input means auto.
func ParseLanguage(s string) (Language, error) {
	code := Language(strings.ToLower(strings.TrimSpace(s)))
	if code == "" {
		return LanguageAuto, nil
	}
	if _, ok := languageInfo[code]; !ok {
		return "", fmt.Errorf("unsupported language: %s", s)
	}
	return code, nil
}

// IsValid reports whether the code is one of the supported languages
func (l Language) IsValid() bool {
	_, ok := languageInfo[l]
	return ok
}

// NeedsTranslation reports whether text must be translated to and from the pivot language
func (l Language) NeedsTranslation() bool {
	return l != LanguageAuto && l != PivotLanguage
}

// SpeechLanguage returns the language replies are spoken in
func (l Language) SpeechLanguage() Language {
	if l == LanguageAuto {
		return PivotLanguage
	}
	return l
}

// Locale returns the BCP-47 locale used by recognition and synthesis services
func (l Language) Locale() string {
	if info, ok := languageInfo[l]; ok {
		return info.locale
	}
	return languageInfo[PivotLanguage].locale
}

// DisplayName returns the English name of the language
func (l Language) DisplayName() string {
	if info, ok := languageInfo[l]; ok {
		return info.name
	}
	return string(l)
}
