package describe

import (
	"strings"

	"github.com/fpang/alttext-bot/internal/assets"
)

// Language is a supported description language.
type Language string

const (
	English Language = "en"
	French  Language = "fr"
)

// ParseLanguage maps a BCP 47 tag ("fr", "fr-CA", "EN") to a supported
// Language. Anything unrecognised, including "", is English.
func ParseLanguage(tag string) Language {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "fr" || strings.HasPrefix(tag, "fr-") || strings.HasPrefix(tag, "fr_") {
		return French
	}
	return English
}

// Instruction is the natural-language request sent to vision-language
// models alongside the image.
func (l Language) Instruction() string {
	return assets.RenderAltTextPrompt(string(l), MaxDescriptionChars)
}
