// Package assets provides embedded static assets for the application.
//
// Provider instructions are stored as text files under prompts/, one per
// supported description language, and embedded at compile time.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

//go:embed prompts/alttext-en.txt
var altTextEnglishTemplate string

//go:embed prompts/alttext-fr.txt
var altTextFrenchTemplate string

// Pre-parsed templates. template.Must panics on malformed templates,
// which is caught at init time since these are embedded constants.
var altTextTemplates = map[string]*template.Template{
	"en": template.Must(template.New("alttext-en").Parse(altTextEnglishTemplate)),
	"fr": template.Must(template.New("alttext-fr").Parse(altTextFrenchTemplate)),
}

// PromptData holds the dynamic data injected into prompt templates.
type PromptData struct {
	MaxChars int
}

// HasAltTextPrompt reports whether an instruction exists for language.
func HasAltTextPrompt(language string) bool {
	_, ok := altTextTemplates[language]
	return ok
}

// RenderAltTextPrompt renders the alt-text instruction for language,
// falling back to English for languages without a dedicated prompt.
func RenderAltTextPrompt(language string, maxChars int) string {
	tmpl, ok := altTextTemplates[language]
	if !ok {
		tmpl = altTextTemplates["en"]
	}
	var buf bytes.Buffer
	// Execute cannot fail: the data type is fixed and the templates are embedded.
	_ = tmpl.Execute(&buf, PromptData{MaxChars: maxChars})
	return buf.String()
}
