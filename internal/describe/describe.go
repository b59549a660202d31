// Package describe turns an image into accessibility text.
//
// A Generator combines one primary Captioner (a caption model or a
// vision-language model), an optional TextExtractor (OCR), and an ordered list
// of post-processing Rules. Which implementations are used is decided once,
// from configuration, when the Generator is built.
//
// Composition order:
//
//	primary text
//	"\n\nText extracted: " + OCR lines joined by single spaces   (when OCR found text)
//	each Rule applied in order                                   (e.g. KeywordNoteRule)
package describe

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// Placeholder is attached when no provider produced any text, so an eligible
// image never ends up with an empty description.
const Placeholder = "May be a scene with no available description."

// ExtractedTextLabel introduces OCR output in a composed description.
const ExtractedTextLabel = "Text extracted: "

// MaxDescriptionChars is Mastodon's limit on media descriptions.
const MaxDescriptionChars = 1500

// Image is an attachment to describe. Data is always populated; URL is kept
// for logging and for providers that prefer to fetch by reference.
type Image struct {
	URL      string
	Data     []byte
	MIMEType string
}

// ContentType returns the image MIME type, sniffing the bytes when the
// declared type is missing or not an image type.
func (img Image) ContentType() string {
	if strings.HasPrefix(img.MIMEType, "image/") {
		return img.MIMEType
	}
	return http.DetectContentType(img.Data)
}

// Description is generated alt-text. Text is never empty.
type Description struct {
	Text     string
	Language Language
	Signals  []string // provider names that contributed, in order
}

// Captioner produces the primary description of an image.
type Captioner interface {
	Name() string
	Caption(ctx context.Context, img Image, lang Language) (string, error)
}

// TextExtractor returns the lines of printed text found in an image, in
// reading order. No text is reported as an empty slice, not an error.
type TextExtractor interface {
	Name() string
	ExtractText(ctx context.Context, img Image) ([]string, error)
}

// Rule post-processes a composed description.
type Rule interface {
	Name() string
	Apply(text string) string
}

// Generator composes a Description from the configured providers.
type Generator struct {
	primary     Captioner
	extractor   TextExtractor
	rules       []Rule
	callTimeout time.Duration
}

// Option configures a Generator.
type Option func(*Generator)

// WithTextExtractor enables OCR as a secondary signal.
func WithTextExtractor(x TextExtractor) Option {
	return func(g *Generator) { g.extractor = x }
}

// WithRules appends post-processing rules, applied in the given order.
func WithRules(rules ...Rule) Option {
	return func(g *Generator) { g.rules = append(g.rules, rules...) }
}

// WithCallTimeout bounds each individual provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Generator) { g.callTimeout = d }
}

// NewGenerator creates a Generator around a primary captioner.
func NewGenerator(primary Captioner, opts ...Option) *Generator {
	g := &Generator{primary: primary}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Providers lists the provider names in the order they are consulted.
func (g *Generator) Providers() []string {
	names := []string{g.primary.Name()}
	if g.extractor != nil {
		names = append(names, g.extractor.Name())
	}
	return names
}

// Generate describes img in lang. Any provider failure is returned as a
// *ProviderError and no partial description is produced.
func (g *Generator) Generate(ctx context.Context, img Image, lang Language) (Description, error) {
	desc := Description{Language: lang}

	primaryText, err := g.caption(ctx, img, lang)
	if err != nil {
		return Description{}, err
	}
	primaryText = strings.TrimSpace(primaryText)
	if primaryText == "" {
		log.Debug().Str("provider", g.primary.Name()).Str("url", img.URL).Msg("Primary provider returned no text, using placeholder")
		primaryText = Placeholder
	} else {
		desc.Signals = append(desc.Signals, g.primary.Name())
	}

	var lines []string
	if g.extractor != nil {
		lines, err = g.extractText(ctx, img)
		if err != nil {
			return Description{}, err
		}
		if len(lines) > 0 {
			desc.Signals = append(desc.Signals, g.extractor.Name())
		}
	}

	text := Compose(primaryText, lines)
	for _, rule := range g.rules {
		before := text
		text = rule.Apply(text)
		if text != before {
			log.Debug().Str("rule", rule.Name()).Msg("Description rule applied")
			desc.Signals = append(desc.Signals, rule.Name())
		}
	}

	desc.Text = clampChars(text, MaxDescriptionChars)
	return desc, nil
}

func (g *Generator) caption(ctx context.Context, img Image, lang Language) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	text, err := g.primary.Caption(ctx, img, lang)
	if err != nil {
		return "", Classify(g.primary.Name(), err)
	}
	log.Debug().Str("provider", g.primary.Name()).Dur("duration", time.Since(start)).Int("length", len(text)).Msg("Primary description received")
	return text, nil
}

func (g *Generator) extractText(ctx context.Context, img Image) ([]string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	lines, err := g.extractor.ExtractText(ctx, img)
	if err != nil {
		return nil, Classify(g.extractor.Name(), err)
	}
	log.Debug().Str("provider", g.extractor.Name()).Dur("duration", time.Since(start)).Int("lines", len(lines)).Msg("Text extraction complete")
	return lines, nil
}

func (g *Generator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.callTimeout)
}

// Compose joins the primary description with extracted text lines. Blank
// lines are dropped; when none remain the primary text is returned as is.
func Compose(primary string, ocrLines []string) string {
	kept := make([]string, 0, len(ocrLines))
	for _, line := range ocrLines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return primary
	}
	return primary + "\n\n" + ExtractedTextLabel + strings.Join(kept, " ")
}

// clampChars cuts s to at most n runes, ending with an ellipsis when cut.
func clampChars(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
