package describe

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fpang/alttext-bot/internal/azurevision"
)

// AzureVision is the subset of *azurevision.Client the Azure strategies use.
type AzureVision interface {
	Describe(ctx context.Context, image []byte, language string, maxCandidates int) ([]azurevision.Caption, error)
	RecognizePrintedText(ctx context.Context, image []byte) (*azurevision.OCRResult, error)
}

const hedgePrefix = "may be "

// AzureCaptioner uses the best Azure caption, hedged and sentence-cased:
// "a cat on a couch" becomes "May be a cat on a couch".
type AzureCaptioner struct {
	vision AzureVision
}

// NewAzureCaptioner creates the caption-model strategy.
func NewAzureCaptioner(vision AzureVision) *AzureCaptioner {
	return &AzureCaptioner{vision: vision}
}

func (a *AzureCaptioner) Name() string { return "azure-caption" }

// Caption returns "" when Azure has no caption for the image. Azure's caption
// model only produces English, so lang is not forwarded.
func (a *AzureCaptioner) Caption(ctx context.Context, img Image, _ Language) (string, error) {
	captions, err := a.vision.Describe(ctx, img.Data, string(English), 1)
	if err != nil {
		return "", err
	}
	for _, c := range captions {
		if text := strings.TrimSpace(c.Text); text != "" {
			return Hedge(text), nil
		}
	}
	return "", nil
}

// Hedge prefixes a model caption with an uncertainty phrase and normalizes
// it to sentence case. Captions that already open with an article keep it.
func Hedge(caption string) string {
	caption = strings.TrimSpace(caption)
	lower := strings.ToLower(caption)
	phrase := hedgePrefix + "a " + caption
	for _, article := range []string{"a ", "an ", "the "} {
		if strings.HasPrefix(lower, article) {
			phrase = hedgePrefix + caption
			break
		}
	}
	return sentenceCase(phrase)
}

// sentenceCase upper-cases the first rune and lower-cases the rest.
func sentenceCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// AzureOCR extracts printed text with Azure's OCR endpoint. Words within a
// line are joined by single spaces; lines are returned in reading order.
type AzureOCR struct {
	vision AzureVision
}

// NewAzureOCR creates the OCR strategy.
func NewAzureOCR(vision AzureVision) *AzureOCR {
	return &AzureOCR{vision: vision}
}

func (a *AzureOCR) Name() string { return "azure-ocr" }

func (a *AzureOCR) ExtractText(ctx context.Context, img Image) ([]string, error) {
	result, err := a.vision.RecognizePrintedText(ctx, img.Data)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	var lines []string
	for _, region := range result.Regions {
		for _, line := range region.Lines {
			words := make([]string, 0, len(line.Words))
			for _, w := range line.Words {
				if text := strings.TrimSpace(w.Text); text != "" {
					words = append(words, text)
				}
			}
			if len(words) > 0 {
				lines = append(lines, strings.Join(words, " "))
			}
		}
	}
	return lines, nil
}
