package describe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/genai"

	"github.com/fpang/alttext-bot/internal/azurevision"
)

type fakeCaptioner struct {
	text  string
	err   error
	delay time.Duration
	calls int
	lang  Language
}

func (f *fakeCaptioner) Name() string { return "fake-caption" }

func (f *fakeCaptioner) Caption(ctx context.Context, img Image, lang Language) (string, error) {
	f.calls++
	f.lang = lang
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

type fakeExtractor struct {
	lines []string
	err   error
	calls int
}

func (f *fakeExtractor) Name() string { return "fake-ocr" }

func (f *fakeExtractor) ExtractText(ctx context.Context, img Image) ([]string, error) {
	f.calls++
	return f.lines, f.err
}

var testImage = Image{URL: "https://files.example/a.png", Data: []byte("\x89PNG\r\n\x1a\n"), MIMEType: "image/png"}

func TestCompose(t *testing.T) {
	tests := []struct {
		name    string
		primary string
		lines   []string
		want    string
	}{
		{"no ocr", "A cat", nil, "A cat"},
		{"ocr lines", "A cat", []string{"Hello", "World"}, "A cat\n\nText extracted: Hello World"},
		{"blank ocr lines", "A cat", []string{" ", ""}, "A cat"},
		{"trims lines", "A cat", []string{"  Hello  ", "", "World"}, "A cat\n\nText extracted: Hello World"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compose(tt.primary, tt.lines); got != tt.want {
				t.Errorf("Compose() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateComposesPrimaryAndOCR(t *testing.T) {
	primary := &fakeCaptioner{text: "A cat"}
	ocr := &fakeExtractor{lines: []string{"Hello", "World"}}
	g := NewGenerator(primary, WithTextExtractor(ocr))

	desc, err := g.Generate(context.Background(), testImage, French)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Text != "A cat\n\nText extracted: Hello World" {
		t.Errorf("unexpected text %q", desc.Text)
	}
	if desc.Language != French || primary.lang != French {
		t.Errorf("language not propagated: desc=%q provider=%q", desc.Language, primary.lang)
	}
	if len(desc.Signals) != 2 {
		t.Errorf("expected both signals recorded, got %v", desc.Signals)
	}
}

func TestGeneratePlaceholderWhenPrimaryEmpty(t *testing.T) {
	g := NewGenerator(&fakeCaptioner{text: "  "})
	desc, err := g.Generate(context.Background(), testImage, English)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Text != Placeholder {
		t.Errorf("expected placeholder, got %q", desc.Text)
	}
}

func TestGeneratePrimaryFailureIsProviderError(t *testing.T) {
	ocr := &fakeExtractor{lines: []string{"x"}}
	g := NewGenerator(&fakeCaptioner{err: &azurevision.APIError{StatusCode: 429, Message: "slow down"}}, WithTextExtractor(ocr))

	_, err := g.Generate(context.Background(), testImage, English)
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if pe.Kind != KindQuota || pe.Provider != "fake-caption" {
		t.Errorf("unexpected classification: %+v", pe)
	}
	if ocr.calls != 0 {
		t.Error("OCR should not run after the primary provider failed")
	}
	if !IsProviderError(fmt.Errorf("describe attachment: %w", err)) {
		t.Error("IsProviderError should see through wrapping")
	}
}

func TestGenerateOCRFailureFailsWholeDescription(t *testing.T) {
	g := NewGenerator(&fakeCaptioner{text: "A cat"}, WithTextExtractor(&fakeExtractor{err: errors.New("dial tcp: connection refused")}))

	desc, err := g.Generate(context.Background(), testImage, English)
	if err == nil {
		t.Fatalf("expected error, got description %q", desc.Text)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Kind != KindUnavailable {
		t.Errorf("expected unavailable provider error, got %v", err)
	}
}

func TestGenerateCallTimeout(t *testing.T) {
	g := NewGenerator(&fakeCaptioner{text: "late", delay: time.Second}, WithCallTimeout(10*time.Millisecond))

	_, err := g.Generate(context.Background(), testImage, English)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Kind != KindTimeout {
		t.Fatalf("expected timeout provider error, got %v", err)
	}
}

func TestGenerateAppliesRulesAfterOCR(t *testing.T) {
	rule := KeywordNoteRule{Keyword: "chart", Note: "Note about the chart."}
	g := NewGenerator(&fakeCaptioner{text: "May be a bar chart"},
		WithTextExtractor(&fakeExtractor{lines: []string{"2024"}}),
		WithRules(rule))

	desc, err := g.Generate(context.Background(), testImage, English)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "May be a bar chart\n\nText extracted: 2024\n\nNote about the chart."
	if desc.Text != want {
		t.Errorf("got %q, want %q", desc.Text, want)
	}
}

func TestGenerateClampsLength(t *testing.T) {
	g := NewGenerator(&fakeCaptioner{text: strings.Repeat("é", 2000)})
	desc, err := g.Generate(context.Background(), testImage, English)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := utf8.RuneCountInString(desc.Text); n > MaxDescriptionChars {
		t.Errorf("description has %d runes, limit %d", n, MaxDescriptionChars)
	}
	if !strings.HasSuffix(desc.Text, "…") {
		t.Error("expected ellipsis on clamped description")
	}
}

func TestKeywordNoteRule(t *testing.T) {
	rule := KeywordNoteRule{Keyword: "chart", Note: "N."}
	tests := []struct {
		in, want string
	}{
		{"A pie Chart", "A pie Chart\n\nN."},
		{"A cat", "A cat"},
		{"A chart\n\nN.", "A chart\n\nN."},
	}
	for _, tt := range tests {
		if got := rule.Apply(tt.in); got != tt.want {
			t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := (KeywordNoteRule{}).Apply("chart"); got != "chart" {
		t.Errorf("empty rule should be a no-op, got %q", got)
	}
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		tag  string
		want Language
	}{
		{"fr", French},
		{"FR-ca", French},
		{"en", English},
		{"de", English},
		{"", English},
		{"french", English},
	}
	for _, tt := range tests {
		if got := ParseLanguage(tt.tag); got != tt.want {
			t.Errorf("ParseLanguage(%q) = %q, want %q", tt.tag, got, tt.want)
		}
	}
}

func TestImageContentType(t *testing.T) {
	if got := testImage.ContentType(); got != "image/png" {
		t.Errorf("declared type ignored: %q", got)
	}
	sniffed := Image{Data: testImage.Data, MIMEType: "application/octet-stream"}
	if got := sniffed.ContentType(); got != "image/png" {
		t.Errorf("expected sniffed image/png, got %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"empty", ErrEmptyResponse, KindMalformed},
		{"azure 401", &azurevision.APIError{StatusCode: 401}, KindAuth},
		{"azure 400", &azurevision.APIError{StatusCode: 400, Code: "InvalidImageFormat"}, KindMalformed},
		{"azure 503", &azurevision.APIError{StatusCode: 503}, KindUnavailable},
		{"quota message", errors.New("Resource exhausted: quota"), KindQuota},
		{"key message", errors.New("API key not valid"), KindAuth},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pe *ProviderError
			if !errors.As(Classify("p", tt.err), &pe) {
				t.Fatal("expected *ProviderError")
			}
			if pe.Kind != tt.want {
				t.Errorf("kind = %s, want %s", pe.Kind, tt.want)
			}
			if !errors.Is(pe, tt.err) {
				t.Error("original error not unwrapped")
			}
		})
	}

	first := Classify("a", errors.New("x"))
	if Classify("b", first) != first {
		t.Error("already classified errors should pass through")
	}
}

func TestClassifySDKStatusCodes(t *testing.T) {
	claudeErr := func(code int) error {
		return &anthropic.Error{
			StatusCode: code,
			Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
			Response:   &http.Response{StatusCode: code, Status: http.StatusText(code)},
		}
	}
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"gemini 429 by value", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, KindQuota},
		{"gemini 401 by value", genai.APIError{Code: 401, Status: "UNAUTHENTICATED"}, KindAuth},
		{"gemini 503 by value", genai.APIError{Code: 503, Status: "UNAVAILABLE"}, KindUnavailable},
		{"gemini 400 wrapped", fmt.Errorf("gemini generate content: %w", genai.APIError{Code: 400}), KindMalformed},
		{"gemini pointer", &genai.APIError{Code: 429}, KindQuota},
		{"claude 429", claudeErr(429), KindQuota},
		{"claude 403", claudeErr(403), KindAuth},
		{"claude 529 wrapped", fmt.Errorf("claude create message: %w", claudeErr(529)), KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pe *ProviderError
			if !errors.As(Classify("p", tt.err), &pe) {
				t.Fatal("expected *ProviderError")
			}
			if pe.Kind != tt.want {
				t.Errorf("kind = %s, want %s", pe.Kind, tt.want)
			}
		})
	}
}

func TestGenerateEmptyModelReplyIsRetryable(t *testing.T) {
	models := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "  "}}}}},
	}}
	g := NewGenerator(NewGeminiDescriber(models, "m"))

	desc, err := g.Generate(context.Background(), testImage, French)
	if err == nil {
		t.Fatalf("expected error, got description %q", desc.Text)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Kind != KindMalformed || !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected malformed provider error, got %v", err)
	}
	if desc.Text == Placeholder {
		t.Error("placeholder must not be produced for an empty model reply")
	}
}

func TestGenerateReplyCleanupRuleIsOptIn(t *testing.T) {
	reply := `Description: "Sign reads OPEN"`
	models := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "  " + reply + "  "}}}}},
	}}

	desc, err := NewGenerator(NewGeminiDescriber(models, "m")).Generate(context.Background(), testImage, English)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Text != reply {
		t.Errorf("default output = %q, want verbatim %q", desc.Text, reply)
	}

	desc, err = NewGenerator(NewGeminiDescriber(models, "m"), WithRules(ReplyCleanupRule{})).Generate(context.Background(), testImage, English)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Text != "Sign reads OPEN" {
		t.Errorf("cleaned output = %q", desc.Text)
	}
}
