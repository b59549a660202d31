// Package posttext recovers the text an author wrote for a status so it can be
// resubmitted unchanged when the status's media are swapped.
//
// The unrendered source endpoint is the only faithful path. When it is
// unavailable the rendered HTML is converted back to text, keeping paragraph
// and line breaks and dropping everything else. That conversion is
// best-effort: lists, quotes and inline formatting do not survive it.
package posttext

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/fpang/alttext-bot/internal/mastodon"
)

// StatusReader is the subset of the Mastodon client the reconstructor needs.
type StatusReader interface {
	StatusSource(ctx context.Context, id string) (*mastodon.StatusSource, error)
	Status(ctx context.Context, id string) (*mastodon.Status, error)
}

// Reconstructor recovers author text for statuses on one instance.
type Reconstructor struct {
	client StatusReader
}

// NewReconstructor creates a Reconstructor.
func NewReconstructor(client StatusReader) *Reconstructor {
	return &Reconstructor{client: client}
}

// Reconstruct returns the text to resubmit for statusID. Failures of the
// source endpoint are never returned; an error means the rendered status
// could not be fetched either.
func (r *Reconstructor) Reconstruct(ctx context.Context, statusID string) (string, error) {
	src, err := r.client.StatusSource(ctx, statusID)
	switch {
	case err != nil:
		log.Debug().Err(err).Str("statusId", statusID).Msg("Status source unavailable, falling back to rendered HTML")
	case src == nil || src.Text == nil:
		log.Debug().Str("statusId", statusID).Msg("Status source has no text, falling back to rendered HTML")
	default:
		return *src.Text, nil
	}

	st, err := r.client.Status(ctx, statusID)
	if err != nil {
		return "", fmt.Errorf("reconstruct text for status %s: %w", statusID, err)
	}
	return HTMLToText(st.Content), nil
}

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// paragraphTags end with a blank line.
var paragraphTags = map[string]bool{
	"p":   true,
	"div": true,
}

// HTMLToText converts rendered status HTML to plain text: paragraph and div
// boundaries become a blank line, <br> a single newline, all other markup is
// stripped and entities are decoded. Runs of three or more newlines collapse
// to exactly two.
func HTMLToText(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		// The HTML parser only fails on reader errors, which a string reader
		// never produces.
		return strings.TrimSpace(content)
	}

	var sb strings.Builder
	for _, n := range doc.Find("body").Nodes {
		writeText(&sb, n)
	}

	text := excessNewlines.ReplaceAllString(sb.String(), "\n\n")
	return strings.Trim(text, "\n")
}

func writeText(sb *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			sb.WriteString(c.Data)
		case html.ElementNode:
			switch {
			case c.Data == "br":
				sb.WriteString("\n")
			case c.Data == "script" || c.Data == "style":
			case paragraphTags[c.Data]:
				writeText(sb, c)
				sb.WriteString("\n\n")
			default:
				writeText(sb, c)
			}
		}
	}
}
