package describe

import (
	"strings"
)

// replyLabels are prefixes models sometimes put in front of the description
// even when told not to.
var replyLabels = []string{"alt text:", "alt-text:", "description:", "texte alternatif :", "texte alternatif:", "description :"}

// ReplyCleanupRule strips the wrapping a language model may add around a
// plain-text answer: a markdown code fence, a leading label and enclosing
// quotes. It rewrites provider output, so it only runs when configured.
type ReplyCleanupRule struct{}

func (ReplyCleanupRule) Name() string { return "reply-cleanup" }

func (ReplyCleanupRule) Apply(text string) string {
	return cleanReply(text)
}

func cleanReply(text string) string {
	text = stripFences(strings.TrimSpace(text))

	lower := strings.ToLower(text)
	for _, label := range replyLabels {
		if strings.HasPrefix(lower, label) {
			text = strings.TrimSpace(text[len(label):])
			break
		}
	}

	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"« ", " »"}, {"«", "»"}} {
		if len(text) > len(q[0])+len(q[1]) && strings.HasPrefix(text, q[0]) && strings.HasSuffix(text, q[1]) {
			inner := text[len(q[0]) : len(text)-len(q[1])]
			if !strings.Contains(inner, q[0]) {
				text = strings.TrimSpace(inner)
			}
			break
		}
	}
	return text
}

// stripFences returns the body of a ``` fenced block, or text unchanged when
// it is not a complete fenced block.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			body := strings.TrimSpace(strings.Join(lines[1:i], "\n"))
			rest := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
			if rest == "" {
				return body
			}
			return body + "\n\n" + rest
		}
	}
	return text
}
