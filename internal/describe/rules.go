package describe

import "strings"

// KeywordNoteRule appends a fixed note when a keyword appears anywhere in the
// composed description (case-insensitive), separated by a blank line. The note
// is added at most once.
type KeywordNoteRule struct {
	Keyword string
	Note    string
}

func (r KeywordNoteRule) Name() string { return "keyword-note" }

func (r KeywordNoteRule) Apply(text string) string {
	if r.Keyword == "" || r.Note == "" {
		return text
	}
	if !strings.Contains(strings.ToLower(text), strings.ToLower(r.Keyword)) {
		return text
	}
	if strings.HasSuffix(text, r.Note) {
		return text
	}
	return text + "\n\n" + r.Note
}
