package mastodon

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MediaTypeImage is the attachment type the bot describes.
const MediaTypeImage = "image"

// Account is the subset of a Mastodon account the bot uses.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
	URL      string `json:"url"`
}

// Attachment is a media attachment on a status.
type Attachment struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"` // image, gifv, video, audio, unknown
	URL         string  `json:"url"`
	PreviewURL  string  `json:"preview_url,omitempty"`
	RemoteURL   string  `json:"remote_url,omitempty"`
	Description *string `json:"description"`
}

// HasDescription reports whether the attachment carries non-blank alt text.
func (a Attachment) HasDescription() bool {
	return a.Description != nil && strings.TrimSpace(*a.Description) != ""
}

// Status is the subset of a Mastodon status the bot reads and resubmits.
type Status struct {
	ID               string       `json:"id"`
	URI              string       `json:"uri"`
	URL              string       `json:"url"`
	CreatedAt        time.Time    `json:"created_at"`
	Content          string       `json:"content"` // rendered HTML
	Visibility       string       `json:"visibility"`
	Sensitive        bool         `json:"sensitive"`
	SpoilerText      string       `json:"spoiler_text"`
	Language         *string      `json:"language"`
	MediaAttachments []Attachment `json:"media_attachments"`
	Account          Account      `json:"account"`
	Reblog           *Status      `json:"reblog"`
}

// LanguageTag returns the status language or "" when unknown.
func (s Status) LanguageTag() string {
	if s.Language == nil {
		return ""
	}
	return *s.Language
}

// StatusSource is the unrendered text of a status as the author submitted it.
type StatusSource struct {
	ID          string  `json:"id"`
	Text        *string `json:"text"`
	SpoilerText string  `json:"spoiler_text"`
}

// StatusUpdate carries every field resubmitted when editing a status.
type StatusUpdate struct {
	Status      string
	MediaIDs    []string
	Sensitive   bool
	SpoilerText string
	Visibility  string
	Language    string
}

// errorResponse is the JSON error body Mastodon returns.
type errorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-success response from the Mastodon API.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("Mastodon API error: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("Mastodon API error: HTTP %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
