package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

// newTestClient creates a Client pointing at a test HTTP server.
func newTestClient(server *httptest.Server) *Client {
	return &Client{
		httpClient:  server.Client(),
		accessToken: "test-token",
		baseURL:     server.URL,
	}
}

func strPtr(s string) *string { return &s }

func TestVerifyCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/accounts/verify_credentials" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		json.NewEncoder(w).Encode(Account{ID: "109", Acct: "zelk"})
	}))
	defer server.Close()

	acct, err := newTestClient(server).VerifyCredentials(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.ID != "109" {
		t.Errorf("expected account 109, got %s", acct.ID)
	}
}

func TestAccountStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/109/statuses" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "20" {
			t.Errorf("expected limit=20, got %s", r.URL.Query().Get("limit"))
		}
		if r.URL.Query().Get("exclude_reblogs") != "true" {
			t.Errorf("expected exclude_reblogs=true")
		}
		io.WriteString(w, `[
			{"id":"1","content":"<p>hi</p>","visibility":"public","sensitive":false,"spoiler_text":"","language":"en",
			 "media_attachments":[{"id":"m1","type":"image","url":"https://files.example/a.png","description":null}]},
			{"id":"2","content":"<p>yo</p>","visibility":"unlisted","sensitive":true,"spoiler_text":"cw","language":null,
			 "media_attachments":[]}
		]`)
	}))
	defer server.Close()

	statuses, err := newTestClient(server).AccountStatuses(context.Background(), "109", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].MediaAttachments[0].Description != nil {
		t.Errorf("expected nil description for null JSON value")
	}
	if statuses[0].LanguageTag() != "en" {
		t.Errorf("expected language en, got %q", statuses[0].LanguageTag())
	}
	if statuses[1].LanguageTag() != "" {
		t.Errorf("expected empty language for null, got %q", statuses[1].LanguageTag())
	}
	if !statuses[1].Sensitive || statuses[1].SpoilerText != "cw" {
		t.Errorf("metadata not decoded: %+v", statuses[1])
	}
}

func TestStatusSourceNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"Record not found"}`)
	}))
	defer server.Close()

	_, err := newTestClient(server).StatusSource(context.Background(), "42")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "Record not found") {
		t.Errorf("expected API message in error, got %v", err)
	}
}

func TestStatusSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/statuses/42/source" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(StatusSource{ID: "42", Text: strPtr("line one\n\nline two")})
	}))
	defer server.Close()

	src, err := newTestClient(server).StatusSource(context.Background(), "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.Text == nil || *src.Text != "line one\n\nline two" {
		t.Errorf("unexpected source text: %v", src.Text)
	}
}

func TestUploadMedia(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v2/media" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("description"); got != "May be a cat" {
			t.Errorf("unexpected description: %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "PNGDATA" {
			t.Errorf("unexpected file body: %q", data)
		}
		if header.Filename != "cat.png" {
			t.Errorf("unexpected filename: %q", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("unexpected part content type: %q", ct)
		}
		json.NewEncoder(w).Encode(Attachment{ID: "new-1", Type: "image", URL: "https://files.example/new.png"})
	}))
	defer server.Close()

	att, err := newTestClient(server).UploadMedia(context.Background(), []byte("PNGDATA"), "cat.png", "image/png", "May be a cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if att.ID != "new-1" {
		t.Errorf("expected new-1, got %s", att.ID)
	}
}

func TestUploadMediaAsyncProcessing(t *testing.T) {
	origInitial := initialPollInterval
	initialPollInterval = time.Millisecond
	defer func() { initialPollInterval = origInitial }()

	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			io.WriteString(w, `{"id":"async-1","type":"image","url":null}`)
		case r.URL.Path == "/api/v1/media/async-1":
			polls++
			if polls < 2 {
				w.WriteHeader(http.StatusPartialContent)
				io.WriteString(w, `{"id":"async-1","type":"image","url":null}`)
				return
			}
			io.WriteString(w, `{"id":"async-1","type":"image","url":"https://files.example/async.png"}`)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	att, err := newTestClient(server).UploadMedia(context.Background(), []byte("x"), "a.jpg", "image/jpeg", "desc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if att.URL == "" {
		t.Error("expected processed attachment URL")
	}
	if polls < 2 {
		t.Errorf("expected at least 2 polls, got %d", polls)
	}
}

func TestUpdateStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/statuses/42" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		r.ParseForm()
		if r.Form.Get("status") != "Hello\n\nWorld" {
			t.Errorf("unexpected status text: %q", r.Form.Get("status"))
		}
		if got := r.Form["media_ids[]"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
			t.Errorf("unexpected media_ids[]: %v", got)
		}
		if r.Form.Get("sensitive") != "true" {
			t.Errorf("expected sensitive=true")
		}
		if r.Form.Get("spoiler_text") != "cw" {
			t.Errorf("unexpected spoiler_text: %q", r.Form.Get("spoiler_text"))
		}
		if r.Form.Get("visibility") != "unlisted" {
			t.Errorf("unexpected visibility: %q", r.Form.Get("visibility"))
		}
		if r.Form.Get("language") != "fr" {
			t.Errorf("unexpected language: %q", r.Form.Get("language"))
		}
		json.NewEncoder(w).Encode(Status{ID: "42"})
	}))
	defer server.Close()

	_, err := newTestClient(server).UpdateStatus(context.Background(), "42", StatusUpdate{
		Status:      "Hello\n\nWorld",
		MediaIDs:    []string{"a", "b"},
		Sensitive:   true,
		SpoilerText: "cw",
		Visibility:  "unlisted",
		Language:    "fr",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateStatusAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"error":"Validation failed: Media is still processing"}`)
	}))
	defer server.Close()

	_, err := newTestClient(server).UpdateStatus(context.Background(), "42", StatusUpdate{Status: "x", MediaIDs: []string{"a"}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "still processing") {
		t.Errorf("expected body retained, got %q", apiErr.Body)
	}
}

func TestAttachmentHasDescription(t *testing.T) {
	tests := []struct {
		name string
		desc *string
		want bool
	}{
		{"nil", nil, false},
		{"empty", strPtr(""), false},
		{"whitespace", strPtr("  \n\t "), false},
		{"text", strPtr("A cat"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Attachment{Description: tt.desc}).HasDescription(); got != tt.want {
				t.Errorf("HasDescription() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		limit    int
		expected string
	}{
		{"short", 10, "short"},
		{"this is a long string", 10, "this is a ..."},
		{"exact", 5, "exact"},
		{"café au lait", 4, "caf..."},
		{"café au lait", 5, "café..."},
		{"日本語の本文", 4, "日..."},
	}
	for _, tt := range tests {
		got := truncate(tt.input, tt.limit)
		if got != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.limit, got, tt.expected)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) split a rune: %q", tt.input, tt.limit, got)
		}
	}
}
