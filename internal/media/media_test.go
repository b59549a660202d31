package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsImage(t *testing.T) {
	tests := []struct {
		ext      string
		expected bool
	}{
		{".jpg", true},
		{".JPEG", true},
		{".png", true},
		{".webp", true},
		{".mp4", false},
		{".txt", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			if got := IsImage(tt.ext); got != tt.expected {
				t.Errorf("IsImage(%q) = %v, want %v", tt.ext, got, tt.expected)
			}
		})
	}
}

func TestMIMETypeFromURL(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://files.example/media_attachments/files/1/original/a.png", "image/png"},
		{"https://files.example/a.JPG", "image/jpeg"},
		{"https://files.example/a.webp?v=2#frag", "image/webp"},
		{"https://files.example/a", DefaultMIMEType},
		{"https://files.example/a.mp4", DefaultMIMEType},
		{"::not a url.png", "image/png"},
	}
	for _, tt := range tests {
		if got := MIMETypeFromURL(tt.url); got != tt.expected {
			t.Errorf("MIMETypeFromURL(%q) = %q, want %q", tt.url, got, tt.expected)
		}
	}
}

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://files.example/x/y/photo.jpeg?x=1", "photo.jpeg"},
		{"https://files.example/", "image"},
		{"https://files.example", "image"},
	}
	for _, tt := range tests {
		if got := FilenameFromURL(tt.url); got != tt.expected {
			t.Errorf("FilenameFromURL(%q) = %q, want %q", tt.url, got, tt.expected)
		}
	}
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "image-bytes")
	}))
	defer server.Close()

	data, err := NewFetcherWithClient(server.Client()).Fetch(context.Background(), server.URL+"/a.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("unexpected body %q", data)
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	_, err := NewFetcherWithClient(server.Client()).Fetch(context.Background(), server.URL+"/a.png")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusGone {
		t.Errorf("expected 410, got %d", te.StatusCode)
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewFetcher(20*time.Millisecond).Fetch(context.Background(), server.URL+"/slow.png")
	if !IsTransportError(err) {
		t.Fatalf("expected transport error on timeout, got %v", err)
	}
}
