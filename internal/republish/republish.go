// Package republish uploads described images and swaps them into a status.
//
// Mastodon has no endpoint to change the description of media already
// attached to a published status, so each image is uploaded again with its
// description and the status is edited to reference the new media. The edit
// resubmits every other attribute of the original status unchanged.
package republish

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/alttext-bot/internal/mastodon"
	"github.com/fpang/alttext-bot/internal/media"
)

// ErrNothingToReplace is returned by ReplaceMedia when no new media handle was
// produced, so no update call is made.
var ErrNothingToReplace = errors.New("no new media to attach")

// MediaClient is the subset of the Mastodon client the republisher needs.
type MediaClient interface {
	UploadMedia(ctx context.Context, data []byte, filename, mimeType, description string) (*mastodon.Attachment, error)
	UpdateStatus(ctx context.Context, id string, update mastodon.StatusUpdate) (*mastodon.Status, error)
}

// Republisher uploads media and edits statuses.
type Republisher struct {
	client MediaClient
}

// New creates a Republisher.
func New(client MediaClient) *Republisher {
	return &Republisher{client: client}
}

// Upload uploads image bytes with description as accessibility text. The
// source URL is only used to infer the MIME type and filename.
func (r *Republisher) Upload(ctx context.Context, data []byte, sourceURL, description string) (*mastodon.Attachment, error) {
	mimeType := media.MIMETypeFromURL(sourceURL)
	filename := media.FilenameFromURL(sourceURL)

	att, err := r.client.UploadMedia(ctx, data, filename, mimeType, description)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	return att, nil
}

// Replacement is the media set to resubmit for a status.
type Replacement struct {
	// MediaIDs is the full ordered media list for the edited status,
	// mixing new handles and untouched original IDs.
	MediaIDs []string
	// Replaced counts how many entries of MediaIDs are new handles.
	Replaced int
}

// ReplaceMedia edits original in one request: text becomes the status body,
// the media set becomes repl.MediaIDs, and sensitivity, spoiler text,
// visibility and language are copied from original.
func (r *Republisher) ReplaceMedia(ctx context.Context, original mastodon.Status, repl Replacement, text string) (*mastodon.Status, error) {
	if repl.Replaced == 0 || len(repl.MediaIDs) == 0 {
		return nil, ErrNothingToReplace
	}

	update := PreservingUpdate(original, repl.MediaIDs, text)
	log.Debug().
		Str("statusId", original.ID).
		Int("mediaCount", len(update.MediaIDs)).
		Int("replaced", repl.Replaced).
		Msg("Replacing status media")

	st, err := r.client.UpdateStatus(ctx, original.ID, update)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// PreservingUpdate builds an edit of original that changes only its text and
// media list.
func PreservingUpdate(original mastodon.Status, mediaIDs []string, text string) mastodon.StatusUpdate {
	return mastodon.StatusUpdate{
		Status:      text,
		MediaIDs:    mediaIDs,
		Sensitive:   original.Sensitive,
		SpoilerText: original.SpoilerText,
		Visibility:  original.Visibility,
		Language:    original.LanguageTag(),
	}
}
