// Package scan runs the reconciliation cycle: list the account's recent
// statuses, describe every image attachment that lacks alt text, and edit each
// affected status to carry the described media.
//
// There is no cursor. Every cycle rescans the same recent window and relies
// on NeedsDescription for idempotence: a status fixed in one cycle has no
// eligible attachments in the next.
package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/alttext-bot/internal/describe"
	"github.com/fpang/alttext-bot/internal/mastodon"
	"github.com/fpang/alttext-bot/internal/media"
	"github.com/fpang/alttext-bot/internal/metrics"
	"github.com/fpang/alttext-bot/internal/republish"
)

// Platform lists the account's statuses.
type Platform interface {
	VerifyCredentials(ctx context.Context) (*mastodon.Account, error)
	AccountStatuses(ctx context.Context, accountID string, limit int) ([]mastodon.Status, error)
}

// Fetcher downloads attachment bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Describer generates alt text for an image.
type Describer interface {
	Generate(ctx context.Context, img describe.Image, lang describe.Language) (describe.Description, error)
}

// TextSource recovers the author text of a status.
type TextSource interface {
	Reconstruct(ctx context.Context, statusID string) (string, error)
}

// Publisher uploads described media and edits statuses.
type Publisher interface {
	Upload(ctx context.Context, data []byte, sourceURL, description string) (*mastodon.Attachment, error)
	ReplaceMedia(ctx context.Context, original mastodon.Status, repl republish.Replacement, text string) (*mastodon.Status, error)
}

// Options configures a Scanner.
type Options struct {
	PostLimit int
	Interval  time.Duration
	Language  describe.Language
	DryRun    bool
	// Provider names the description strategy in metrics.
	Provider string
	Observer metrics.Observer
	// CredentialAttempts bounds identity lookup retries per cycle.
	CredentialAttempts uint
	// RetryDelay is the initial delay between identity lookup attempts.
	RetryDelay time.Duration
}

// Scanner runs scan cycles. Its collaborators are fixed at construction.
type Scanner struct {
	platform  Platform
	fetcher   Fetcher
	describer Describer
	text      TextSource
	publisher Publisher
	opts      Options
}

// New creates a Scanner. Zero options take their defaults.
func New(platform Platform, fetcher Fetcher, describer Describer, text TextSource, publisher Publisher, opts Options) *Scanner {
	if opts.PostLimit <= 0 {
		opts.PostLimit = 20
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Language == "" {
		opts.Language = describe.English
	}
	if opts.Observer == nil {
		opts.Observer = metrics.Nop{}
	}
	if opts.CredentialAttempts == 0 {
		opts.CredentialAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Scanner{
		platform:  platform,
		fetcher:   fetcher,
		describer: describer,
		text:      text,
		publisher: publisher,
		opts:      opts,
	}
}

// NeedsDescription reports whether an attachment is an image without
// non-blank alt text.
func NeedsDescription(a mastodon.Attachment) bool {
	return a.Type == mastodon.MediaTypeImage && !a.HasDescription()
}

// CycleReport counts what one cycle did.
type CycleReport struct {
	ID                  string
	Started             time.Time
	Duration            time.Duration
	PostsScanned        int
	PostsUpdated        int
	PostsFailed         int
	AttachmentsEligible int
	AttachmentsFixed    int
	AttachmentsFailed   int
}

// postResult is the outcome of one status.
type postResult struct {
	eligible int
	fixed    int
	failed   int
	updated  bool
}

// RunCycle runs one scan pass. It returns an error only when the pass could
// not start (identity lookup or listing failed) or ctx was cancelled;
// per-post failures are logged and counted.
func (s *Scanner) RunCycle(ctx context.Context) (report CycleReport, err error) {
	report = CycleReport{ID: uuid.NewString(), Started: time.Now()}
	logger := log.With().Str("cycleId", report.ID).Logger()
	defer func() {
		report.Duration = time.Since(report.Started)
		s.opts.Observer.CycleFinished(metrics.Cycle{
			ID:                  report.ID,
			PostsScanned:        report.PostsScanned,
			PostsUpdated:        report.PostsUpdated,
			PostsFailed:         report.PostsFailed,
			AttachmentsEligible: report.AttachmentsEligible,
			AttachmentsFixed:    report.AttachmentsFixed,
			AttachmentsFailed:   report.AttachmentsFailed,
			Duration:            report.Duration,
			Err:                 err,
		})
	}()

	logger.Info().Int("limit", s.opts.PostLimit).Bool("dryRun", s.opts.DryRun).Msg("Scan cycle starting")

	acct, err := s.verifyCredentials(ctx, logger)
	if err != nil {
		return report, err
	}

	statuses, err := s.platform.AccountStatuses(ctx, acct.ID, s.opts.PostLimit)
	if err != nil {
		return report, fmt.Errorf("list recent statuses: %w", err)
	}
	logger.Info().Str("account", acct.Acct).Int("statuses", len(statuses)).Msg("Fetched recent statuses")

	for _, st := range statuses {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.PostsScanned++

		res, postErr := s.processPostSafely(ctx, logger, st)
		report.AttachmentsEligible += res.eligible
		report.AttachmentsFixed += res.fixed
		report.AttachmentsFailed += res.failed
		if res.updated {
			report.PostsUpdated++
		}
		if postErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.PostsFailed++
			logger.Error().Err(postErr).Str("statusId", st.ID).Msg("Status processing failed, continuing with next status")
		}
	}

	logger.Info().
		Int("scanned", report.PostsScanned).
		Int("updated", report.PostsUpdated).
		Int("failed", report.PostsFailed).
		Int("eligible", report.AttachmentsEligible).
		Int("fixed", report.AttachmentsFixed).
		Dur("duration", time.Since(report.Started)).
		Msg("Scan cycle complete")
	return report, nil
}

func (s *Scanner) verifyCredentials(ctx context.Context, logger zerolog.Logger) (*mastodon.Account, error) {
	var acct *mastodon.Account
	err := retry.Do(
		func() error {
			a, err := s.platform.VerifyCredentials(ctx)
			if err != nil {
				return err
			}
			acct = a
			return nil
		},
		retry.Attempts(s.opts.CredentialAttempts),
		retry.Delay(s.opts.RetryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Msg("Identity lookup failed, retrying")
		}),
		retry.RetryIf(func(err error) bool {
			// A rejected token will not start working on retry.
			var apiErr *mastodon.APIError
			return !errors.As(err, &apiErr) || (apiErr.StatusCode != 401 && apiErr.StatusCode != 403)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	return acct, nil
}

// processPostSafely contains panics from one status so the cycle continues.
func (s *Scanner) processPostSafely(ctx context.Context, logger zerolog.Logger, st mastodon.Status) (res postResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("statusId", st.ID).
				Bytes("stack", debug.Stack()).
				Msg("Panic while processing status")
			err = fmt.Errorf("panic processing status %s: %v", st.ID, r)
		}
	}()
	return s.processPost(ctx, logger.With().Str("statusId", st.ID).Logger(), st)
}

func (s *Scanner) processPost(ctx context.Context, logger zerolog.Logger, st mastodon.Status) (postResult, error) {
	var res postResult
	if st.Reblog != nil {
		return res, nil
	}

	for _, att := range st.MediaAttachments {
		if NeedsDescription(att) {
			res.eligible++
		}
	}
	if res.eligible == 0 {
		logger.Debug().Int("attachments", len(st.MediaAttachments)).Msg("No attachments need a description")
		return res, nil
	}
	logger.Info().Int("eligible", res.eligible).Int("attachments", len(st.MediaAttachments)).Msg("Processing status")

	// Edits replace the whole media set, so untouched attachments keep
	// their original IDs in listing order.
	repl := republish.Replacement{MediaIDs: make([]string, 0, len(st.MediaAttachments))}
	for _, att := range st.MediaAttachments {
		if !NeedsDescription(att) {
			repl.MediaIDs = append(repl.MediaIDs, att.ID)
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		newID, ok := s.processAttachment(ctx, logger.With().Str("mediaId", att.ID).Logger(), att)
		if !ok {
			res.failed++
			repl.MediaIDs = append(repl.MediaIDs, att.ID)
			continue
		}
		if newID == "" {
			// Dry run: nothing was uploaded.
			repl.MediaIDs = append(repl.MediaIDs, att.ID)
			continue
		}
		res.fixed++
		repl.Replaced++
		repl.MediaIDs = append(repl.MediaIDs, newID)
	}

	if s.opts.DryRun || repl.Replaced == 0 {
		if repl.Replaced == 0 && !s.opts.DryRun {
			logger.Warn().Int("failed", res.failed).Msg("No attachment could be described, status left unchanged")
		}
		return res, nil
	}

	text, err := s.text.Reconstruct(ctx, st.ID)
	if err != nil {
		return res, fmt.Errorf("recover status text: %w", err)
	}

	if _, err := s.publisher.ReplaceMedia(ctx, st, repl, text); err != nil {
		s.opts.Observer.StatusUpdate(false)
		var apiErr *mastodon.APIError
		if errors.As(err, &apiErr) {
			logger.Error().
				Int("statusCode", apiErr.StatusCode).
				Str("body", apiErr.Body).
				Msg("Status update rejected; uploaded media are left unattached")
		}
		return res, fmt.Errorf("update status: %w", err)
	}
	s.opts.Observer.StatusUpdate(true)
	res.updated = true
	logger.Info().Int("replaced", repl.Replaced).Int("mediaCount", len(repl.MediaIDs)).Msg("Status updated with described media")
	return res, nil
}

// processAttachment fetches, describes and uploads one attachment. It
// returns the new media ID, "" with ok in dry-run mode, or ok=false when the
// attachment was skipped.
func (s *Scanner) processAttachment(ctx context.Context, logger zerolog.Logger, att mastodon.Attachment) (newID string, ok bool) {
	data, err := s.fetcher.Fetch(ctx, att.URL)
	if err != nil {
		s.opts.Observer.Attachment(metrics.OutcomeFetchFailed)
		logger.Warn().Err(err).Str("url", att.URL).Msg("Image fetch failed, skipping attachment")
		return "", false
	}

	start := time.Now()
	desc, err := s.describer.Generate(ctx, describe.Image{URL: att.URL, Data: data, MIMEType: media.MIMETypeFromURL(att.URL)}, s.opts.Language)
	elapsed := time.Since(start)
	if err != nil {
		kind := describe.KindUnknown.String()
		var pe *describe.ProviderError
		if errors.As(err, &pe) {
			kind = pe.Kind.String()
		}
		s.opts.Observer.ProviderCall(s.opts.Provider, elapsed, kind)
		s.opts.Observer.Attachment(metrics.OutcomeProviderFailed)
		logger.Warn().Err(err).Str("kind", kind).Msg("Description failed, skipping attachment")
		return "", false
	}
	s.opts.Observer.ProviderCall(s.opts.Provider, elapsed, "")
	logger.Info().Str("language", string(desc.Language)).Str("description", desc.Text).Msg("Description generated")

	if s.opts.DryRun {
		s.opts.Observer.Attachment(metrics.OutcomeDryRun)
		logger.Info().Msg("Dry run: upload skipped")
		return "", true
	}

	uploaded, err := s.publisher.Upload(ctx, data, att.URL, desc.Text)
	if err != nil {
		s.opts.Observer.Attachment(metrics.OutcomeUploadFailed)
		logger.Warn().Err(err).Msg("Upload failed, skipping attachment")
		return "", false
	}
	s.opts.Observer.Attachment(metrics.OutcomeDescribed)
	logger.Info().Str("newMediaId", uploaded.ID).Msg("Described media uploaded")
	return uploaded.ID, true
}
