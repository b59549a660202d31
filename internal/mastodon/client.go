// Package mastodon provides a client for the subset of the Mastodon REST API
// the alt-text bot needs: identity lookup, listing an account's statuses,
// reading a status and its unrendered source, uploading media with a
// description, and editing a status.
//
// Editing a status replaces its whole media set, so the bot always uploads
// new media first and then issues a single combined update.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const (
	// defaultTimeout is the HTTP client timeout for API calls.
	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response is kept for logging.
	maxErrorBody = 2048
)

// Media processing poll settings. Variables so tests can shorten them.
var (
	initialPollInterval = 1 * time.Second
	maxPollInterval     = 10 * time.Second
	defaultPollTimeout  = 2 * time.Minute
)

// Client provides methods for reading and editing statuses on one Mastodon instance.
type Client struct {
	httpClient  *http.Client
	accessToken string
	baseURL     string
}

// NewClient creates a Mastodon API client for the instance at baseURL
// (e.g. "https://mastodon.social"). A zero timeout selects the default.
func NewClient(baseURL, accessToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		accessToken: accessToken,
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

// --- Identity and reads ---

// VerifyCredentials returns the account that owns the access token.
func (c *Client) VerifyCredentials(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/accounts/verify_credentials", nil, &acct); err != nil {
		return nil, fmt.Errorf("verify credentials: %w", err)
	}
	log.Debug().Str("accountId", acct.ID).Str("acct", acct.Acct).Msg("Credentials verified")
	return &acct, nil
}

// AccountStatuses lists the most recent statuses posted by accountID,
// newest first. Reblogs are excluded server-side.
func (c *Client) AccountStatuses(ctx context.Context, accountID string, limit int) ([]Status, error) {
	params := url.Values{
		"limit":           {strconv.Itoa(limit)},
		"exclude_reblogs": {"true"},
	}
	endpoint := fmt.Sprintf("/api/v1/accounts/%s/statuses?%s", url.PathEscape(accountID), params.Encode())

	var statuses []Status
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &statuses); err != nil {
		return nil, fmt.Errorf("list statuses for account %s: %w", accountID, err)
	}
	return statuses, nil
}

// Status fetches a single status by ID.
func (c *Client) Status(ctx context.Context, id string) (*Status, error) {
	var st Status
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/statuses/"+url.PathEscape(id), nil, &st); err != nil {
		return nil, fmt.Errorf("get status %s: %w", id, err)
	}
	return &st, nil
}

// StatusSource fetches the unrendered text the author submitted for a status.
// Older servers do not implement the endpoint and answer 404.
func (c *Client) StatusSource(ctx context.Context, id string) (*StatusSource, error) {
	var src StatusSource
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/statuses/"+url.PathEscape(id)+"/source", nil, &src); err != nil {
		return nil, fmt.Errorf("get status source %s: %w", id, err)
	}
	return &src, nil
}

// --- Writes ---

// UploadMedia uploads an image with its accessibility description and returns
// the new attachment. The server may accept the upload for asynchronous
// processing (202); in that case UploadMedia waits until the attachment is
// ready so it can be attached to a status.
func (c *Client) UploadMedia(ctx context.Context, data []byte, filename, mimeType, description string) (*Attachment, error) {
	log.Debug().
		Str("filename", filename).
		Str("mimeType", mimeType).
		Int("bytes", len(data)).
		Int("descriptionLength", len(description)).
		Msg("Uploading media")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	if err := mw.WriteField("description", description); err != nil {
		return nil, fmt.Errorf("write description field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var att Attachment
	status, err := c.do(ctx, http.MethodPost, "/api/v2/media", &body, mw.FormDataContentType(), &att)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}
	if att.ID == "" {
		return nil, fmt.Errorf("upload media: response carried no media ID")
	}

	if status == http.StatusAccepted || att.URL == "" {
		log.Debug().Str("mediaId", att.ID).Msg("Media accepted for asynchronous processing")
		ready, err := c.WaitForMedia(ctx, att.ID, 0)
		if err != nil {
			return nil, err
		}
		att = *ready
	}

	log.Info().Str("mediaId", att.ID).Str("type", att.Type).Msg("Media uploaded")
	return &att, nil
}

// WaitForMedia polls an uploaded attachment until the server has finished
// processing it (its URL becomes non-empty).
// Uses exponential backoff: 1s, 2s, 4s, 8s, 10s (max).
func (c *Client) WaitForMedia(ctx context.Context, mediaID string, timeout time.Duration) (*Attachment, error) {
	if timeout == 0 {
		timeout = defaultPollTimeout
	}

	deadline := time.Now().Add(timeout)
	interval := initialPollInterval

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("media %s: timed out after %s waiting for processing", mediaID, timeout)
		}

		var att Attachment
		status, err := c.do(ctx, http.MethodGet, "/api/v1/media/"+url.PathEscape(mediaID), nil, "", &att)
		switch {
		case err != nil:
			// Transient errors: log and retry until the deadline.
			log.Warn().Err(err).Str("mediaId", mediaID).Msg("Media status poll error, retrying")
		case status == http.StatusOK && att.URL != "":
			log.Debug().Str("mediaId", mediaID).Msg("Media processing finished")
			return &att, nil
		default:
			log.Debug().Str("mediaId", mediaID).Dur("nextPoll", interval).Msg("Media still processing")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		interval = interval * 2
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
}

// UpdateStatus edits a status in a single request, replacing its text,
// media set, and metadata with the values in update.
func (c *Client) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*Status, error) {
	params := url.Values{
		"status":       {update.Status},
		"sensitive":    {strconv.FormatBool(update.Sensitive)},
		"spoiler_text": {update.SpoilerText},
	}
	for _, mediaID := range update.MediaIDs {
		params.Add("media_ids[]", mediaID)
	}
	if update.Visibility != "" {
		params.Set("visibility", update.Visibility)
	}
	if update.Language != "" {
		params.Set("language", update.Language)
	}

	log.Debug().Str("statusId", id).Int("mediaCount", len(update.MediaIDs)).Msg("Updating status")

	var st Status
	if err := c.doForm(ctx, http.MethodPut, "/api/v1/statuses/"+url.PathEscape(id), params, &st); err != nil {
		return nil, fmt.Errorf("update status %s: %w", id, err)
	}
	log.Info().Str("statusId", id).Msg("Status updated")
	return &st, nil
}

// --- Internal helpers ---

// doForm sends a form-encoded request.
func (c *Client) doForm(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	paramNames := make([]string, 0, len(params))
	for key := range params {
		paramNames = append(paramNames, key)
	}
	log.Trace().Strs("formParams", paramNames).Msg("Form parameters")

	_, err := c.do(ctx, method, endpoint, strings.NewReader(params.Encode()), "application/x-www-form-urlencoded", out)
	return err
}

// doJSON sends a request without a body and decodes a JSON response.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	_, err := c.do(ctx, method, endpoint, body, "", out)
	return err
}

// do sends a request to the Mastodon API, returning the HTTP status code.
// Non-2xx responses become *APIError carrying the status and a bounded body.
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) (int, error) {
	startTime := time.Now()

	log.Debug().Str("method", method).Str("path", pathOnly(endpoint)).Msg("Mastodon API request")
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Mastodon API response")
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Mastodon API response")

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return httpResp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode: httpResp.StatusCode,
			Body:       truncate(string(respBody), maxErrorBody),
		}
		var payload errorResponse
		if json.Unmarshal(respBody, &payload) == nil {
			apiErr.Message = payload.Error
		}
		return httpResp.StatusCode, apiErr
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return httpResp.StatusCode, fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(respBody), 200))
		}
	}
	return httpResp.StatusCode, nil
}

// pathOnly strips the query string so logged paths never carry parameters.
func pathOnly(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

// truncate returns at most n bytes of s, cut on a rune boundary, appending
// "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
