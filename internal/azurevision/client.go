// Package azurevision is a minimal client for the Azure AI Vision v3.2 REST
// API: image description (captions) and printed-text OCR. Images are always
// sent as bytes so private or short-lived attachment URLs work.
package azurevision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	apiVersionPath = "/vision/v3.2"
	defaultTimeout = 30 * time.Second
)

// Client calls one Azure AI Vision resource.
type Client struct {
	httpClient *http.Client
	endpoint   string
	key        string
}

// NewClient creates a client for the resource at endpoint
// (e.g. "https://myresource.cognitiveservices.azure.com").
func NewClient(endpoint, key string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   strings.TrimRight(endpoint, "/"),
		key:        key,
	}
}

// Caption is one candidate description of an image.
type Caption struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type analyzeResponse struct {
	Description struct {
		Tags     []string  `json:"tags"`
		Captions []Caption `json:"captions"`
	} `json:"description"`
	RequestID string `json:"requestId"`
}

// OCRResult is the printed-text layout Azure returns: regions contain lines,
// lines contain words, all in reading order.
type OCRResult struct {
	Language string      `json:"language"`
	Regions  []OCRRegion `json:"regions"`
}

// OCRRegion is a block of text.
type OCRRegion struct {
	BoundingBox string    `json:"boundingBox"`
	Lines       []OCRLine `json:"lines"`
}

// OCRLine is one line of text within a region.
type OCRLine struct {
	BoundingBox string    `json:"boundingBox"`
	Words       []OCRWord `json:"words"`
}

// OCRWord is one recognised word.
type OCRWord struct {
	BoundingBox string `json:"boundingBox"`
	Text        string `json:"text"`
}

// APIError is a non-success response from Azure AI Vision.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Azure Vision API error: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("Azure Vision API error: HTTP %d: %s", e.StatusCode, e.Message)
}

type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Describe returns up to maxCandidates captions for the image, best first.
// language is an Azure description language code ("en", "es", "ja", "pt", "zh").
func (c *Client) Describe(ctx context.Context, image []byte, language string, maxCandidates int) ([]Caption, error) {
	params := url.Values{
		"visualFeatures": {"Description"},
		"language":       {language},
	}
	if maxCandidates > 0 {
		params.Set("maxCandidates", fmt.Sprint(maxCandidates))
	}

	var resp analyzeResponse
	if err := c.post(ctx, "/analyze?"+params.Encode(), image, &resp); err != nil {
		return nil, fmt.Errorf("describe image: %w", err)
	}
	log.Debug().
		Str("requestId", resp.RequestID).
		Int("captions", len(resp.Description.Captions)).
		Msg("Azure describe complete")
	return resp.Description.Captions, nil
}

// RecognizePrintedText runs OCR on the image with automatic language detection.
func (c *Client) RecognizePrintedText(ctx context.Context, image []byte) (*OCRResult, error) {
	params := url.Values{
		"language":          {"unk"},
		"detectOrientation": {"true"},
	}

	var resp OCRResult
	if err := c.post(ctx, "/ocr?"+params.Encode(), image, &resp); err != nil {
		return nil, fmt.Errorf("recognize printed text: %w", err)
	}
	log.Debug().
		Str("language", resp.Language).
		Int("regions", len(resp.Regions)).
		Msg("Azure OCR complete")
	return &resp, nil
}

func (c *Client) post(ctx context.Context, endpoint string, image []byte, out any) error {
	startTime := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+apiVersionPath+endpoint, bytes.NewReader(image))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	req.Header.Set("Content-Type", "application/octet-stream")

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Azure Vision API response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Message: strings.TrimSpace(string(body))}
		var env errorEnvelope
		if json.Unmarshal(body, &env) == nil {
			switch {
			case env.Error != nil:
				apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
			case env.Code != "":
				apiErr.Code, apiErr.Message = env.Code, env.Message
			}
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
