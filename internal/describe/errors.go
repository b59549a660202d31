package describe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/alttext-bot/internal/azurevision"
)

// ErrEmptyResponse is returned by providers whose response carried no usable
// content at all (as opposed to an empty caption list).
var ErrEmptyResponse = errors.New("provider returned an empty response")

// ErrorKind categorizes provider failures.
type ErrorKind int

const (
	// KindUnknown is any failure not covered below.
	KindUnknown ErrorKind = iota
	// KindTimeout means the call did not finish within its time limit.
	KindTimeout
	// KindQuota means the provider rate limited or rejected for quota.
	KindQuota
	// KindAuth means the credentials were rejected.
	KindAuth
	// KindMalformed means the provider answered with something unparseable
	// or rejected the request as malformed.
	KindMalformed
	// KindUnavailable means a network or server-side failure.
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindQuota:
		return "quota"
	case KindAuth:
		return "auth"
	case KindMalformed:
		return "malformed"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ProviderError is a classified failure from one description provider.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is (or wraps) a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// Classify wraps err in a *ProviderError for the named provider. Errors that
// are already classified are returned unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	kind := classifyKind(err)
	log.Debug().Err(err).Str("provider", provider).Str("kind", kind.String()).Msg("Provider error classified")
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

func classifyKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, ErrEmptyResponse) {
		return KindMalformed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindMalformed
	}

	var azureErr *azurevision.APIError
	if errors.As(err, &azureErr) {
		return kindFromStatus(azureErr.StatusCode)
	}
	// genai returns APIError by value.
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return kindFromStatus(geminiErr.Code)
	}
	var geminiErrPtr *genai.APIError
	if errors.As(err, &geminiErrPtr) {
		return kindFromStatus(geminiErrPtr.Code)
	}
	var claudeErr *anthropic.Error
	if errors.As(err, &claudeErr) {
		return kindFromStatus(claudeErr.StatusCode)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "permission denied") ||
		strings.Contains(errLower, "unauthorized"):
		return KindAuth
	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return KindQuota
	case strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return KindUnavailable
	default:
		return KindUnknown
	}
}

func kindFromStatus(code int) ErrorKind {
	switch {
	case code == 400 || code == 415 || code == 422:
		return KindMalformed
	case code == 401 || code == 403:
		return KindAuth
	case code == 408:
		return KindTimeout
	case code == 429:
		return KindQuota
	case code >= 500:
		return KindUnavailable
	default:
		return KindUnknown
	}
}
