// Package config resolves the bot's runtime configuration from the process
// environment, an optional .env file, and command-line flags.
//
// Resolution order (later wins):
//  1. Built-in defaults
//  2. .env file in the working directory (ENV_FILE overrides the path)
//  3. Process environment
//  4. Flags bound with BindFlags
//
// The resolved Config is a plain value. Components receive the fields they
// need at construction and never read the environment themselves.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Provider names accepted by ALTTEXT_PROVIDER.
const (
	ProviderAzure  = "azure"
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
)

// Environment keys.
const (
	KeyMastodonBaseURL     = "MASTODON_BASE_URL"
	KeyMastodonAccessToken = "MASTODON_ACCESS_TOKEN"
	KeyProvider            = "ALTTEXT_PROVIDER"
	KeyOCR                 = "ALTTEXT_OCR"
	KeyAzureEndpoint       = "AZURE_VISION_ENDPOINT"
	KeyAzureKey            = "AZURE_VISION_KEY"
	KeyGeminiAPIKey        = "GEMINI_API_KEY"
	KeyGeminiModel         = "GEMINI_MODEL"
	KeyAnthropicAPIKey     = "ANTHROPIC_API_KEY"
	KeyAnthropicModel      = "ANTHROPIC_MODEL"
	KeyLanguage            = "ALTTEXT_LANGUAGE"
	KeyPollInterval        = "ALTTEXT_POLL_INTERVAL"
	KeyPostLimit           = "ALTTEXT_POST_LIMIT"
	KeyHTTPTimeout         = "ALTTEXT_HTTP_TIMEOUT"
	KeyProviderTimeout     = "ALTTEXT_PROVIDER_TIMEOUT"
	KeyKeywordRule         = "ALTTEXT_KEYWORD_RULE"
	KeyKeywordNote         = "ALTTEXT_KEYWORD_NOTE"
	KeyCleanReplies        = "ALTTEXT_CLEAN_REPLIES"
	KeyDryRun              = "ALTTEXT_DRY_RUN"
	KeyMetricsAddr         = "ALTTEXT_METRICS_ADDR"
)

// Defaults.
const (
	DefaultProvider        = ProviderAzure
	DefaultGeminiModel     = "gemini-2.5-flash"
	DefaultAnthropicModel  = "claude-sonnet-4-5"
	DefaultLanguage        = "en"
	DefaultPollInterval    = 5 * time.Minute
	DefaultPostLimit       = 20
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultProviderTimeout = 60 * time.Second

	// maxPostLimit is the largest page size Mastodon accepts for account statuses.
	maxPostLimit = 40
)

// Config is the resolved, validated configuration.
type Config struct {
	MastodonBaseURL     string
	MastodonAccessToken string

	Provider       string
	OCR            bool
	AzureEndpoint  string
	AzureKey       string
	GeminiAPIKey   string
	GeminiModel    string
	AnthropicKey   string
	AnthropicModel string

	Language        string
	PollInterval    time.Duration
	PostLimit       int
	HTTPTimeout     time.Duration
	ProviderTimeout time.Duration

	KeywordRule string
	KeywordNote string
	// CleanReplies strips fences, labels and enclosing quotes from model
	// replies. Off by default so replies are kept verbatim.
	CleanReplies bool

	DryRun      bool
	MetricsAddr string
}

// Error reports every configuration problem found during validation.
// It is always fatal: the bot never starts a scan cycle with a bad config.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// IsConfigError reports whether err is (or wraps) a configuration error.
func IsConfigError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}

// flagKeys maps cobra flag names to the environment keys they override.
var flagKeys = map[string]string{
	"provider": KeyProvider,
	"language": KeyLanguage,
	"interval": KeyPollInterval,
	"limit":    KeyPostLimit,
	"dry-run":  KeyDryRun,
}

// BindFlags makes the named flags override their environment equivalents.
// Flags that were not registered on fs are ignored.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flagName, key := range flagKeys {
		f := fs.Lookup(flagName)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flagName, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults registered and automatic
// environment lookup enabled. The .env file is loaded into the process
// environment first; a missing file is not an error.
func NewViper() *viper.Viper {
	loadEnvFile()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault(KeyProvider, DefaultProvider)
	v.SetDefault(KeyOCR, true)
	v.SetDefault(KeyGeminiModel, DefaultGeminiModel)
	v.SetDefault(KeyAnthropicModel, DefaultAnthropicModel)
	v.SetDefault(KeyLanguage, DefaultLanguage)
	v.SetDefault(KeyPollInterval, DefaultPollInterval)
	v.SetDefault(KeyPostLimit, DefaultPostLimit)
	v.SetDefault(KeyHTTPTimeout, DefaultHTTPTimeout)
	v.SetDefault(KeyProviderTimeout, DefaultProviderTimeout)
	v.SetDefault(KeyDryRun, false)
	v.SetDefault(KeyCleanReplies, false)

	// AutomaticEnv only resolves keys viper already knows about through
	// Get; binding makes the keys without defaults visible too.
	for _, key := range []string{
		KeyMastodonBaseURL, KeyMastodonAccessToken,
		KeyAzureEndpoint, KeyAzureKey,
		KeyGeminiAPIKey, KeyAnthropicAPIKey,
		KeyKeywordRule, KeyKeywordNote, KeyMetricsAddr,
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// loadEnvFile loads ENV_FILE or ./.env without overriding variables that
// are already set in the process environment.
func loadEnvFile() {
	path := ".env"
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		path = envFile
	}
	if err := godotenv.Load(path); err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", path).Msg("Failed to load env file, continuing with process environment")
		}
		return
	}
	log.Debug().Str("file", path).Msg("Loaded env file")
}

// Load resolves and validates configuration from v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		MastodonBaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString(KeyMastodonBaseURL)), "/"),
		MastodonAccessToken: strings.TrimSpace(v.GetString(KeyMastodonAccessToken)),
		Provider:            strings.ToLower(strings.TrimSpace(v.GetString(KeyProvider))),
		OCR:                 v.GetBool(KeyOCR),
		AzureEndpoint:       strings.TrimRight(strings.TrimSpace(v.GetString(KeyAzureEndpoint)), "/"),
		AzureKey:            strings.TrimSpace(v.GetString(KeyAzureKey)),
		GeminiAPIKey:        strings.TrimSpace(v.GetString(KeyGeminiAPIKey)),
		GeminiModel:         v.GetString(KeyGeminiModel),
		AnthropicKey:        strings.TrimSpace(v.GetString(KeyAnthropicAPIKey)),
		AnthropicModel:      v.GetString(KeyAnthropicModel),
		Language:            strings.ToLower(strings.TrimSpace(v.GetString(KeyLanguage))),
		PollInterval:        v.GetDuration(KeyPollInterval),
		PostLimit:           v.GetInt(KeyPostLimit),
		HTTPTimeout:         v.GetDuration(KeyHTTPTimeout),
		ProviderTimeout:     v.GetDuration(KeyProviderTimeout),
		KeywordRule:         v.GetString(KeyKeywordRule),
		KeywordNote:         v.GetString(KeyKeywordNote),
		CleanReplies:        v.GetBool(KeyCleanReplies),
		DryRun:              v.GetBool(KeyDryRun),
		MetricsAddr:         v.GetString(KeyMetricsAddr),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges, collecting every
// problem rather than stopping at the first.
func (c Config) Validate() error {
	var problems []string

	if c.MastodonBaseURL == "" {
		problems = append(problems, KeyMastodonBaseURL+" is required")
	} else if u, err := url.Parse(c.MastodonBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, KeyMastodonBaseURL+" must be an absolute URL")
	}
	if c.MastodonAccessToken == "" {
		problems = append(problems, KeyMastodonAccessToken+" is required")
	}

	switch c.Provider {
	case ProviderAzure:
		if c.AzureEndpoint == "" || c.AzureKey == "" {
			problems = append(problems, KeyAzureEndpoint+" and "+KeyAzureKey+" are required for the azure provider")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			problems = append(problems, KeyGeminiAPIKey+" is required for the gemini provider")
		}
	case ProviderClaude:
		if c.AnthropicKey == "" {
			problems = append(problems, KeyAnthropicAPIKey+" is required for the claude provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("%s must be one of azure, gemini, claude (got %q)", KeyProvider, c.Provider))
	}
	if c.OCR && c.Provider != ProviderAzure && (c.AzureEndpoint == "" || c.AzureKey == "") {
		problems = append(problems, KeyOCR+" needs "+KeyAzureEndpoint+" and "+KeyAzureKey+"; set "+KeyOCR+"=false to disable")
	}

	if c.PollInterval <= 0 {
		problems = append(problems, KeyPollInterval+" must be positive")
	}
	if c.PostLimit < 1 || c.PostLimit > maxPostLimit {
		problems = append(problems, fmt.Sprintf("%s must be between 1 and %d", KeyPostLimit, maxPostLimit))
	}
	if c.HTTPTimeout <= 0 {
		problems = append(problems, KeyHTTPTimeout+" must be positive")
	}
	if c.ProviderTimeout <= 0 {
		problems = append(problems, KeyProviderTimeout+" must be positive")
	}
	if (c.KeywordRule == "") != (c.KeywordNote == "") {
		problems = append(problems, KeyKeywordRule+" and "+KeyKeywordNote+" must be set together")
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

// KeywordRuleEnabled reports whether the keyword note rule is configured.
func (c Config) KeywordRuleEnabled() bool {
	return c.KeywordRule != "" && c.KeywordNote != ""
}
