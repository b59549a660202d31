// Package bootstrap wires the bot's components from a resolved configuration.
// Both entry points (the CLI loop and the Lambda handler) build through here,
// so provider selection lives in exactly one place.
package bootstrap

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/alttext-bot/internal/azurevision"
	"github.com/fpang/alttext-bot/internal/config"
	"github.com/fpang/alttext-bot/internal/describe"
	"github.com/fpang/alttext-bot/internal/logging"
	"github.com/fpang/alttext-bot/internal/mastodon"
	"github.com/fpang/alttext-bot/internal/media"
	"github.com/fpang/alttext-bot/internal/metrics"
	"github.com/fpang/alttext-bot/internal/posttext"
	"github.com/fpang/alttext-bot/internal/republish"
	"github.com/fpang/alttext-bot/internal/scan"
)

// NewGenerator builds the description strategy selected by cfg.Provider,
// with Azure OCR and the keyword rule layered on when enabled.
func NewGenerator(ctx context.Context, cfg config.Config) (*describe.Generator, error) {
	var vision *azurevision.Client
	if cfg.Provider == config.ProviderAzure || cfg.OCR {
		vision = azurevision.NewClient(cfg.AzureEndpoint, cfg.AzureKey, cfg.HTTPTimeout)
	}

	var primary describe.Captioner
	switch cfg.Provider {
	case config.ProviderAzure:
		primary = describe.NewAzureCaptioner(vision)
	case config.ProviderGemini:
		client, err := describe.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		primary = describe.NewGeminiDescriber(client.Models, cfg.GeminiModel)
	case config.ProviderClaude:
		primary = describe.NewClaudeDescriber(describe.NewClaudeMessages(cfg.AnthropicKey), cfg.AnthropicModel)
	default:
		return nil, fmt.Errorf("unknown description provider %q", cfg.Provider)
	}

	opts := []describe.Option{describe.WithCallTimeout(cfg.ProviderTimeout)}
	if cfg.OCR {
		opts = append(opts, describe.WithTextExtractor(describe.NewAzureOCR(vision)))
	}
	if rules := Rules(cfg); len(rules) > 0 {
		opts = append(opts, describe.WithRules(rules...))
	}

	gen := describe.NewGenerator(primary, opts...)
	log.Debug().Strs("providers", gen.Providers()).Bool("keywordRule", cfg.KeywordRuleEnabled()).Bool("cleanReplies", cfg.CleanReplies).Msg("Description generator built")
	return gen, nil
}

// Rules returns the configured post-processing rules in application order.
// Reply cleanup runs first so the keyword rule sees the cleaned text.
func Rules(cfg config.Config) []describe.Rule {
	var rules []describe.Rule
	if cfg.CleanReplies {
		rules = append(rules, describe.ReplyCleanupRule{})
	}
	if cfg.KeywordRuleEnabled() {
		rules = append(rules, describe.KeywordNoteRule{Keyword: cfg.KeywordRule, Note: cfg.KeywordNote})
	}
	return rules
}

// NewScanner builds a Scanner and every collaborator it needs.
func NewScanner(ctx context.Context, cfg config.Config, observer metrics.Observer) (*scan.Scanner, error) {
	gen, err := NewGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := mastodon.NewClient(cfg.MastodonBaseURL, cfg.MastodonAccessToken, cfg.HTTPTimeout)
	return scan.New(
		client,
		media.NewFetcher(cfg.HTTPTimeout),
		gen,
		posttext.NewReconstructor(client),
		republish.New(client),
		scan.Options{
			PostLimit: cfg.PostLimit,
			Interval:  cfg.PollInterval,
			Language:  describe.ParseLanguage(cfg.Language),
			DryRun:    cfg.DryRun,
			Provider:  strings.Join(gen.Providers(), "+"),
			Observer:  observer,
		},
	), nil
}

// StartupLogger returns a startup summary pre-filled with the non-secret
// configuration and the presence of each credential.
func StartupLogger(name, version string, cfg config.Config) *logging.StartupLogger {
	return logging.NewStartupLogger(name).
		Version(version).
		Config("instance", cfg.MastodonBaseURL).
		Config("provider", cfg.Provider).
		Config("language", cfg.Language).
		Config("pollInterval", cfg.PollInterval.String()).
		Config("postLimit", strconv.Itoa(cfg.PostLimit)).
		Config("geminiModel", cfg.GeminiModel).
		Config("anthropicModel", cfg.AnthropicModel).
		Secret("mastodonToken", cfg.MastodonAccessToken).
		Secret("azureKey", cfg.AzureKey).
		Secret("geminiKey", cfg.GeminiAPIKey).
		Secret("anthropicKey", cfg.AnthropicKey).
		Feature("ocr", cfg.OCR).
		Feature("keywordRule", cfg.KeywordRuleEnabled()).
		Feature("cleanReplies", cfg.CleanReplies).
		Feature("dryRun", cfg.DryRun)
}
