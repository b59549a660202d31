// Package lambdaboot provides the Lambda cold-start bootstrap: AWS config and
// secrets from SSM Parameter Store.
//
// Secrets are copied into the process environment before configuration is
// resolved, so the Lambda and the CLI share one configuration path.
package lambdaboot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/alttext-bot/internal/config"
)

// AWSClients holds the AWS SDK clients the Lambda uses.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with an SSM client.
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}, nil
}

// ParameterGetter is the subset of the SSM client used to read secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Secret maps an SSM parameter onto an environment variable.
type Secret struct {
	// EnvVar receives the secret value.
	EnvVar string
	// ParamEnvVar optionally overrides DefaultParam with a parameter name
	// taken from the environment.
	ParamEnvVar  string
	DefaultParam string
	// Required secrets fail the cold start when they cannot be read.
	Required bool
}

// DefaultSecrets are the secrets the bot reads from SSM when they are not set
// in the Lambda environment.
var DefaultSecrets = []Secret{
	{EnvVar: config.KeyMastodonAccessToken, ParamEnvVar: "SSM_MASTODON_TOKEN_PARAM", DefaultParam: "/alttext-bot/prod/mastodon-access-token", Required: true},
	{EnvVar: config.KeyAzureKey, ParamEnvVar: "SSM_AZURE_KEY_PARAM", DefaultParam: "/alttext-bot/prod/azure-vision-key"},
	{EnvVar: config.KeyGeminiAPIKey, ParamEnvVar: "SSM_GEMINI_KEY_PARAM", DefaultParam: "/alttext-bot/prod/gemini-api-key"},
	{EnvVar: config.KeyAnthropicAPIKey, ParamEnvVar: "SSM_ANTHROPIC_KEY_PARAM", DefaultParam: "/alttext-bot/prod/anthropic-api-key"},
}

// LoadSecrets fills each secret's environment variable from SSM unless it is
// already set. Missing optional secrets are logged and skipped; whether they
// are needed is decided later by configuration validation. The returned map
// holds the parameter names that were read, for the startup log.
func LoadSecrets(ctx context.Context, getter ParameterGetter, secrets []Secret) (map[string]string, error) {
	loaded := make(map[string]string)
	var errs []error
	for _, s := range secrets {
		if os.Getenv(s.EnvVar) != "" {
			continue
		}
		paramName := s.DefaultParam
		if s.ParamEnvVar != "" {
			if override := os.Getenv(s.ParamEnvVar); override != "" {
				paramName = override
			}
		}

		start := time.Now()
		result, err := getter.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(paramName),
			WithDecryption: aws.Bool(true),
		})
		if err == nil && (result.Parameter == nil || result.Parameter.Value == nil) {
			err = errors.New("parameter has no value")
		}
		if err != nil {
			if s.Required {
				errs = append(errs, fmt.Errorf("read %s from SSM parameter %s: %w", s.EnvVar, paramName, err))
				continue
			}
			log.Debug().Err(err).Str("param", paramName).Str("envVar", s.EnvVar).Msg("Optional secret not found in SSM")
			continue
		}

		if err := os.Setenv(s.EnvVar, *result.Parameter.Value); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", s.EnvVar, err))
			continue
		}
		loaded[s.EnvVar] = paramName
		log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	}
	return loaded, errors.Join(errs...)
}
