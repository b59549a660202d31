// Command alttext-lambda runs one scan cycle per invocation. It is meant to be
// triggered by an EventBridge schedule; the schedule replaces the poll loop.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/alttext-bot/internal/bootstrap"
	"github.com/fpang/alttext-bot/internal/config"
	"github.com/fpang/alttext-bot/internal/lambdaboot"
	"github.com/fpang/alttext-bot/internal/logging"
	"github.com/fpang/alttext-bot/internal/metrics"
	"github.com/fpang/alttext-bot/internal/scan"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var scanner *scan.Scanner

// Response summarizes the cycle for the invocation result.
type Response struct {
	CycleID             string `json:"cycleId"`
	PostsScanned        int    `json:"postsScanned"`
	PostsUpdated        int    `json:"postsUpdated"`
	PostsFailed         int    `json:"postsFailed"`
	AttachmentsEligible int    `json:"attachmentsEligible"`
	AttachmentsFixed    int    `json:"attachmentsFixed"`
	AttachmentsFailed   int    `json:"attachmentsFailed"`
	DurationMs          int64  `json:"durationMs"`
}

func handler(ctx context.Context, evt events.CloudWatchEvent) (Response, error) {
	log.Debug().Str("eventId", evt.ID).Str("source", evt.Source).Time("time", evt.Time).Msg("Scheduled invocation")

	report, err := scanner.RunCycle(ctx)
	resp := Response{
		CycleID:             report.ID,
		PostsScanned:        report.PostsScanned,
		PostsUpdated:        report.PostsUpdated,
		PostsFailed:         report.PostsFailed,
		AttachmentsEligible: report.AttachmentsEligible,
		AttachmentsFixed:    report.AttachmentsFixed,
		AttachmentsFailed:   report.AttachmentsFailed,
		DurationMs:          report.Duration.Milliseconds(),
	}
	if err != nil {
		log.Error().Err(err).Str("cycleId", report.ID).Msg("Scan cycle failed")
		return resp, err
	}
	return resp, nil
}

func main() {
	startTime := time.Now()
	logging.InitWithWriter(os.Stderr, false)
	ctx := context.Background()

	aws, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	loaded, err := lambdaboot.LoadSecrets(ctx, aws.SSM, lambdaboot.DefaultSecrets)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load secrets from SSM")
	}

	cfg, err := config.Load(config.NewViper())
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}

	scanner, err = bootstrap.NewScanner(ctx, cfg, metrics.NewEMF(os.Stdout))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	startup := bootstrap.StartupLogger("alttext-lambda", version, cfg)
	for envVar, param := range loaded {
		startup.SSMParam(envVar, param)
	}
	startup.InitDuration(time.Since(startTime)).Log()

	lambda.Start(handler)
}
