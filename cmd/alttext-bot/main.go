package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/alttext-bot/internal/bootstrap"
	"github.com/fpang/alttext-bot/internal/config"
	"github.com/fpang/alttext-bot/internal/logging"
	"github.com/fpang/alttext-bot/internal/metrics"
	"github.com/fpang/alttext-bot/internal/scan"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLI flags
var (
	onceFlag     bool
	scheduleFlag string
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "alttext-bot",
	Short: "Add alt text to images in your recent Mastodon posts",
	Long: `alttext-bot scans the most recent posts of the account that owns
MASTODON_ACCESS_TOKEN, generates a description for every image attachment that
has none, and edits each post so its images carry the description. Post text,
visibility, content warning, sensitivity and language are left unchanged.

Configuration is read from the environment and an optional .env file; the
flags below override their environment equivalents.

Examples:
  alttext-bot                          # scan every 5 minutes until interrupted
  alttext-bot --once --dry-run         # one pass, print descriptions, change nothing
  alttext-bot --provider gemini --language fr --interval 10m
  alttext-bot --schedule "*/15 * * * *"`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().BoolVar(&onceFlag, "once", false, "Run a single scan cycle and exit")
	rootCmd.Flags().StringVar(&scheduleFlag, "schedule", "", `Cron schedule instead of a fixed interval (e.g. "@every 10m", "0 * * * *")`)
	rootCmd.Flags().Bool("dry-run", false, "Generate descriptions without uploading or editing posts")
	rootCmd.Flags().Int("limit", config.DefaultPostLimit, "Number of recent posts to scan per cycle")
	rootCmd.Flags().Duration("interval", config.DefaultPollInterval, "Delay between scan cycles")
	rootCmd.Flags().StringP("language", "l", config.DefaultLanguage, "Description language (en or fr)")
	rootCmd.Flags().StringP("provider", "p", config.DefaultProvider, "Description provider (azure, gemini, claude)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) {
	startTime := time.Now()
	logging.Init()

	v := config.NewViper()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind flags")
	}
	cfg, err := config.Load(v)
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}
	if onceFlag && scheduleFlag != "" {
		log.Fatal().Msg("--once and --schedule cannot be combined")
	}
	if scheduleFlag != "" {
		if err := scan.ValidateSchedule(scheduleFlag); err != nil {
			log.Fatal().Err(err).Msg("Configuration error")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observer metrics.Observer = metrics.Nop{}
	if cfg.MetricsAddr != "" {
		observer = startMetricsServer(ctx, cfg.MetricsAddr)
	}

	scanner, err := bootstrap.NewScanner(ctx, cfg, observer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	bootstrap.StartupLogger("alttext-bot", version, cfg).
		Config("metricsAddr", cfg.MetricsAddr).
		Config("schedule", scheduleFlag).
		Feature("once", onceFlag).
		InitDuration(time.Since(startTime)).
		Log()

	switch {
	case onceFlag:
		report, err := scanner.RunCycle(ctx)
		if err != nil {
			log.Error().Err(err).Str("cycleId", report.ID).Msg("Scan cycle failed")
			os.Exit(1)
		}
	case scheduleFlag != "":
		err = scanner.RunScheduled(ctx, scheduleFlag)
	default:
		err = scanner.Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Scanner stopped")
	}
	log.Info().Msg("Shutting down")
}

// startMetricsServer serves Prometheus metrics on addr until ctx is done.
func startMetricsServer(ctx context.Context, addr string) metrics.Observer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := metrics.NewPrometheus(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return prom
}
