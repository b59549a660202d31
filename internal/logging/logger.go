package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnvVar names the environment variable that selects the log level.
const LevelEnvVar = "ALTTEXT_LOG_LEVEL"

// Init initializes the global logger with configuration from environment variables.
// ALTTEXT_LOG_LEVEL controls the log level: trace, debug, info, warn, error (default: info)
func Init() {
	InitWithWriter(os.Stderr, true)
}

// InitWithWriter is Init with an explicit destination. Lambda runtimes pass
// console=false so CloudWatch receives one JSON object per line.
func InitWithWriter(w io.Writer, console bool) {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(LevelEnvVar)))

	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
