// Package logging configures the global zerolog logger and the cold-start
// summary each Lambda emits.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnvVar names the environment variable holding the log level.
const LevelEnvVar = "LOG_LEVEL"

// Init sets the global level from LOG_LEVEL (debug, info, warn, error;
// default info). Inside Lambda the logger writes JSON lines so CloudWatch
// Logs Insights can query fields; elsewhere it uses the console writer.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(LevelEnvVar)))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ForImage returns a child of the global logger tagged with the image identity.
func ForImage(ownerID, imageID string) zerolog.Logger {
	return log.With().Str("ownerId", ownerID).Str("imageId", imageID).Logger()
}
