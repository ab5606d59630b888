package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Logger is the process-wide logger. It discards output until
	// Initialize is called, which keeps library and test use quiet.
	Logger = zerolog.Nop()
)

// Initialize sets up the global logger writing human-readable lines to out
// (stdout when nil) at the given level.
func Initialize(logLevel string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	if out == nil {
		out = os.Stdout
	}
	consoleWriter := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
	}

	Logger = zerolog.New(consoleWriter).
		With().
		Timestamp().
		Logger()

	zerolog.SetGlobalLevel(ParseLevel(logLevel))

	// Replace standard log with zerolog
	log.Logger = Logger
}

// InitializeJSON sets up the global logger emitting JSON lines, for
// deployments whose log shipper parses structured output.
func InitializeJSON(logLevel string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	if out == nil {
		out = os.Stdout
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(ParseLevel(logLevel))
	log.Logger = Logger
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(logLevel string) zerolog.Level {
	switch logLevel {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetForComponent returns a logger with a component field for better filtering
func GetForComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
