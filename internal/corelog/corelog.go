// Package corelog provides the structured logger every engine component
// logs through. It wraps zerolog the way a production Go service in this
// stack typically does: a process-wide base logger, component-scoped
// children, and an optional rotating file sink for long-running daemons.
package corelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors the handful of severities the engine actually emits.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how the global logger is constructed.
type Config struct {
	Level Level
	// JSON selects structured JSON output; otherwise a human console
	// writer is used (matches local-dev vs production behavior).
	JSON bool
	// RotatingFile, if non-nil, tees output to a lumberjack-rotated file
	// in addition to Output.
	RotatingFile *lumberjack.Logger
	// Output overrides the primary writer; defaults to stderr.
	Output io.Writer
}

// Logger is the process-wide base logger, safe to derive children from
// concurrently.
var Logger zerolog.Logger

func init() {
	Init(Config{Level: InfoLevel})
}

// Init (re)configures the global logger. Called once at process startup;
// tests may call it again to redirect output.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.RotatingFile != nil {
		out = io.MultiWriter(out, cfg.RotatingFile)
	}

	if cfg.JSON {
		Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
}

// Component returns a child logger tagged with the emitting component, e.g.
// "idmap", "dag", "bookmarks", "derived".
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithRepo further scopes a component logger to a single repository.
func WithRepo(l zerolog.Logger, repoId int64) zerolog.Logger {
	return l.With().Int64("repo_id", repoId).Logger()
}

// WithSession scopes a logger to the session id carried by a CoreContext.
func WithSession(l zerolog.Logger, sessionID string) zerolog.Logger {
	if sessionID == "" {
		return l
	}
	return l.With().Str("session_id", sessionID).Logger()
}
