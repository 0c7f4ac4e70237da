// pkg/logging/logging.go
package logging

import (
	"io"
	stdLog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// stdLogWriter forwards stdlib log output (used by some dependencies) to zerolog at debug level.
type stdLogWriter struct {
	logger zerolog.Logger
}

func (w *stdLogWriter) Write(p []byte) (n int, err error) {
	w.logger.Debug().Str("source", "stdlog").Msg(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// init keeps library code quiet until the CLI configures logging.
func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = zerolog.New(consoleWriter(os.Stderr)).With().Timestamp().Logger()
}

// ConfigureGlobalLogging configures the global logger to write to w, which
// is stderr for the CLI so stdout carries only results. format is "text"
// for a console writer or "json" for raw zerolog output.
func ConfigureGlobalLogging(w io.Writer, levelStr, format string) error {
	level, err := ParseLevel(levelStr)
	if err != nil {
		return err
	}
	ConfigureGlobal(w, level, format)
	return nil
}

// ConfigureGlobal sets the global level and rebuilds log.Logger.
func ConfigureGlobal(w io.Writer, level zerolog.Level, format string) {
	zerolog.SetGlobalLevel(level)

	if format != "json" {
		w = consoleWriter(w)
	}

	logContext := zerolog.New(w).With().Timestamp()
	if level <= zerolog.DebugLevel {
		logContext = logContext.Caller()
	}

	log.Logger = logContext.Logger().Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	stdLog.SetFlags(0)
	stdLog.SetOutput(&stdLogWriter{logger: log.Logger})
}

// ParseLevel converts a level name into a zerolog.Level. An empty string
// selects warn.
func ParseLevel(levelString string) (zerolog.Level, error) {
	if levelString == "" {
		return zerolog.WarnLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(levelString))
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    noColor(),
	}
}

func noColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}
