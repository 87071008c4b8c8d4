// Package log builds the process logger: zerolog output behind a log/slog
// front, bridged through logr.
package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

var ErrInvalidLevel = errors.New("invalid log level")

// Format selects the zerolog writer.
type Format string

const (
	// FormatAuto writes JSON inside Kubernetes and console output elsewhere.
	FormatAuto    Format = ""
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// verbosity maps level names to the highest logr V-level that is emitted.
// slog debug records arrive as V(4).
var verbosity = map[string]int{
	"debug": 4,
	"info":  0,
	"warn":  0,
}

// DetectFormat returns JSON inside Kubernetes and console elsewhere.
func DetectFormat() Format {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return FormatJSON
	}
	return FormatConsole
}

// New returns a logger writing to stdout, or stderr for JSON.
func New(level string, format Format) (*slog.Logger, error) {
	if format == FormatAuto {
		format = DetectFormat()
	}
	var out io.Writer = os.Stdout
	if format == FormatJSON {
		out = os.Stderr
	}
	return NewWithWriter(out, level, format)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, level string, format Format) (*slog.Logger, error) {
	zl, err := Zerolog(w, level, format)
	if err != nil {
		return nil, err
	}
	return slog.New(logr.ToSlogHandler(zerologr.New(zl))), nil
}

// Zerolog returns the underlying zerolog logger.
func Zerolog(w io.Writer, level string, format Format) (*zerolog.Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"

	switch format {
	case FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02T15:04:05.000Z07:00"}
	case FormatJSON, FormatAuto:
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	lvl, err := zerologLevel(level)
	if err != nil {
		return nil, err
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &zl, nil
}

// zerologLevel converts a level name and raises zerolog's global level to
// match. zerologr logs V(n) at zerolog level 1-n, so debug has to reach
// below zerolog's trace level.
func zerologLevel(level string) (zerolog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "" {
		name = "info"
	}
	if name == "error" {
		zerologr.SetMaxV(0)
		return zerolog.ErrorLevel, nil
	}
	v, ok := verbosity[name]
	if !ok {
		return zerolog.NoLevel, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	zerologr.SetMaxV(v)
	return zerolog.Level(1 - v), nil
}
