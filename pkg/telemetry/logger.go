package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog.Logger that carries the service's field names. The
// embedded logger is used directly for writing; the With helpers derive
// children scoped to a pass, a work order or a storage backend.
type Logger struct {
	zerolog.Logger
}

// NewLogger builds the service logger from cfg.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zerolog.TimeFieldFormat = timeFieldFormat(cfg.TimeFormat)

	zctx := zerolog.New(out).Level(parseLogLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	return &Logger{zctx.Logger()}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zerolog.Nop()}
}

// Zerolog returns the underlying logger for packages that take one directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.Logger
}

// NewComponentLogger derives a logger tagged with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{l.With().Str("component", component).Logger()}
}

// WithPass scopes the logger to a scheduling pass.
func (l *Logger) WithPass(passID string) *Logger {
	return &Logger{l.With().Str("pass_id", passID).Logger()}
}

// WithWorkOrder scopes the logger to a work order.
func (l *Logger) WithWorkOrder(index int64) *Logger {
	return &Logger{l.With().Int64("work_order", index).Logger()}
}

// WithBackend scopes the logger to a storage backend.
func (l *Logger) WithBackend(storageID string) *Logger {
	return &Logger{l.With().Str("storage_id", storageID).Logger()}
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
}

// parseLogLevel maps a configured level name onto zerolog, defaulting to info.
func parseLogLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func timeFieldFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	case "unixmicro":
		return zerolog.TimeFormatUnixMicro
	default:
		return time.RFC3339
	}
}
