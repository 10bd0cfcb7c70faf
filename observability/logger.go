package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds a logger writing to stdout.
// For production, use JSON format; for development, use text format
func NewLogger(production bool, level slog.Level) *slog.Logger {
	return NewLoggerTo(os.Stdout, production, level)
}

// NewLoggerTo builds a logger writing to w
func NewLoggerTo(w io.Writer, production bool, level slog.Level) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if production {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// OrDefault returns logger, or slog.Default() when logger is nil
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// WithStock returns a logger with stock_id field
func WithStock(logger *slog.Logger, stockID string) *slog.Logger {
	return OrDefault(logger).With("stock_id", stockID)
}

// WithStage returns a logger with stage field
func WithStage(logger *slog.Logger, stage string) *slog.Logger {
	return OrDefault(logger).With("stage", stage)
}

// WithRun returns a logger with run_id and date fields
func WithRun(logger *slog.Logger, runID, date string) *slog.Logger {
	return OrDefault(logger).With("run_id", runID, "date", date)
}
