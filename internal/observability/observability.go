// Package observability configures the process-wide structured logger and,
// when an OTLP endpoint is configured via the standard OTEL_* environment
// variables, bridges slog records into the OpenTelemetry log pipeline.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "github.com/identkit/dbident"

// loggerProvider is retained for flushing at shutdown.
var loggerProvider *sdklog.LoggerProvider

// Instrument installs the default slog logger with the given level and format
// ("text" or "json"). If log export is configured through the environment,
// records are additionally forwarded to the exporter, filtered to the same
// minimum severity.
func Instrument(level slog.Level, format string) error {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format: %s", format)
	}

	exporter, err := newExporter(context.Background())
	if err != nil {
		return fmt.Errorf("creating log exporter: %w", err)
	}
	if exporter != nil {
		processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(level))
		loggerProvider = sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))
		global.SetLoggerProvider(loggerProvider)

		bridge := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(loggerProvider))
		handler = fanoutHandler{handler, bridge}
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Shutdown flushes buffered log records. Safe to call when export was never
// configured.
func Shutdown(ctx context.Context) error {
	if loggerProvider == nil {
		return nil
	}
	return loggerProvider.Shutdown(ctx)
}

// newExporter builds the exporter selected by OTEL_LOGS_EXPORTER ("otlp" or
// "console"). Unset or "none" disables export entirely.
func newExporter(ctx context.Context) (sdklog.Exporter, error) {
	switch os.Getenv("OTEL_LOGS_EXPORTER") {
	case "otlp":
		if os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL") == "grpc" {
			return otlploggrpc.New(ctx)
		}
		return otlploghttp.New(ctx)
	case "console":
		return stdoutlog.New()
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown OTEL_LOGS_EXPORTER value: %s", os.Getenv("OTEL_LOGS_EXPORTER"))
	}
}

// severity maps an slog level onto the exporter-side minimum severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// fanoutHandler forwards each record to every wrapped handler.
type fanoutHandler []slog.Handler

var _ slog.Handler = (fanoutHandler)(nil)

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, hh := range h {
		if hh.Enabled(ctx, record.Level) {
			if err := hh.Handle(ctx, record.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, hh := range h {
		next[i] = hh.WithAttrs(attrs)
	}
	return next
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, hh := range h {
		next[i] = hh.WithGroup(name)
	}
	return next
}
