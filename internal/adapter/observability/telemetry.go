package observability

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ServiceName    = "stock-workflow"
	ServiceVersion = "1.0.0"

	tracesPath = "/v1/traces"
	logsPath   = "/v1/logs"

	instrumentationScope = "github.com/rl1809/stock-workflow"
)

type Options struct {
	// Endpoint is the OTLP/HTTP collector as host:port. Empty disables export.
	Endpoint string
	Insecure bool
}

// Telemetry owns the trace and log providers installed by Setup.
type Telemetry struct {
	logProvider   *sdklog.LoggerProvider
	shutdownFuncs []func(context.Context) error
}

// Setup installs global trace and log providers exporting to opts.Endpoint.
// Without an endpoint the global no-op providers stay in place. The returned
// Telemetry is never nil, so Shutdown is always safe to call.
func Setup(ctx context.Context, opts Options) (*Telemetry, error) {
	t := &Telemetry{}
	if opts.Endpoint == "" {
		return t, nil
	}

	// no schema URL: the SDK detectors carry their own semconv version
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return t, fmt.Errorf("create resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(opts.Endpoint),
		otlptracehttp.WithURLPath(tracesPath),
	}
	logOpts := []otlploghttp.Option{
		otlploghttp.WithEndpoint(opts.Endpoint),
		otlploghttp.WithURLPath(logsPath),
	}
	if opts.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		logOpts = append(logOpts, otlploghttp.WithInsecure())
	}

	var setupErr error
	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		setupErr = errors.Join(setupErr, fmt.Errorf("trace exporter: %w", err))
	} else {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExporter),
		)
		otel.SetTracerProvider(tp)
		t.shutdownFuncs = append(t.shutdownFuncs, tp.Shutdown)
	}

	logExporter, err := otlploghttp.New(ctx, logOpts...)
	if err != nil {
		setupErr = errors.Join(setupErr, fmt.Errorf("log exporter: %w", err))
	} else {
		lp := sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		)
		global.SetLoggerProvider(lp)
		t.logProvider = lp
		t.shutdownFuncs = append(t.shutdownFuncs, lp.Shutdown)
	}

	return t, setupErr
}

// Shutdown flushes and stops the providers in reverse order of creation.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var err error
	for i := len(t.shutdownFuncs) - 1; i >= 0; i-- {
		err = errors.Join(err, t.shutdownFuncs[i](ctx))
	}
	t.shutdownFuncs = nil
	return err
}

// NewLogger builds a JSON logger at level writing to stdout. When t exports
// logs, every entry is also sent through the OTLP bridge.
func NewLogger(level string, t *Telemetry) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(os.Stdout), lvl)
	if t != nil && t.logProvider != nil {
		bridge := otelzap.NewCore(instrumentationScope, otelzap.WithLoggerProvider(t.logProvider))
		core = zapcore.NewTee(core, levelCore{Core: bridge, level: lvl})
	}

	return zap.New(core, zap.AddCaller()).With(zap.String("service", ServiceName)), nil
}

// levelCore drops entries below level before they reach the wrapped core.
type levelCore struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func (c levelCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c levelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c levelCore) With(fields []zapcore.Field) zapcore.Core {
	return levelCore{Core: c.Core.With(fields), level: c.level}
}
