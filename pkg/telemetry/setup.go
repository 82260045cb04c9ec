package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by Setup.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Options configures the global providers installed by Setup.
type Options struct {
	Exporter       string
	MetricInterval time.Duration
	// Writer receives stdout exports. Defaults to os.Stdout.
	Writer io.Writer
}

// Providers are the SDK providers installed as the OTel globals.
type Providers struct {
	Meter  *sdkmetric.MeterProvider
	Tracer *sdktrace.TracerProvider
}

// Setup installs SDK meter and tracer providers as the OTel globals, so
// NewRecorder and NewSpanManager created afterwards record through them.
// With ExporterNone the providers aggregate but nothing is exported.
func Setup(opts Options) (*Providers, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	var (
		meterOpts  []sdkmetric.Option
		tracerOpts []sdktrace.TracerProviderOption
	)
	switch opts.Exporter {
	case ExporterNone, "":
	case ExporterStdout:
		me, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("metric exporter: %w", err)
		}
		var readerOpts []sdkmetric.PeriodicReaderOption
		if opts.MetricInterval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(opts.MetricInterval))
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(me, readerOpts...)))

		te, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		tracerOpts = append(tracerOpts, sdktrace.WithBatcher(te))
	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q", opts.Exporter)
	}

	p := &Providers{
		Meter:  sdkmetric.NewMeterProvider(meterOpts...),
		Tracer: sdktrace.NewTracerProvider(tracerOpts...),
	}
	otel.SetMeterProvider(p.Meter)
	otel.SetTracerProvider(p.Tracer)
	return p, nil
}

// Shutdown flushes pending exports and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.Tracer.Shutdown(ctx), p.Meter.Shutdown(ctx))
}
