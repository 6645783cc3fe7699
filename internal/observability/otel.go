// Package observability configures OpenTelemetry tracing for the journal
// backend: an OTLP gRPC exporter, a parent-based ratio sampler, and a
// resource describing which store and AI provider this process runs with.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-journal-backend/internal/config"
)

// Build describes the running binary and its main backends. Empty fields are
// left out of the trace resource.
type Build struct {
	Version     string
	DBDriver    string // sqlite|postgres
	LLMProvider string // openai|ollama
	BlobStore   string // s3|local
}

// Test seams.
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, serviceName string, b Build) (*resource.Resource, error) {
		return resource.New(ctx, resource.WithAttributes(resourceAttributes(serviceName, b)...))
	}
)

// resourceAttributes lists the attributes attached to every exported span.
func resourceAttributes(serviceName string, b Build) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if b.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(b.Version))
	}
	if b.DBDriver != "" {
		attrs = append(attrs, attribute.String("journal.db.driver", b.DBDriver))
	}
	if b.LLMProvider != "" {
		attrs = append(attrs, attribute.String("journal.llm.provider", b.LLMProvider))
	}
	if b.BlobStore != "" {
		attrs = append(attrs, attribute.String("journal.blob.store", b.BlobStore))
	}
	return attrs
}

// SetupOTel configures OpenTelemetry tracing and returns a shutdown function.
// With tracing disabled it installs nothing and returns a no-op shutdown.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, b Build) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		creds := credentials.NewClientTLSFromCert(nil, "")
		opts = append(opts, otlptracegrpc.WithTLSCredentials(creds))
	}

	exp, err := newOTLPExporterFn(ctx, newOTLPClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := newServiceResourceFn(ctx, cfg.ServiceName, b)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
