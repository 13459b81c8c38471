package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/booksapi/release-pipeline/internal/config"
)

func TestInitTracer_ExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, err := InitTracer(config.TelemetryConfig{Enabled: true, ServiceName: "books-release-pipeline"}, &buf, logger)
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "hook.validate")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "hook.validate") || !strings.Contains(out, "books-release-pipeline") {
		t.Errorf("exported spans = %q", out)
	}
}

func TestInitTracer_Disabled(t *testing.T) {
	prev := otel.GetTracerProvider()

	shutdown, err := InitTracer(config.TelemetryConfig{}, nil, slog.Default())
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error = %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Error("disabled tracing replaced the provider")
	}
}
