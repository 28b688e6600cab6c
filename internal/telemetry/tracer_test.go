package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Thejas-AM/consuma-api/internal/pkg/config"
)

func TestInitTracer_Disabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := initTracer(config.TelemetryConfig{Enabled: false}, &buf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("initTracer() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("disabled tracer wrote %q", buf.String())
	}
}

func TestInitTracer_ExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		otel.SetTextMapPropagator(prevProp)
	})

	var buf bytes.Buffer
	shutdown, err := initTracer(config.TelemetryConfig{Enabled: true, ServiceName: "consuma-test"},
		&buf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("initTracer() error = %v", err)
	}

	ctx, span := otel.Tracer("test").Start(context.Background(), "unit-span")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if carrier.Get("traceparent") == "" {
		t.Error("propagator did not inject traceparent")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "unit-span") || !strings.Contains(out, "consuma-test") {
		t.Errorf("exported spans missing name or service: %s", out)
	}
}
