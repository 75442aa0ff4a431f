package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("InitTracing() error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error: %v", err)
	}
}

func recordSpan(t *testing.T, fn func(tp *sdktrace.TracerProvider)) []sdktrace.ReadOnlySpan {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	fn(tp)
	return rec.Ended()
}

func TestFinishSpanStatus(t *testing.T) {
	spans := recordSpan(t, func(tp *sdktrace.TracerProvider) {
		_, ok := tp.Tracer("t").Start(context.Background(), "ok")
		FinishSpan(ok, nil)
		ok.End()
		_, bad := tp.Tracer("t").Start(context.Background(), "bad")
		FinishSpan(bad, errors.New("ffmpeg exited 1"))
		bad.End()
	})
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("ok span status = %v", spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "ffmpeg exited 1" {
		t.Errorf("bad span status = %v", spans[1].Status())
	}
	if len(spans[1].Events()) == 0 {
		t.Error("expected the error to be recorded as a span event")
	}
}

func TestSetSpanHTTPStatus(t *testing.T) {
	spans := recordSpan(t, func(tp *sdktrace.TracerProvider) {
		for _, code := range []int{200, 404, 503} {
			_, span := tp.Tracer("t").Start(context.Background(), "req")
			SetSpanHTTPStatus(span, code)
			span.End()
		}
	})
	want := []codes.Code{codes.Ok, codes.Ok, codes.Error}
	for i, s := range spans {
		if s.Status().Code != want[i] {
			t.Errorf("span %d status = %v, want %v", i, s.Status().Code, want[i])
		}
		found := false
		for _, a := range s.Attributes() {
			if a.Key == attribute.Key("http.status_code") {
				found = true
			}
		}
		if !found {
			t.Errorf("span %d missing http.status_code", i)
		}
	}
}

func TestStartSpanCarriesCorrelation(t *testing.T) {
	ctx := WithCorrelation(context.Background(), "corr-1")
	_, span := StartSpan(ctx, "t", "noop")
	defer span.End()
	if span == nil {
		t.Fatal("StartSpan returned nil span")
	}
}
