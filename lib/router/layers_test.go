// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { provider.Shutdown(t.Context()) })
	return recorder, provider.Tracer("router-test")
}

func onlySpan(t *testing.T, recorder *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	return ended[0]
}

func spanAttribute(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestObserveNamesSpanAfterRoute(t *testing.T) {
	recorder, tracer := newRecorder(t)
	env := newTestEnv(t)
	router := env.buildWith(t, testConfig(t), Options{Metrics: env.metrics, Tracer: tracer})

	if got := serve(router, http.MethodGet, "/_matrix/client/versions").Code; got != http.StatusOK {
		t.Fatalf("status = %d", got)
	}
	span := onlySpan(t, recorder)
	if span.Name() != "GET /_matrix/client/versions" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.SpanKind() != trace.SpanKindServer {
		t.Errorf("span kind = %v, want server", span.SpanKind())
	}
	want := int64(router.State().Generation.ID())
	if value, ok := spanAttribute(span, "continuwuity.generation"); !ok || value.AsInt64() != want {
		t.Errorf("continuwuity.generation = %v (present %v), want %d", value.AsInt64(), ok, want)
	}
	if value, _ := spanAttribute(span, "http.route"); value.AsString() != "/_matrix/client/versions" {
		t.Errorf("http.route = %q", value.AsString())
	}
	if value, _ := spanAttribute(span, "http.response.status_code"); value.AsInt64() != http.StatusOK {
		t.Errorf("http.response.status_code = %d", value.AsInt64())
	}
	if span.Status().Code == codes.Error {
		t.Error("successful request marked as an error")
	}
}

func TestObserveUnroutedRequestKeepsPath(t *testing.T) {
	recorder, tracer := newRecorder(t)
	env := newTestEnv(t)
	router := env.buildWith(t, testConfig(t), Options{Metrics: env.metrics, Tracer: tracer})

	if got := serve(router, http.MethodGet, "/_matrix/client/v3/nothing").Code; got != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", got)
	}
	span := onlySpan(t, recorder)
	if span.Name() != "GET /_matrix/client/v3/nothing" {
		t.Errorf("span name = %q", span.Name())
	}
	if value, ok := spanAttribute(span, "http.route"); ok && value.AsString() != "" {
		t.Errorf("http.route = %q on an unrouted request", value.AsString())
	}
}

func TestObserveMarksServerErrors(t *testing.T) {
	recorder, tracer := newRecorder(t)
	env := newTestEnv(t)
	state := env.build(t, testConfig(t)).State()

	handler := observe(state, tracer, env.metrics, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	serve(handler, http.MethodGet, "/upstream")

	span := onlySpan(t, recorder)
	if span.Status().Code != codes.Error {
		t.Errorf("span status = %v, want error", span.Status().Code)
	}
	if value, _ := spanAttribute(span, "http.response.status_code"); value.AsInt64() != http.StatusBadGateway {
		t.Errorf("http.response.status_code = %d", value.AsInt64())
	}
}
