package tracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/promorank/internal/middleware"
	"github.com/onnwee/promorank/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T, opts ...sdktrace.TracerProviderOption) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(append(opts, sdktrace.WithSpanProcessor(recorder))...)
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return recorder
}

func TestRankingRequestProducesNestedSpans(t *testing.T) {
	recorder := installRecorder(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, endRank := tracing.StartSpan(r.Context(), "ranking.rank")
		tracing.SetAttributes(ctx, tracing.AttrScope.String("US"), tracing.AttrRevision.Int64(7))

		_, endQuery := tracing.StartDBSpan(ctx, "manual_placements", tracing.DBOperationQuery)
		endQuery(nil)
		tracing.AddEvent(ctx, "ranking.computed")
		endRank(nil)

		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	middleware.Tracing("promorank")(handler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/scopes/US/ranking", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	byName := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, s := range spans {
		byName[s.Name()] = s
	}

	server, ok := byName["GET /scopes/{scope}/ranking"]
	if !ok {
		t.Fatalf("missing server span, got %v", byName)
	}
	rank, ok := byName["ranking.rank"]
	if !ok {
		t.Fatal("missing ranking.rank span")
	}
	query, ok := byName["query manual_placements"]
	if !ok {
		t.Fatal("missing query manual_placements span")
	}

	traceID := server.SpanContext().TraceID()
	for _, s := range spans {
		if s.SpanContext().TraceID() != traceID {
			t.Errorf("span %q has trace %s, want %s", s.Name(), s.SpanContext().TraceID(), traceID)
		}
	}
	if rank.Parent().SpanID() != server.SpanContext().SpanID() {
		t.Error("ranking.rank is not a child of the server span")
	}
	if query.Parent().SpanID() != rank.SpanContext().SpanID() {
		t.Error("query span is not a child of ranking.rank")
	}

	var scope string
	for _, kv := range rank.Attributes() {
		if kv.Key == tracing.AttrScope {
			scope = kv.Value.AsString()
		}
	}
	if scope != "US" {
		t.Errorf("scope attribute = %q, want US", scope)
	}
	if len(rank.Events()) != 1 || rank.Events()[0].Name != "ranking.computed" {
		t.Errorf("events = %+v", rank.Events())
	}
}

func TestIncomingTraceContextIsContinued(t *testing.T) {
	recorder := installRecorder(t)

	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	req := httptest.NewRequest(http.MethodPost, "/scopes/US/manual", nil)
	req.Header.Set("traceparent", parent)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, end := tracing.StartDBSpan(r.Context(), "manual_placements", tracing.DBOperationInsert)
		end(nil)
	})
	middleware.Tracing("promorank")(handler).ServeHTTP(httptest.NewRecorder(), req)

	for _, s := range recorder.Ended() {
		if got := s.SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
			t.Errorf("span %q trace id = %s, want propagated id", s.Name(), got)
		}
	}
}
