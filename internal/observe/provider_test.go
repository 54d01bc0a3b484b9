package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProvider_ServesMetrics(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := InitProvider(context.Background(), ProviderConfig{SessionID: "session_test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.Metrics.RecordReconnect(context.Background(), "ok")
	tel.Metrics.RecordFallback(context.Background(), "openvoice", "local")

	srv := httptest.NewServer(tel.Handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{"tutorvox_stream_reconnects", "tutorvox_speech_fallbacks"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q:\n%s", want, body)
		}
	}
}

func TestTelemetry_Shutdown(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := InitProvider(context.Background(), ProviderConfig{})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if tel.Metrics == nil || tel.Handler == nil {
		t.Fatal("telemetry not fully initialised")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestRunResource(t *testing.T) {
	t.Parallel()

	res, err := runResource(t.Context(), ProviderConfig{ServiceVersion: "1.2.0", SessionID: "session_abc"})
	if err != nil {
		t.Fatalf("runResource: %v", err)
	}
	want := map[string]string{
		"service.name":        "tutorvox",
		"service.version":     "1.2.0",
		"service.instance.id": "session_abc",
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	res, err = runResource(t.Context(), ProviderConfig{})
	if err != nil {
		t.Fatalf("runResource: %v", err)
	}
	for _, kv := range res.Attributes() {
		if kv.Key == "service.instance.id" {
			t.Errorf("instance id set without a session: %q", kv.Value.AsString())
		}
	}
}
