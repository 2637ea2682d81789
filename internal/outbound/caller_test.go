package outbound

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brightlane/recoguard/internal/breaker"
	"go.uber.org/zap"
)

type payload struct {
	Value string `json:"value"`
}

func testCaller() *Caller {
	return New(zap.NewNop().Sugar())
}

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	got, err := Get[payload](context.Background(), testCaller(), srv.URL, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != "ok" {
		t.Fatalf("expected value=ok, got %+v", got)
	}
}

func TestGetUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := Get[payload](context.Background(), testCaller(), srv.URL, time.Second)
	f := breaker.AsFailure(err)
	if f.Kind != breaker.KindUpstreamError || f.Status != 500 {
		t.Fatalf("expected upstream_error/500, got %+v", f)
	}
}

func TestGetTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := Get[payload](context.Background(), testCaller(), srv.URL, 5*time.Millisecond)
	f := breaker.AsFailure(err)
	if f.Kind != breaker.KindTimeout {
		t.Fatalf("expected timeout, got %+v", f)
	}
}

func TestGetTransportError(t *testing.T) {
	_, err := Get[payload](context.Background(), testCaller(), "http://127.0.0.1:1", time.Second)
	f := breaker.AsFailure(err)
	if f.Kind != breaker.KindTransportError {
		t.Fatalf("expected transport_error, got %+v", f)
	}
}
