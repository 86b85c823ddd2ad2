package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCorrelationMiddleware_MintsWhenAbsent(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	rec := httptest.NewRecorder()

	CorrelationMiddleware(handler).ServeHTTP(rec, req)

	got := rec.Header().Get(CorrelationHeader)
	if got == "" {
		t.Fatal("response must carry a minted correlation ID")
	}
	if seen != got {
		t.Errorf("context ID %q != response header %q", seen, got)
	}
}

func TestCorrelationMiddleware_EchoesInbound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	req.Header.Set(CorrelationHeader, "corr-from-caller")
	rec := httptest.NewRecorder()

	CorrelationMiddleware(handler).ServeHTTP(rec, req)

	if got := rec.Header().Get(CorrelationHeader); got != "corr-from-caller" {
		t.Errorf("correlation header = %q, want echoed corr-from-caller", got)
	}
}

func TestCorrelationMiddleware_HeaderSetOnErrorResponses(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	rec := httptest.NewRecorder()

	CorrelationMiddleware(handler).ServeHTTP(rec, req)

	if rec.Header().Get(CorrelationHeader) == "" {
		t.Error("correlation header must be present regardless of outcome")
	}
}

func TestGetCorrelationID_Unset(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetCorrelationID(req.Context()); got != "" {
		t.Errorf("GetCorrelationID() = %q, want empty", got)
	}
}
