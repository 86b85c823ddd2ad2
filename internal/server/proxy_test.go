package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dlai-sd/waooaw-gateway/internal/breaker"
	"github.com/dlai-sd/waooaw-gateway/internal/openapi"
)

func newTestProxy(t *testing.T, backendURL string, validator *openapi.Validator, threshold uint32) (*Proxy, *breaker.Breaker) {
	t.Helper()
	u, err := url.Parse(backendURL)
	if err != nil {
		t.Fatalf("parse backend URL: %v", err)
	}
	br := breaker.New("backend", threshold, time.Minute, nil)
	p := NewProxy(ProxyConfig{
		Backend:   u,
		Timeout:   2 * time.Second,
		Breaker:   br,
		Validator: validator,
		Logger:    slog.New(slog.DiscardHandler),
	})
	return p, br
}

func TestProxy_RelaysVerbatim(t *testing.T) {
	var captured *http.Request
	var capturedBody []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(r.Context())
		capturedBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Backend-Version", "v7")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"listing-1"}`))
	}))
	defer backend.Close()

	p, _ := newTestProxy(t, backend.URL, nil, 3)

	req := httptest.NewRequest(http.MethodPost, "/v1/listings?dry_run=true", strings.NewReader(`{"title":"Chair"}`))
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	CorrelationMiddleware(p).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if got := rec.Header().Get("X-Backend-Version"); got != "v7" {
		t.Errorf("backend response header not relayed, got %q", got)
	}
	if got := rec.Body.String(); got != `{"id":"listing-1"}` {
		t.Errorf("body = %q, want backend body verbatim", got)
	}

	if captured.URL.Path != "/v1/listings" {
		t.Errorf("upstream path = %q", captured.URL.Path)
	}
	if captured.URL.RawQuery != "dry_run=true" {
		t.Errorf("upstream query = %q", captured.URL.RawQuery)
	}
	if string(capturedBody) != `{"title":"Chair"}` {
		t.Errorf("upstream body = %q", capturedBody)
	}
	if got := captured.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization not forwarded, got %q", got)
	}
	if captured.Header.Get(CorrelationHeader) == "" {
		t.Error("correlation ID not propagated to upstream")
	}
}

func TestProxy_StripsReservedHeaders(t *testing.T) {
	var captured http.Header
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	p, _ := newTestProxy(t, backend.URL, nil, 3)

	req := httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	req.Header.Set("X-Waooaw-Meter", `{"forged":true}`)
	req.Header.Set("X-Waooaw-Signature", "forged-sig")
	req.Header.Set("Proxy-Authorization", "Basic forged")
	req.Header.Set("X-Custom-App", "kept")
	rec := httptest.NewRecorder()
	CorrelationMiddleware(p).ServeHTTP(rec, req)

	for _, h := range []string{"X-Waooaw-Meter", "X-Waooaw-Signature", "Proxy-Authorization"} {
		if captured.Get(h) != "" {
			t.Errorf("header %s must be stripped before forwarding", h)
		}
	}
	if captured.Get("X-Custom-App") != "kept" {
		t.Error("unrelated headers must be forwarded")
	}
}

func TestProxy_Relays5xxButCountsFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend exploded", http.StatusBadGateway)
	}))
	defer backend.Close()

	p, br := newTestProxy(t, backend.URL, nil, 2)

	req := httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	rec := httptest.NewRecorder()
	CorrelationMiddleware(p).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want upstream 502 relayed verbatim", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "backend exploded") {
		t.Errorf("upstream 5xx body must be relayed, got %q", rec.Body.String())
	}
	if br.Open() {
		t.Error("one failure below threshold must not open the circuit")
	}
}

func TestProxy_CircuitOpensAndShedsWithoutUpstreamCall(t *testing.T) {
	hits := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	p, br := newTestProxy(t, backend.URL, nil, 2)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		CorrelationMiddleware(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/listings", nil))
	}
	if !br.Open() {
		t.Fatal("circuit must be open after threshold failures")
	}

	hitsBefore := hits
	rec := httptest.NewRecorder()
	CorrelationMiddleware(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/listings", nil))

	if hits != hitsBefore {
		t.Error("open circuit must reject without contacting the upstream")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["reason"] != "circuit_open" {
		t.Errorf("reason = %v, want circuit_open", body["reason"])
	}
	if body["correlation_id"] == "" || body["correlation_id"] == nil {
		t.Error("error body must carry the correlation ID")
	}
}

func TestProxy_UnreachableBackend(t *testing.T) {
	p, _ := newTestProxy(t, "http://127.0.0.1:1", nil, 5)

	rec := httptest.NewRecorder()
	CorrelationMiddleware(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/listings", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["reason"] != "upstream_unreachable" {
		t.Errorf("reason = %v, want upstream_unreachable", body["reason"])
	}
}

const proxySpec = `{
  "openapi": "3.0.3",
  "paths": {
    "/v1/listings": {
      "post": {
        "requestBody": {
          "content": {
            "application/json": {
              "schema": {
                "type": "object",
                "required": ["title", "price_usd"],
                "properties": {
                  "title": {"type": "string"},
                  "price_usd": {"type": "number"}
                }
              }
            }
          }
        }
      }
    }
  }
}`

func TestProxy_RejectsSchemaViolation(t *testing.T) {
	backendHits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(proxySpec))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		backendHits++
		w.WriteHeader(http.StatusOK)
	})
	backend := httptest.NewServer(mux)
	defer backend.Close()

	cache := openapi.NewSchemaCache(backend.URL, time.Minute, nil)
	p, _ := newTestProxy(t, backend.URL, openapi.NewValidator(cache), 3)

	req := httptest.NewRequest(http.MethodPost, "/v1/listings", strings.NewReader(`{"title":"Chair"}`))
	rec := httptest.NewRecorder()
	CorrelationMiddleware(p).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if backendHits != 0 {
		t.Error("invalid request must never reach the upstream")
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["reason"] != "openapi_validation_failed" {
		t.Errorf("reason = %v, want openapi_validation_failed", body["reason"])
	}
}

func TestProxy_ValidRequestPassesValidation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(proxySpec))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	backend := httptest.NewServer(mux)
	defer backend.Close()

	cache := openapi.NewSchemaCache(backend.URL, time.Minute, nil)
	p, _ := newTestProxy(t, backend.URL, openapi.NewValidator(cache), 3)

	req := httptest.NewRequest(http.MethodPost, "/v1/listings", strings.NewReader(`{"title":"Chair","price_usd":49.5}`))
	rec := httptest.NewRecorder()
	CorrelationMiddleware(p).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestProxy_SchemaUnavailableFailsOpen(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	proxied := false
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		proxied = true
		w.WriteHeader(http.StatusOK)
	})
	backend := httptest.NewServer(mux)
	defer backend.Close()

	cache := openapi.NewSchemaCache(backend.URL, time.Minute, nil)
	p, _ := newTestProxy(t, backend.URL, openapi.NewValidator(cache), 3)

	req := httptest.NewRequest(http.MethodPost, "/v1/listings", strings.NewReader(`{"title":"Chair"}`))
	rec := httptest.NewRecorder()
	CorrelationMiddleware(p).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when schema is unavailable", rec.Code)
	}
	if !proxied {
		t.Error("request must be proxied when validation is skipped")
	}
}
