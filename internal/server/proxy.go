package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dlai-sd/waooaw-gateway/internal/breaker"
	"github.com/dlai-sd/waooaw-gateway/internal/metrics"
	"github.com/dlai-sd/waooaw-gateway/internal/openapi"
)

// Headers never forwarded to the backend. The metering envelope headers are
// set by the gateway itself, so inbound copies are spoofing attempts; the
// rest are hop-by-hop.
var strippedHeaders = []string{
	"X-Waooaw-Meter",
	"X-Waooaw-Signature",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// errUpstreamStatus marks a 5xx backend response: counted as a breaker
// failure but still relayed verbatim to the caller.
type errUpstreamStatus struct {
	status int
}

func (e *errUpstreamStatus) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.status)
}

// ProxyConfig wires a Proxy.
type ProxyConfig struct {
	Backend   *url.URL
	Timeout   time.Duration
	Breaker   *breaker.Breaker
	Validator *openapi.Validator // nil disables schema validation
	Limiter   *rate.Limiter      // nil disables the upstream rate limiter
	Metrics   *metrics.Set
	Logger    *slog.Logger
}

// Proxy is the gateway's front door to the backend: it validates request
// bodies against the live OpenAPI schema, guards the upstream with the
// circuit breaker, and relays responses verbatim.
type Proxy struct {
	backend   *url.URL
	client    *http.Client
	breaker   *breaker.Breaker
	validator *openapi.Validator
	limiter   *rate.Limiter
	metrics   *metrics.Set
	logger    *slog.Logger
}

// NewProxy builds the proxy handler.
func NewProxy(cfg ProxyConfig) *Proxy {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		backend:   cfg.Backend,
		client:    &http.Client{Timeout: timeout},
		breaker:   cfg.Breaker,
		validator: cfg.Validator,
		limiter:   cfg.Limiter,
		metrics:   m,
		logger:    logger,
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, r, p.logger, fmt.Errorf("read request body: %w", err))
		return
	}
	r.Body.Close()

	if p.validator != nil {
		err := p.validator.ValidateRequest(ctx, r.Method, r.URL.Path, body)
		switch {
		case err == nil:
		case errors.Is(err, openapi.ErrUnavailable):
			// Schema fetch failure must not take the data path down;
			// validation is skipped for this request.
			p.logger.Warn("skipping openapi validation",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
		default:
			p.metrics.Rejections.WithLabelValues("openapi_validation_failed").Inc()
			WriteError(w, r, p.logger, err)
			return
		}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.metrics.Rejections.WithLabelValues("upstream_saturated").Inc()
			writeJSON(w, http.StatusServiceUnavailable, errorBody{
				Reason:        "upstream_saturated",
				Title:         "gateway is shedding load toward the backend",
				CorrelationID: correlationID,
			})
			return
		}
	}

	outbound, err := p.outboundRequest(r, body, correlationID)
	if err != nil {
		WriteError(w, r, p.logger, err)
		return
	}

	var resp *http.Response
	start := time.Now()
	callErr := p.breaker.Do(func() error {
		var doErr error
		resp, doErr = p.client.Do(outbound)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return &errUpstreamStatus{status: resp.StatusCode}
		}
		return nil
	})
	p.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	p.setBreakerGauge()

	var statusErr *errUpstreamStatus
	switch {
	case callErr == nil, errors.As(callErr, &statusErr):
		// Backend answered; relay its response verbatim, 5xx included.
		p.relay(w, resp, r.Method)
	case errors.Is(callErr, breaker.ErrOpen):
		p.metrics.Rejections.WithLabelValues("circuit_open").Inc()
		WriteError(w, r, p.logger, callErr)
	default:
		p.logger.Error("upstream call failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", callErr.Error()),
		)
		p.metrics.ProxiedRequests.WithLabelValues(r.Method, "5xx").Inc()
		writeJSON(w, http.StatusBadGateway, errorBody{
			Reason:        "upstream_unreachable",
			Title:         "backend request failed",
			CorrelationID: correlationID,
		})
	}
}

// outboundRequest clones method, path, query, headers and body toward the
// backend, minus the stripped header set.
func (p *Proxy) outboundRequest(r *http.Request, body []byte, correlationID string) (*http.Request, error) {
	target := *p.backend
	target.Path = singleJoin(p.backend.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	outbound, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	outbound.Header = r.Header.Clone()
	for _, h := range strippedHeaders {
		outbound.Header.Del(h)
	}
	outbound.Header.Set(CorrelationHeader, correlationID)
	return outbound, nil
}

func (p *Proxy) relay(w http.ResponseWriter, resp *http.Response, method string) {
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)

	p.metrics.ProxiedRequests.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()
}

func (p *Proxy) setBreakerGauge() {
	if p.breaker.Open() {
		p.metrics.BreakerOpen.Set(1)
	} else {
		p.metrics.BreakerOpen.Set(0)
	}
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func singleJoin(a, b string) string {
	switch {
	case a == "":
		return b
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	default:
		return a + b
	}
}
