package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesAuthorizationCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.AuthRejected("AUTH_TOKEN_EXPIRED")
	metrics.AuthzDenied("AUTH_INSUFFICIENT_PERMISSIONS")
	metrics.LegacyFallback("manager")
	metrics.SetUnmigratedUsers(12)

	body := scrape(t, metrics)
	if !strings.Contains(body, `pulsedesk_auth_rejected_total{code="AUTH_TOKEN_EXPIRED"} 1`) {
		t.Fatalf("expected auth rejection counter, got: %s", body)
	}
	if !strings.Contains(body, `pulsedesk_authz_denied_total{code="AUTH_INSUFFICIENT_PERMISSIONS"} 1`) {
		t.Fatalf("expected authz denial counter, got: %s", body)
	}
	if !strings.Contains(body, `pulsedesk_legacy_fallback_total{tier="manager"} 1`) {
		t.Fatalf("expected legacy fallback counter, got: %s", body)
	}
	if !strings.Contains(body, "pulsedesk_unmigrated_users 12") {
		t.Fatalf("expected migration gauge, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, "pulsedesk_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, "pulsedesk_http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.AuthRejected("x")
	metrics.AuthzDenied("y")
	metrics.LegacyFallback("z")
	metrics.SetUnmigratedUsers(1)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics handler, got %d", rr.Code)
	}
}
