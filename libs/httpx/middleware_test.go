package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestWithCORS(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins: []string{"https://app.nannydesk.example"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "http://example.com/api/v1/requests", nil)
	req.Header.Set("Origin", "https://app.nannydesk.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rw.Code)
	}
	if got := rw.Header().Get("Access-Control-Allow-Origin"); got != "https://app.nannydesk.example" {
		t.Fatalf("allow-origin = %q", got)
	}

	reqBad := httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/requests", nil)
	reqBad.Header.Set("Origin", "https://evil.example")
	rwBad := httptest.NewRecorder()
	h.ServeHTTP(rwBad, reqBad)
	if got := rwBad.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin for unknown origin: %q", got)
	}
}

func TestWithTimeoutCutsOffSlowHandlers(t *testing.T) {
	h := WithTimeout(20 * time.Millisecond)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "http://example.com/", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 from the timeout handler", rw.Code)
	}
}

func TestRateLimiterFixedWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	h := rl.Middleware()(okHandler())

	for i := 0; i < 2; i++ {
		rw := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rw, req)
		if rw.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rw.Code)
		}
	}

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit status = %d, want 429", rw.Code)
	}

	// A different client gets its own window.
	rwOther := httptest.NewRecorder()
	reqOther := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	reqOther.RemoteAddr = "10.0.0.2:1234"
	h.ServeHTTP(rwOther, reqOther)
	if rwOther.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", rwOther.Code)
	}
}
