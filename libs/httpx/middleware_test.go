package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChainAppliesOutsideIn(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), mw("a"), mw("b"))

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected a then b, got %v", order)
	}
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if seen == "" {
		t.Fatal("expected a generated request id in context")
	}
	if rw.Header().Get(RequestIDHeader) != seen {
		t.Fatal("response header must echo the request id")
	}

	reqWithID := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqWithID.Header.Set(RequestIDHeader, "caller-id")
	rwWithID := httptest.NewRecorder()
	h.ServeHTTP(rwWithID, reqWithID)
	if seen != "caller-id" {
		t.Fatalf("expected caller-supplied id to pass through, got %s", seen)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw.Code
	}

	if do("1.2.3.4") != http.StatusOK || do("1.2.3.4") != http.StatusOK {
		t.Fatal("first two requests must pass")
	}
	if do("1.2.3.4") != http.StatusTooManyRequests {
		t.Fatal("third request must be limited")
	}
	if do("5.6.7.8") != http.StatusOK {
		t.Fatal("a different client must not be affected")
	}
}
