package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/strandlabs/strand/internal/testutil"
)

// newBareServer builds a Server for middleware unit tests without the
// full dependency set.
func newBareServer(t *testing.T) *Server {
	t.Helper()
	return &Server{
		logger:      testutil.DiscardLogger(),
		hmacSecret:  bytes.Repeat([]byte("k"), 32),
		corsOrigins: []string{"https://app.example.com"},
		limiter:     newRateLimiter(100, 100),
		isDev:       true,
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	s := newBareServer(t)

	var seen string
	h := s.requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("no request id in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("header id = %q, context id = %q", got, seen)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec2.Header().Get("X-Request-ID") == rec.Header().Get("X-Request-ID") {
		t.Error("request ids repeat across requests")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newBareServer(t)
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if apiErr := decodeEnvelope(t, rec.Body, nil); apiErr == nil || apiErr.Code != codeInternal {
		t.Errorf("error = %+v, want internal_error envelope", apiErr)
	}
}

func TestRecoveryPassesAbortHandler(t *testing.T) {
	s := newBareServer(t)
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if recover() != http.ErrAbortHandler {
			t.Error("ErrAbortHandler was swallowed")
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestCORSMiddleware(t *testing.T) {
	s := newBareServer(t)
	h := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("allow-origin = %q", got)
		}
		if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("credentials not allowed")
		}
		if rec.Code != http.StatusTeapot {
			t.Errorf("status = %d, handler not reached", rec.Code)
		}
	})

	t.Run("denied origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("allow-origin = %q, want none", got)
		}
		if rec.Code != http.StatusTeapot {
			t.Errorf("status = %d, handler should still run", rec.Code)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("preflight status = %d, want 204", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Methods") == "" {
			t.Error("no allowed methods on preflight")
		}
	})
}

func TestSecurityHeaders(t *testing.T) {
	env := newServerEnv(t)
	c := env.client()

	resp := env.do(c, http.MethodGet, "/api/v1/conversations", "")
	defer resp.Body.Close()

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestLoggingWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	lw := &loggingWriter{ResponseWriter: rec}

	if _, err := lw.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if lw.status != http.StatusOK {
		t.Errorf("implicit status = %d, want 200", lw.status)
	}
	if lw.bytes != 5 {
		t.Errorf("bytes = %d, want 5", lw.bytes)
	}
	if lw.Unwrap() != rec {
		t.Error("Unwrap does not return the inner writer")
	}
	lw.Flush()
	if !rec.Flushed {
		t.Error("Flush not forwarded")
	}
}
