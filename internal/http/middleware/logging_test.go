package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var seen string
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		seen = RequestIDFrom(c)
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name, in string
		keep     bool
	}{
		{"generated when absent", "", false},
		{"propagated", "Z-REQ-123", true},
		{"control characters replaced", "abc\ninjected", false},
		{"non-ascii replaced", "réq", false},
		{"oversized replaced", strings.Repeat("a", maxRequestIDLength+1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rid", nil)
			if tc.in != "" {
				req.Header.Set(requestIDHeader, tc.in)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if got == "" || got != seen {
				t.Fatalf("header %q, context %q", got, seen)
			}
			if (got == tc.in) != tc.keep {
				t.Fatalf("in=%q out=%q keep=%v", tc.in, got, tc.keep)
			}
		})
	}
}

func TestRequestIDFrom_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if RequestIDFrom(c) != "" {
		t.Fatalf("expected empty id")
	}
	c.Set(requestIDKey, 42)
	if RequestIDFrom(c) != "" {
		t.Fatalf("non-string id must read as empty")
	}
}

func TestRecovery_JSONEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}), Recovery())
	r.POST("/api/v1/devices/:sn/commands", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/DEV3/commands", nil)
	req.Header.Set(requestIDHeader, "rid-p")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["request_id"] != "rid-p" || body["code"] != "internal_error" {
		t.Fatalf("unexpected body: %v", body)
	}
	out := buf.String()
	if !strings.Contains(out, `"message":"panic recovered"`) || !strings.Contains(out, `"sn":"DEV3"`) || !strings.Contains(out, `"stack"`) {
		t.Fatalf("panic not logged with context: %s", out)
	}
}

func TestRecovery_PanicAfterWrite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}), Recovery())
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial-body")
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))

	// The 200 is already flushed; only the envelope must be absent.
	if strings.Contains(w.Body.String(), "internal_error") || strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("envelope written after body: %q %q", w.Header().Get("Content-Type"), w.Body.String())
	}
	if !strings.Contains(buf.String(), "late kaboom") {
		t.Fatalf("expected panic log, got %s", buf.String())
	}
}

func TestTerminalRecovery_PanicAnswersOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), TerminalRecovery())
	r.POST("/iclock/cdata", func(c *gin.Context) { panic("bad record") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/iclock/cdata?SN=DEV1&table=ATTLOG", strings.NewReader("x"))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("terminal panic = %d %q; want 200 OK", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type %q", ct)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("request id header missing")
	}
	out := buf.String()
	if !strings.Contains(out, `"sn":"DEV1"`) || !strings.Contains(out, "bad record") {
		t.Fatalf("panic not logged with serial: %s", out)
	}
}

func TestLoggerFrom(t *testing.T) {
	gin.SetMode(gin.TestMode)

	buf := captureLogger(t)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/bare", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("bare")
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bare", nil))
	if !strings.Contains(buf.String(), `"message":"bare"`) || strings.Contains(buf.String(), `"request_id"`) {
		t.Fatalf("fallback logger output: %s", buf.String())
	}

	buf = captureLogger(t)
	r = gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}))
	r.GET("/scoped", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("scoped")
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/scoped?SN=DEV7", nil))
	first := strings.SplitN(buf.String(), "\n", 2)[0]
	if !strings.Contains(first, `"message":"scoped"`) || !strings.Contains(first, `"request_id"`) || !strings.Contains(first, `"sn":"DEV7"`) {
		t.Fatalf("scoped logger output: %s", first)
	}
}

func TestTruncate(t *testing.T) {
	if truncate("hello", 10) != "hello" || truncate("abc", 0) != "abc" {
		t.Fatalf("truncate must be a no-op within bounds")
	}
	if got := truncate("abcdefgh", 5); got != "abcde…" {
		t.Fatalf("truncate = %q", got)
	}
}
