package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-adms-server/internal/adms"
	"github.com/tbourn/go-adms-server/internal/config"
	"github.com/tbourn/go-adms-server/internal/http/handlers"
	"github.com/tbourn/go-adms-server/internal/http/middleware"
	"github.com/tbourn/go-adms-server/internal/repo"
	"github.com/tbourn/go-adms-server/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:router_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{},
		Security:    config.SecurityConfig{EnableHSTS: false},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		ShiftStart:  "09:00",
		ADMS: config.ADMSConfig{
			Delay: 10, ErrorDelay: 30, TransTimes: "00:00;14:05", TransInterval: 1,
			Realtime: true, Location: time.UTC, MaxBodyBytes: 1 << 20,
		},
		Queue:          config.QueueConfig{MaxRetries: 3, RetryBase: 30 * time.Second},
		Sync:           config.SyncConfig{DefaultFaceMajor: 58, TemplateMinLength: 100},
		IdempotencyTTL: time.Hour,
	}
}

func newRouter(t *testing.T, cfg config.Config) (*gin.Engine, *services.Container) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, err := services.NewContainer(newTestDB(t), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("container: %v", err)
	}
	r := gin.New()
	RegisterRoutes(r, svc, cfg)
	return r, svc
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newRouter(t, baseConfig())

	// /health works
	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	// /metrics is wired
	w = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = serve(r, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off unless enabled.
	w = serve(r, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_SwaggerEnabled(t *testing.T) {
	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	r, _ := newRouter(t, cfg)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /swagger/doc.json = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/devices/{sn}/commands") {
		t.Fatalf("swagger doc missing command routes: %s", w.Body.String())
	}
}

func TestRegisterRoutes_TerminalSurface(t *testing.T) {
	cfg := baseConfig()
	cfg.RateRPS, cfg.RateBurst = 0.001, 1
	r, _ := newRouter(t, cfg)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/iclock/cdata", nil))
	if w.Code != http.StatusOK || w.Body.String() != adms.ReadyMessage {
		t.Fatalf("readiness = %d %q", w.Code, w.Body.String())
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/iclock/handshake?SN=DEV1", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "GET OPTION FROM: DEV1") {
		t.Fatalf("handshake alias = %d %q", w.Code, w.Body.String())
	}
	w = serve(r, httptest.NewRequest(http.MethodPost, "/iclock/result?SN=DEV1", strings.NewReader("ID=1&Return=0")))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("result alias = %d %q", w.Code, w.Body.String())
	}

	// Terminals are never rate limited.
	for i := 0; i < 5; i++ {
		w = serve(r, httptest.NewRequest(http.MethodGet, "/iclock/getrequest?SN=DEV1", nil))
		if w.Code != http.StatusOK || w.Body.String() != "OK" {
			t.Fatalf("poll %d = %d %q", i, w.Code, w.Body.String())
		}
		if w = serve(r, httptest.NewRequest(http.MethodGet, "/iclock/poll?SN=DEV1", nil)); w.Body.String() != "OK" {
			t.Fatalf("poll alias %d = %q", i, w.Body.String())
		}
	}

	// The operator API is.
	if w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)); w.Code != http.StatusOK {
		t.Fatalf("first list = %d", w.Code)
	}
	if w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second list = %d, want 429", w.Code)
	}
}

func TestRegisterRoutes_TerminalBodyLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.ADMS.MaxBodyBytes = 16
	r, svc := newRouter(t, cfg)

	body := strings.Repeat("E001\t2024-01-10 09:15:00\t0\t1\t0\n", 4)
	w := serve(r, httptest.NewRequest(http.MethodPost, "/iclock/cdata?SN=DEV1&table=ATTLOG", strings.NewReader(body)))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("oversized upload = %d %q", w.Code, w.Body.String())
	}
	if _, err := repo.GetSummary(context.Background(), svc.DB, "E001", "2024-01-10"); err == nil {
		t.Fatalf("oversized body must not be ingested")
	}
}

func TestRegisterRoutes_APIGzip(t *testing.T) {
	r, _ := newRouter(t, baseConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, headers=%v", w.Header())
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, _ := io.ReadAll(zr)
	if !bytes.Contains(raw, []byte(`"devices"`)) {
		t.Fatalf("unexpected body %s", raw)
	}
}

func TestRegisterRoutes_IdempotencyReplay(t *testing.T) {
	r, svc := newRouter(t, baseConfig())
	serve(r, httptest.NewRequest(http.MethodGet, "/iclock/cdata?SN=DEV1", nil))

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/DEV1/commands",
			strings.NewReader(`{"command":"DATA QUERY USERINFO PIN=1"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderIdempotencyKey, "key-hit")
		return serve(r, req)
	}

	if w := post(); w.Code != http.StatusCreated {
		t.Fatalf("first enqueue = %d %s", w.Code, w.Body.String())
	}
	w := post()
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay = %d replayed=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}

	cmds, err := repo.ListCommands(context.Background(), svc.DB, "DEV1", "", 0)
	if err != nil || len(cmds) != 1 {
		t.Fatalf("replay must not enqueue twice: %d %v", len(cmds), err)
	}
}

func TestIdempotencyLookup_ErrorBranch(t *testing.T) {
	_, svc := newRouter(t, baseConfig())
	lookup := idempotencyLookup(svc)

	sqlDB, err := svc.DB.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	ok, err := lookup(context.Background(), "DEV1", "k", time.Now())
	if ok || err != nil {
		t.Fatalf("lookup failures must read as a miss: %v %v", ok, err)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"))) // 12 bytes
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	// non-root prefix
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

func Test_joinPath(t *testing.T) {
	if got := joinPath("/", "/events"); got != "/events" {
		t.Fatalf("root join = %q", got)
	}
	if got := joinPath("/api/v1", "/events"); got != "/api/v1/events" {
		t.Fatalf("join = %q", got)
	}
}

func TestRegisterRoutes_Readiness(t *testing.T) {
	r, svc := newRouter(t, baseConfig())

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/ready", nil)); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ready"`) {
		t.Fatalf("ready: %d %s", w.Code, w.Body.String())
	}

	sqlDB, err := svc.DB.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), handlers.ErrCodeUnavailable) {
		t.Fatalf("closed db: %d %s", w.Code, w.Body.String())
	}
}
