package handlers

import (
	"fmt"
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

	"github.com/tbourn/go-adms-server/internal/config"
	"github.com/tbourn/go-adms-server/internal/http/middleware"
	"github.com/tbourn/go-adms-server/internal/repo"
	"github.com/tbourn/go-adms-server/internal/services"
)

// ---------- test DB + wired services ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		ShiftStart: "09:00",
		ADMS: config.ADMSConfig{
			Delay: 10, ErrorDelay: 30, TransTimes: "00:00;14:05", TransInterval: 1,
			Realtime: true, Location: time.UTC, MaxBodyBytes: 1 << 20,
		},
		Queue: config.QueueConfig{
			MaxRetries: 3, RetryBase: 30 * time.Second,
			RetrySweepInterval: time.Minute, PurgeInterval: time.Hour, MaintenanceInterval: time.Minute,
			Retention: 24 * time.Hour, SentTimeout: 10 * time.Minute, OfflineAfter: 5 * time.Minute,
		},
		// Buffer 0: template fan-out runs inline, no worker needed.
		Sync: config.SyncConfig{IdentityWindow: 2 * time.Minute, DefaultFaceMajor: 58, TemplateMinLength: 100},
	}
}

type env struct {
	svc *services.Container
	h   *Handlers
	r   *gin.Engine
}

// newEnv wires real services over an in-memory DB and mounts every handler
// the way the router does, without the cross-cutting middleware.
func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, err := services.NewContainer(newHandlerDB(t), testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("container: %v", err)
	}
	h := New(Deps{
		Devices:   svc.Devices,
		Ingest:    svc.Ingest,
		Queue:     svc.Queue,
		Summaries: svc.Summaries,
		Events:    svc.Broker,
		Heartbeat: 20 * time.Millisecond,
	})

	r := gin.New()
	ic := r.Group("/iclock")
	ic.GET("/cdata", h.Handshake)
	ic.POST("/cdata", h.Upload)
	ic.GET("/getrequest", h.Poll)
	ic.POST("/devicecmd", h.Result)

	api := r.Group("/api/v1")
	api.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	api.GET("/devices", h.ListDevices)
	api.GET("/devices/:sn", h.GetDevice)
	api.GET("/devices/:sn/commands", h.ListCommands)
	api.POST("/devices/:sn/commands", h.EnqueueCommand)
	api.POST("/devices/:sn/commands/cancel", h.CancelCommands)
	api.GET("/commands/:id", h.GetCommand)
	api.POST("/commands/:id/requeue", h.RequeueCommand)
	api.GET("/summaries/:code/:date", h.GetSummary)
	api.POST("/summaries/:code/:date/recompute", h.RecomputeSummary)
	api.GET("/events", h.StreamEvents)

	return &env{svc: svc, h: h, r: r}
}

func (e *env) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func expectText(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type %q", ct)
	}
	if want != "" && w.Body.String() != want {
		t.Fatalf("body=%q want %q", w.Body.String(), want)
	}
}

func templatePayload(n int) string {
	return strings.Repeat("RmFjZURhdGE", n/11+1)[:n]
}
