// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Two surfaces are mounted on one engine:
//   - /iclock: the terminal protocol. Plain-text replies, never an error status.
//   - APIBasePath: the operator JSON API with the usual error envelope.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-adms-server/internal/config"
	_ "github.com/tbourn/go-adms-server/internal/docs"
	"github.com/tbourn/go-adms-server/internal/http/handlers"
	"github.com/tbourn/go-adms-server/internal/http/middleware"
	"github.com/tbourn/go-adms-server/internal/repo"
	"github.com/tbourn/go-adms-server/internal/services"
)

const (
	// apiBodyLimit caps operator API request bodies.
	apiBodyLimit = 1 << 20
	readyTimeout = 2 * time.Second
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability, health and metrics, the terminal protocol under
// /iclock and the operator API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. CORS and Security headers
//
// Per group:
//   - terminal: text recovery, body cap from cfg.ADMS.MaxBodyBytes
//   - operator: body cap, gzip, idempotency (before rate limiting to allow
//     bypass on replay), rate limiter keyed by serial or IP
func RegisterRoutes(r *gin.Engine, svc *services.Container, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction. Terminals put the comm password in
	// the query string; the serial stays readable for support.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders:   []string{"X-API-Key"},
		MaskQueryKeys: []string{"pwd", "passwd", "Passwd", "comkey"},
		KeepQueryKeys: []string{"SN", "table", "options", "INFO"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 6) CORS posture (safe defaults: allow all if none configured)
	useCORS(r, cfg.CORS)

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:     cfg.Security.EnableHSTS,
		HSTSMaxAge:     cfg.Security.HSTSMaxAge,
		NoStore:        false, // device list relies on ETag revalidation
		EnablePolicy:   true,
		TerminalPrefix: middleware.TerminalPathPrefix,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness and readiness
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(svc))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(handlers.Deps{
		Devices:        svc.Devices,
		Ingest:         svc.Ingest,
		Queue:          svc.Queue,
		Summaries:      svc.Summaries,
		Events:         svc.Broker,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	// Terminal protocol
	maxBody := cfg.ADMS.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	ic := r.Group(middleware.TerminalPathPrefix)
	ic.Use(middleware.TerminalRecovery(), limitBody(maxBody))
	{
		ic.GET("/cdata", h.Handshake)
		ic.POST("/cdata", h.Upload)
		ic.GET("/getrequest", h.Poll)
		ic.POST("/devicecmd", h.Result)

		// Aliases used by some firmware and by bench tooling.
		ic.GET("/handshake", h.Handshake)
		ic.POST("/upload", h.Upload)
		ic.GET("/poll", h.Poll)
		ic.POST("/result", h.Result)
	}

	// Operator API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	api.Use(limitBody(apiBodyLimit))
	// SSE must not be buffered by the compressor.
	api.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{joinPath(apiBase, "/events")})))
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		idempotencyLookup(svc),
	))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySerialOrIP())
	api.Use(rl.Handler())
	{
		// Devices
		api.GET("/devices", h.ListDevices)
		api.GET("/devices/:sn", h.GetDevice)

		// Commands
		api.GET("/devices/:sn/commands", h.ListCommands)
		api.POST("/devices/:sn/commands", h.EnqueueCommand)
		api.POST("/devices/:sn/commands/cancel", h.CancelCommands)
		api.GET("/commands/:id", h.GetCommand)
		api.POST("/commands/:id/requeue", h.RequeueCommand)

		// Attendance
		api.GET("/summaries/:code/:date", h.GetSummary)
		api.POST("/summaries/:code/:date/recompute", h.RecomputeSummary)

		// Events
		api.GET("/events", h.StreamEvents)
	}
}

// idempotencyLookup reports whether a live record exists for the serial and key.
// Lookup failures never block the request.
func idempotencyLookup(svc *services.Container) middleware.IdempotencyLookup {
	return func(ctx context.Context, sn, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, svc.DB, sn, key, now)
		if err != nil || rec == nil {
			return false, nil
		}
		return true, nil
	}
}

// readiness answers 503 while the database does not respond.
func readiness(svc *services.Container) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()
		if err := repo.Ping(ctx, svc.DB); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness probe failed")
			handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeUnavailable, "database unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func useCORS(r *gin.Engine, cfg config.CORSConfig) {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}
	if len(cfg.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     allowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
