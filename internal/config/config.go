// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database selection, the ADMS wire parameters handed to terminals,
// command queue tuning, template synchronization and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the operator API.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-adms-server")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ADMSConfig holds the protocol parameters returned to terminals on handshake
// and the limits applied to their requests.
type ADMSConfig struct {
	Delay         int            // heartbeat delay in seconds (Delay=)
	ErrorDelay    int            // retry delay after a failed exchange (ErrorDelay=)
	TransTimes    string         // scheduled transmission windows (TransTimes=)
	TransInterval int            // minutes between scheduled uploads (TransInterval=)
	TimeZone      int            // terminal clock offset in hours (TimeZone=)
	Realtime      bool           // realtime push of new records (Realtime=)
	Location      *time.Location // zone used to interpret terminal timestamps
	MaxBodyBytes  int64          // upload body cap
}

// QueueConfig tunes the per-device command outbox.
type QueueConfig struct {
	MaxRetries          int
	RetryBase           time.Duration // first backoff step, doubled per attempt
	RetrySweepInterval  time.Duration
	PurgeInterval       time.Duration
	Retention           time.Duration // completed commands older than this are purged
	SentTimeout         time.Duration // sent commands without a result are failed after this
	OfflineAfter        time.Duration // devices silent for longer are marked offline
	MaintenanceInterval time.Duration // liveness + stale-sent pass
}

// SyncConfig tunes biometric template fan-out.
type SyncConfig struct {
	IdentityWindow    time.Duration // suppress duplicate identity commands inside this window
	DefaultFaceMajor  int
	DefaultFaceMinor  int
	FaceAlwaysResync  bool // fan out face templates even when unchanged
	Buffer            int  // pending template events before inline handling
	TemplateMinLength int  // shortest payload accepted as a real template
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for operator API routes

	// Storage
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path
	DBDSN       string // postgres DSN
	DevicesFile string // optional YAML device profile seed

	// Attendance
	ShiftStart string // HH:MM reference for late minutes

	// Protocol, queue, sync
	ADMS  ADMSConfig
	Queue QueueConfig
	Sync  SyncConfig

	// Rate limiting (operator API)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// Load reads the configuration from the environment, applies defaults and
// validates the result. Malformed values are errors rather than silent
// fallbacks; every problem found is reported at once.
func Load() (Config, error) {
	e := &envReader{}
	cfg := Config{
		Port:              e.Str("PORT", "8080"),
		ReadTimeout:       e.Dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.Dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.Dur("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       e.Dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.Int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.Str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(e.Str("LOG_LEVEL", "info")),
		LogPretty:      e.Bool("LOG_PRETTY", false),
		SwaggerEnabled: e.Bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.Str("API_BASE_PATH", "/api/v1")),

		DBDriver:    strings.ToLower(e.Str("DB_DRIVER", "sqlite")),
		DBPath:      e.Str("DB_PATH", "adms.db"),
		DBDSN:       e.Str("DB_DSN", ""),
		DevicesFile: e.Str("DEVICES_FILE", ""),

		ShiftStart: e.Str("SHIFT_START", "09:00"),

		ADMS: ADMSConfig{
			Delay:         e.Int("ADMS_DELAY", 10),
			ErrorDelay:    e.Int("ADMS_ERROR_DELAY", 30),
			TransTimes:    e.Str("ADMS_TRANS_TIMES", "00:00;14:05"),
			TransInterval: e.Int("ADMS_TRANS_INTERVAL", 1),
			TimeZone:      e.Int("ADMS_TIMEZONE", 0),
			Realtime:      e.Bool("ADMS_REALTIME", true),
			Location:      e.Location("ADMS_DEVICE_TZ", time.UTC),
			MaxBodyBytes:  int64(e.Int("ADMS_MAX_BODY_BYTES", 8<<20)),
		},

		Queue: QueueConfig{
			MaxRetries:          e.Int("QUEUE_MAX_RETRIES", 3),
			RetryBase:           e.Dur("QUEUE_RETRY_BASE", 30*time.Second),
			RetrySweepInterval:  e.Dur("QUEUE_RETRY_SWEEP_INTERVAL", 30*time.Second),
			PurgeInterval:       e.Dur("QUEUE_PURGE_INTERVAL", time.Hour),
			Retention:           e.Dur("QUEUE_RETENTION", 7*24*time.Hour),
			SentTimeout:         e.Dur("QUEUE_SENT_TIMEOUT", 10*time.Minute),
			OfflineAfter:        e.Dur("DEVICE_OFFLINE_AFTER", 5*time.Minute),
			MaintenanceInterval: e.Dur("MAINTENANCE_INTERVAL", time.Minute),
		},

		Sync: SyncConfig{
			IdentityWindow:    e.Dur("SYNC_IDENTITY_WINDOW", 2*time.Minute),
			DefaultFaceMajor:  e.Int("SYNC_DEFAULT_FACE_MAJOR", 58),
			DefaultFaceMinor:  e.Int("SYNC_DEFAULT_FACE_MINOR", 0),
			FaceAlwaysResync:  e.Bool("SYNC_FACE_ALWAYS_RESYNC", false),
			Buffer:            e.Int("SYNC_BUFFER", 256),
			TemplateMinLength: e.Int("TEMPLATE_MIN_LENGTH", 100),
		},

		RateRPS:   e.Float("RATE_RPS", 5.0),
		RateBurst: e.Int("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: e.List("CORS_ALLOWED_ORIGINS")},
		Security: SecurityConfig{
			EnableHSTS: e.Bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.Dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: e.Dur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     e.Bool("OTEL_ENABLED", false),
			Endpoint:    e.Str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.Bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.Str("OTEL_SERVICE_NAME", "go-adms-server"),
			SampleRatio: e.Float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
	cfg.normalize()
	return cfg, errors.Join(append(e.errs, cfg.Validate())...)
}

func (c *Config) normalize() {
	switch c.LogLevel {
	case "warning":
		c.LogLevel = "warn"
	case "off":
		c.LogLevel = "disabled"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	switch c.DBDriver {
	case "postgresql", "pg":
		c.DBDriver = "postgres"
	case "sqlite3":
		c.DBDriver = "sqlite"
	}
}

// Validate reports every invalid setting, joined into one error.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not a known level", c.LogLevel))
	}
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DBDriver {
	case "sqlite":
		check(strings.TrimSpace(c.DBPath) != "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.DBDSN) != "", "DB_DSN must be set when DB_DRIVER=postgres")
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q must be sqlite or postgres", c.DBDriver))
	}

	if _, err := ParseClock(c.ShiftStart); err != nil {
		errs = append(errs, fmt.Errorf("SHIFT_START must be HH:MM: %w", err))
	}
	check(c.ADMS.Delay > 0 && c.ADMS.ErrorDelay > 0, "ADMS_DELAY and ADMS_ERROR_DELAY must be > 0")
	check(c.ADMS.MaxBodyBytes > 0, "ADMS_MAX_BODY_BYTES must be > 0")

	q := c.Queue
	check(q.MaxRetries >= 1, "QUEUE_MAX_RETRIES must be >= 1")
	check(q.RetryBase > 0 && q.RetrySweepInterval > 0 && q.PurgeInterval > 0 && q.MaintenanceInterval > 0,
		"queue intervals must be positive durations")
	check(q.Retention > 0 && q.SentTimeout > 0 && q.OfflineAfter > 0,
		"QUEUE_RETENTION, QUEUE_SENT_TIMEOUT and DEVICE_OFFLINE_AFTER must be > 0")

	check(c.Sync.IdentityWindow >= 0, "SYNC_IDENTITY_WINDOW must be >= 0")
	check(c.Sync.DefaultFaceMajor > 0, "SYNC_DEFAULT_FACE_MAJOR must be > 0")
	check(c.Sync.Buffer >= 0, "SYNC_BUFFER must be >= 0")
	check(c.Sync.TemplateMinLength >= 1, "TEMPLATE_MIN_LENGTH must be >= 1")

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// envReader reads typed variables. Unset or empty variables take the
// default; malformed ones are recorded and also take the default.
type envReader struct {
	errs []error
}

func (e *envReader) raw(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	return v, ok && v != ""
}

func (e *envReader) bad(k, v, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, want))
}

func (e *envReader) Str(k, def string) string {
	if v, ok := e.raw(k); ok {
		return v
	}
	return def
}

func (e *envReader) Int(k string, def int) int {
	v, ok := e.raw(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.bad(k, v, "integer")
		return def
	}
	return i
}

func (e *envReader) Float(k string, def float64) float64 {
	v, ok := e.raw(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.bad(k, v, "number")
		return def
	}
	return f
}

func (e *envReader) Bool(k string, def bool) bool {
	v, ok := e.raw(k)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.bad(k, v, "boolean")
	return def
}

func (e *envReader) Dur(k string, def time.Duration) time.Duration {
	v, ok := e.raw(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.bad(k, v, "duration")
		return def
	}
	return d
}

func (e *envReader) Location(k string, def *time.Location) *time.Location {
	v, ok := e.raw(k)
	if !ok {
		return def
	}
	loc, err := time.LoadLocation(strings.TrimSpace(v))
	if err != nil {
		e.bad(k, v, "time zone")
		return def
	}
	return loc
}

// List splits a comma-separated variable, dropping blanks.
func (e *envReader) List(k string) []string {
	v, _ := e.raw(k)
	return splitCSV(v)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones, except
// for the root.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
