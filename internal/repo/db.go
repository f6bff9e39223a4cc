// Package repo implements the persistence layer on GORM. This file opens
// the SQLite (pure Go driver) or PostgreSQL backend and applies migrations.
package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-adms-server/internal/domain"
)

// Options selects and tunes the database backend. Zero pool values take
// per-driver defaults.
type Options struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file or file: URI
	DSN    string // postgres DSN
	Trace  bool   // attach OpenTelemetry spans to queries

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// sqlitePragmas are applied to every pooled connection through the DSN.
// WAL lets the operator API read while terminals upload.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// OpenDB opens the configured backend and optionally installs the
// OpenTelemetry GORM plugin.
func OpenDB(opts Options) (*gorm.DB, error) {
	var (
		db       *gorm.DB
		err      error
		maxOpen  int
		maxIdle  int
		lifetime = 30 * time.Minute
	)
	switch opts.Driver {
	case "", "sqlite":
		db, err = openSQLite(opts.Path)
		maxOpen, maxIdle = 10, 10
	case "postgres":
		db, err = gorm.Open(postgres.Open(opts.DSN), gormConfig())
		maxOpen, maxIdle = 25, 10
	default:
		return nil, fmt.Errorf("unsupported db driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
	}

	if opts.MaxOpenConns > 0 {
		maxOpen = opts.MaxOpenConns
	}
	if opts.MaxIdleConns > 0 {
		maxIdle = opts.MaxIdleConns
	}
	if opts.ConnMaxLifetime > 0 {
		lifetime = opts.ConnMaxLifetime
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(lifetime)

	if opts.Trace {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("otel gorm plugin: %w", err)
		}
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database with default pooling.
func OpenSQLite(path string) (*gorm.DB, error) {
	return OpenDB(Options{Driver: "sqlite", Path: path})
}

func openSQLite(path string) (*gorm.DB, error) {
	// A missing parent directory otherwise surfaces as a vague driver error.
	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}
	return gorm.Open(sqlite.Open(sqliteDSN(path)), gormConfig())
}

// sqliteDSN appends the pragma parameters to path, keeping any query the
// caller already set.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// Timestamps managed by GORM are UTC so they compare consistently with
// query parameters.
func gormConfig() *gorm.Config { return &gorm.Config{NowFunc: utcNow} }

func utcNow() time.Time { return time.Now().UTC() }

// Ping checks that the database answers within ctx.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate creates or updates every table the server owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Device{},
		&domain.DeviceCapabilities{},
		&domain.Employee{},
		&domain.AttendancePunch{},
		&domain.DailyAttendanceSummary{},
		&domain.OperationLog{},
		&domain.BiometricTemplate{},
		&domain.DeviceCommand{},
		&domain.Idempotency{},
	)
}
