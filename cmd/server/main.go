// Command server runs the ADMS endpoint for biometric time-clock terminals
// together with the operator API and the background queue workers.
//
//	@title			ADMS Server API
//	@version		1.0
//	@description	Operator API for biometric time-clock terminals: devices, command queue, attendance summaries and live events.
//	@BasePath		/api/v1
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-adms-server/internal/config"
	httpapi "github.com/tbourn/go-adms-server/internal/http"
	"github.com/tbourn/go-adms-server/internal/observability"
	"github.com/tbourn/go-adms-server/internal/repo"
	"github.com/tbourn/go-adms-server/internal/services"
	"github.com/tbourn/go-adms-server/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile     string
		devicesFile string
		migrateOnly bool
	)
	flagSet := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing file is ignored)")
	flagSet.StringVar(&devicesFile, "devices", "", "YAML device profile seed (overrides DEVICES_FILE)")
	flagSet.BoolVar(&migrateOnly, "migrate-only", false, "apply schema migrations and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = sysutil.NewLogger(os.Stderr, cfg.LogPretty)
	logger := log.With().Str("service", cfg.OTEL.ServiceName).Str("version", version).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, attribute.String("db.system", cfg.DBDriver))
	if err != nil {
		return fmt.Errorf("setup otel: %w", err)
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenDB(repo.Options{
		Driver: cfg.DBDriver,
		Path:   cfg.DBPath,
		DSN:    cfg.DBDSN,
		Trace:  cfg.OTEL.Enabled,
	})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if migrateOnly || sysutil.IsTruthy(os.Getenv("MIGRATE_ONLY")) {
		logger.Info().Str("driver", cfg.DBDriver).Msg("migrations applied")
		return nil
	}

	svc, err := services.NewContainer(db, cfg, logger)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	profiles, err := config.LoadDeviceProfiles(sysutil.FirstNonEmpty(devicesFile, cfg.DevicesFile))
	if err != nil {
		return fmt.Errorf("device profiles: %w", err)
	}
	if err := svc.Devices.ApplyProfiles(ctx, profiles); err != nil {
		return fmt.Errorf("apply device profiles: %w", err)
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, svc, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Int("profiles", len(profiles)).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	return nil
}
