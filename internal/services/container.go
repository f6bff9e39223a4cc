// Package services – Container
//
// Container assembles the services from configuration so the process
// entrypoint and the HTTP layer share one wiring. Run starts the background
// workers (template fan-out and maintenance) and blocks until ctx ends.
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-adms-server/internal/adms"
	"github.com/tbourn/go-adms-server/internal/config"
)

// brokerBuffer is the per-subscriber event buffer.
const brokerBuffer = 64

// Container holds the wired services.
type Container struct {
	DB           *gorm.DB
	Broker       *Broker
	Capabilities *CapabilityDetector
	Devices      *DeviceService
	Queue        *QueueService
	Summaries    *SummaryService
	Sync         *SyncEngine
	Dispatcher   *SyncDispatcher
	Ingest       *IngestService
	Maintenance  *Maintenance
}

// NewContainer builds every service from cfg.
func NewContainer(db *gorm.DB, cfg config.Config, log zerolog.Logger) (*Container, error) {
	shift, err := config.ParseClock(cfg.ShiftStart)
	if err != nil {
		return nil, fmt.Errorf("shift start: %w", err)
	}

	c := &Container{DB: db}
	c.Broker = NewBroker(brokerBuffer, log.With().Str("component", "broker").Logger())
	c.Capabilities = &CapabilityDetector{
		DB:               db,
		Log:              log.With().Str("component", "capabilities").Logger(),
		DefaultFaceMajor: cfg.Sync.DefaultFaceMajor,
		DefaultFaceMinor: cfg.Sync.DefaultFaceMinor,
	}
	c.Devices = &DeviceService{
		DB:           db,
		Capabilities: c.Capabilities,
		Broker:       c.Broker,
		Log:          log.With().Str("component", "devices").Logger(),
		Options: adms.HandshakeConfig{
			Delay:         cfg.ADMS.Delay,
			ErrorDelay:    cfg.ADMS.ErrorDelay,
			TransTimes:    cfg.ADMS.TransTimes,
			TransInterval: cfg.ADMS.TransInterval,
			TimeZone:      cfg.ADMS.TimeZone,
			Realtime:      cfg.ADMS.Realtime,
		},
	}
	c.Queue = &QueueService{
		DB:         db,
		Broker:     c.Broker,
		Log:        log.With().Str("component", "queue").Logger(),
		MaxRetries: cfg.Queue.MaxRetries,
		RetryBase:  cfg.Queue.RetryBase,
	}
	c.Summaries = &SummaryService{
		DB:         db,
		Broker:     c.Broker,
		Log:        log.With().Str("component", "summaries").Logger(),
		Location:   cfg.ADMS.Location,
		ShiftStart: shift,
	}
	c.Sync = &SyncEngine{
		DB:                db,
		Queue:             c.Queue,
		Capabilities:      c.Capabilities,
		Log:               log.With().Str("component", "sync").Logger(),
		IdentityWindow:    cfg.Sync.IdentityWindow,
		DefaultFaceMajor:  cfg.Sync.DefaultFaceMajor,
		DefaultFaceMinor:  cfg.Sync.DefaultFaceMinor,
		MinTemplateLength: cfg.Sync.TemplateMinLength,
	}
	c.Dispatcher = NewSyncDispatcher(c.Sync, cfg.Sync.Buffer, c.Sync.Log)
	c.Ingest = &IngestService{
		DB: db,
		Parser: adms.Parser{
			Location:          cfg.ADMS.Location,
			MinTemplateLength: cfg.Sync.TemplateMinLength,
		},
		Devices:          c.Devices,
		Capabilities:     c.Capabilities,
		Summaries:        c.Summaries,
		Templates:        c.Dispatcher,
		Broker:           c.Broker,
		Log:              log.With().Str("component", "ingest").Logger(),
		FaceAlwaysResync: cfg.Sync.FaceAlwaysResync,
	}
	c.Maintenance = &Maintenance{
		DB:      db,
		Queue:   c.Queue,
		Devices: c.Devices,
		Config:  cfg.Queue,
		Log:     log.With().Str("component", "maintenance").Logger(),
	}
	return c, nil
}

// Run seeds the online gauge, starts the fan-out worker and the maintenance
// loop and returns once both have stopped.
func (c *Container) Run(ctx context.Context) {
	c.Devices.refreshOnline(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.Dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.Maintenance.Run(ctx)
	}()
	wg.Wait()
}
