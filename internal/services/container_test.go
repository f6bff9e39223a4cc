package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-adms-server/internal/config"
)

func containerConfig() config.Config {
	return config.Config{
		ShiftStart: "08:30",
		ADMS:       config.ADMSConfig{Delay: 10, ErrorDelay: 30, TransTimes: "00:00", Realtime: true, Location: time.UTC},
		Queue: config.QueueConfig{
			MaxRetries: 5, RetryBase: time.Minute,
			RetrySweepInterval: time.Hour, PurgeInterval: time.Hour, MaintenanceInterval: time.Hour,
			Retention: time.Hour, SentTimeout: time.Hour, OfflineAfter: time.Hour,
		},
		Sync: config.SyncConfig{DefaultFaceMajor: 40, Buffer: 4, TemplateMinLength: 50, FaceAlwaysResync: true},
	}
}

func TestNewContainer_WiresFromConfig(t *testing.T) {
	db := newSvcDB(t)
	c, err := NewContainer(db, containerConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if c.Summaries.ShiftStart != 8*time.Hour+30*time.Minute {
		t.Fatalf("shift start = %v", c.Summaries.ShiftStart)
	}
	if c.Queue.MaxRetries != 5 || c.Queue.Backoff(2) != 2*time.Minute {
		t.Fatalf("queue not configured: %+v", c.Queue)
	}
	if c.Ingest.Templates != c.Dispatcher || c.Dispatcher.Engine != c.Sync {
		t.Fatalf("template fan-out not wired through the dispatcher")
	}
	if c.Ingest.Parser.MinTemplateLength != 50 || !c.Ingest.FaceAlwaysResync {
		t.Fatalf("ingest not configured: %+v", c.Ingest)
	}
	if c.Capabilities.DefaultFaceMajor != 40 || c.Devices.Options.Delay != 10 {
		t.Fatalf("device options not configured")
	}

	cfg := containerConfig()
	cfg.ShiftStart = "late"
	if _, err := NewContainer(db, cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for an invalid shift start")
	}
}

func TestContainer_RunStopsOnCancel(t *testing.T) {
	c, err := NewContainer(newSvcDB(t), containerConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
