// Package services – Maintenance
//
// Maintenance runs the periodic housekeeping passes: the retry sweep, the
// purge of finished commands and expired idempotency keys, and the liveness
// pass that marks silent devices offline and fails stale sent commands.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-adms-server/internal/config"
	"github.com/tbourn/go-adms-server/internal/repo"
)

// Maintenance owns the background tickers.
type Maintenance struct {
	DB      *gorm.DB
	Queue   *QueueService
	Devices *DeviceService
	Config  config.QueueConfig
	Log     zerolog.Logger

	Now func() time.Time
}

func (m *Maintenance) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// Run blocks until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context) {
	sweep := time.NewTicker(m.Config.RetrySweepInterval)
	defer sweep.Stop()
	purge := time.NewTicker(m.Config.PurgeInterval)
	defer purge.Stop()
	live := time.NewTicker(m.Config.MaintenanceInterval)
	defer live.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			m.SweepOnce(ctx)
		case <-purge.C:
			m.PurgeOnce(ctx)
		case <-live.C:
			m.LivenessOnce(ctx)
		}
	}
}

// SweepOnce makes pending commands whose backoff elapsed eligible again.
func (m *Maintenance) SweepOnce(ctx context.Context) {
	n, err := m.Queue.RetrySweep(ctx)
	if err != nil {
		m.Log.Error().Err(err).Msg("retry sweep failed")
		return
	}
	if n > 0 {
		m.Log.Debug().Int64("commands", n).Msg("retry sweep")
	}
}

// PurgeOnce removes old finished commands and expired idempotency keys.
func (m *Maintenance) PurgeOnce(ctx context.Context) {
	n, err := m.Queue.Purge(ctx, m.Config.Retention)
	if err != nil {
		m.Log.Error().Err(err).Msg("command purge failed")
	} else if n > 0 {
		m.Log.Info().Int64("commands", n).Msg("purged finished commands")
	}
	k, err := repo.PurgeExpiredIdempotency(ctx, m.DB, m.now())
	if err != nil {
		m.Log.Error().Err(err).Msg("idempotency purge failed")
	} else if k > 0 {
		m.Log.Debug().Int64("keys", k).Msg("purged idempotency keys")
	}
}

// LivenessOnce marks silent devices offline and times out sent commands
// that never got a result.
func (m *Maintenance) LivenessOnce(ctx context.Context) {
	if _, err := m.Devices.MarkOffline(ctx, m.now().Add(-m.Config.OfflineAfter)); err != nil {
		m.Log.Error().Err(err).Msg("offline pass failed")
	}
	n, err := m.Queue.FailStaleSent(ctx, m.Config.SentTimeout)
	if err != nil {
		m.Log.Error().Err(err).Msg("stale sent pass failed")
		return
	}
	if n > 0 {
		m.Log.Warn().Int("commands", n).Msg("timed out sent commands")
	}
}
