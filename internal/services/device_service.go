// Package services – DeviceService
//
// DeviceService is the device registry: it answers handshakes, refreshes
// liveness on every terminal interaction, applies operator device profiles
// and marks silent terminals offline. Liveness transitions are published on
// the Broker so the operator UI can render live status.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-adms-server/internal/adms"
	"github.com/tbourn/go-adms-server/internal/config"
	"github.com/tbourn/go-adms-server/internal/domain"
	"github.com/tbourn/go-adms-server/internal/repo"
)

// DeviceService tracks terminal identity and liveness.
type DeviceService struct {
	DB           *gorm.DB
	Capabilities *CapabilityDetector
	Broker       *Broker
	Log          zerolog.Logger

	// Options is the protocol block returned on handshake.
	Options adms.HandshakeConfig

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DeviceStatus is a device with its queue counters.
type DeviceStatus struct {
	domain.Device
	Queue repo.QueueStats `json:"queue"`
}

// DeviceDetail is a device with its capability profile.
type DeviceDetail struct {
	domain.Device
	Capabilities *domain.DeviceCapabilities `json:"capabilities,omitempty"`
	Queue        repo.QueueStats            `json:"queue"`
}

func (s *DeviceService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Handshake registers or refreshes sn and returns the protocol option block.
// Without a serial it returns the readiness message and touches nothing.
func (s *DeviceService) Handshake(ctx context.Context, sn, ip string) (string, error) {
	ctx, span := otel.Tracer("services/DeviceService").Start(ctx, "Handshake",
		trace.WithAttributes(attribute.String("device.sn", sn)),
	)
	defer span.End()

	sn = strings.TrimSpace(sn)
	if sn == "" {
		return adms.ReadyMessage, nil
	}
	if err := s.Touch(ctx, sn, ip); err != nil {
		return "", err
	}
	if s.Capabilities != nil {
		if err := s.Capabilities.SeedDefault(ctx, sn); err != nil {
			s.Log.Warn().Err(err).Str("sn", sn).Msg("seed capabilities failed")
		}
	}
	return adms.HandshakeResponse(sn, s.Options), nil
}

// Touch marks sn online and stamps its last activity. The first contact of a
// new or offline device publishes an online event.
func (s *DeviceService) Touch(ctx context.Context, sn, ip string) error {
	if strings.TrimSpace(sn) == "" {
		return ErrMissingSerial
	}
	prev, err := repo.TouchDevice(ctx, s.DB, sn, ip, s.now())
	if err != nil {
		return err
	}
	if prev != domain.DeviceOnline {
		s.refreshOnline(ctx)
		s.Log.Info().Str("sn", sn).Str("ip", ip).Str("previous", prev).Msg("device online")
		s.Broker.Publish(Event{Kind: EventDeviceOnline, DeviceSN: sn, Detail: ip, At: s.now()})
	}
	return nil
}

// Poll refreshes liveness for sn and runs capability detection on info.
// Detection failures are logged; they never fail the poll.
func (s *DeviceService) Poll(ctx context.Context, sn, ip, info string) error {
	if err := s.Touch(ctx, sn, ip); err != nil {
		return err
	}
	if s.Capabilities == nil {
		return nil
	}
	if err := s.Capabilities.Detect(ctx, sn, info); err != nil {
		s.Log.Warn().Err(err).Str("sn", sn).Msg("capability detection failed")
	}
	return nil
}

// MarkOffline flips devices silent since before cutoff to offline and
// publishes one event per device.
func (s *DeviceService) MarkOffline(ctx context.Context, cutoff time.Time) (int, error) {
	serials, err := repo.MarkSilentDevicesOffline(ctx, s.DB, cutoff)
	if err != nil {
		return 0, err
	}
	if len(serials) > 0 {
		s.refreshOnline(ctx)
	}
	for _, sn := range serials {
		s.Log.Info().Str("sn", sn).Msg("device offline")
		s.Broker.Publish(Event{Kind: EventDeviceOffline, DeviceSN: sn, At: s.now()})
	}
	return len(serials), nil
}

// CountOnline sets the online gauge from storage and returns the count.
func (s *DeviceService) CountOnline(ctx context.Context) (int64, error) {
	n, err := repo.CountDevicesByStatus(ctx, s.DB, domain.DeviceOnline)
	if err != nil {
		return 0, err
	}
	devicesOnline.Set(float64(n))
	return n, nil
}

func (s *DeviceService) refreshOnline(ctx context.Context) {
	if _, err := s.CountOnline(ctx); err != nil {
		s.Log.Warn().Err(err).Msg("online gauge refresh failed")
	}
}

// ApplyProfiles stores operator-managed alias and punch direction for each
// profile. It is idempotent and never changes liveness.
func (s *DeviceService) ApplyProfiles(ctx context.Context, profiles []config.DeviceProfile) error {
	for _, p := range profiles {
		if err := repo.ApplyDeviceProfile(ctx, s.DB, p.Serial, p.Alias, p.Direction); err != nil {
			return err
		}
	}
	return nil
}

// List returns every device with its queue counters.
func (s *DeviceService) List(ctx context.Context) ([]DeviceStatus, error) {
	devs, err := repo.ListDevices(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := make([]DeviceStatus, 0, len(devs))
	for _, d := range devs {
		qs, err := repo.DeviceQueueStats(ctx, s.DB, d.Serial)
		if err != nil {
			return nil, err
		}
		out = append(out, DeviceStatus{Device: d, Queue: qs})
	}
	return out, nil
}

// Get returns one device with capabilities and queue counters.
func (s *DeviceService) Get(ctx context.Context, sn string) (*DeviceDetail, error) {
	d, err := repo.GetDevice(ctx, s.DB, sn)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	out := &DeviceDetail{Device: *d}
	caps, err := repo.GetCapabilities(ctx, s.DB, sn)
	switch {
	case err == nil:
		out.Capabilities = caps
	case !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}
	if out.Queue, err = repo.DeviceQueueStats(ctx, s.DB, sn); err != nil {
		return nil, err
	}
	return out, nil
}
