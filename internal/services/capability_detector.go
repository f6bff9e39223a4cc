// Package services – CapabilityDetector
//
// CapabilityDetector turns a terminal's INFO self-description into a stored
// DeviceCapabilities profile and folds algorithm versions observed in uploaded
// templates into it. Known versions are never replaced by unknown ones.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-adms-server/internal/adms"
	"github.com/tbourn/go-adms-server/internal/domain"
	"github.com/tbourn/go-adms-server/internal/repo"
)

// CapabilityDetector persists capability profiles idempotently.
type CapabilityDetector struct {
	DB  *gorm.DB
	Log zerolog.Logger

	// DefaultFaceMajor seeds the profile of terminals that never describe
	// themselves.
	DefaultFaceMajor int
	DefaultFaceMinor int
}

// Detect parses info for device sn and merges it into the stored profile.
// An empty descriptor seeds the conservative default profile instead; an
// existing profile is left as is in that case.
func (d *CapabilityDetector) Detect(ctx context.Context, sn, info string) error {
	ctx, span := otel.Tracer("services/CapabilityDetector").Start(ctx, "Detect",
		trace.WithAttributes(attribute.String("device.sn", sn)),
	)
	defer span.End()

	c, ok := adms.ParseDescriptor(info)
	if !ok {
		return d.SeedDefault(ctx, sn)
	}
	caps := &domain.DeviceCapabilities{
		DeviceSN:     sn,
		Face:         c.Face,
		Finger:       c.Finger,
		Palm:         c.Palm,
		Card:         c.Card,
		FaceMajorVer: c.FaceMajorVer,
		Descriptor:   c.Raw,
	}
	if err := repo.MergeCapabilities(ctx, d.DB, caps); err != nil {
		return err
	}
	if c.Model != "" {
		if err := repo.UpdateDeviceIdentity(ctx, d.DB, sn, c.Model, c.Firmware); err != nil {
			return err
		}
	}
	d.Log.Debug().Str("sn", sn).Str("model", c.Model).Int("face_major", c.FaceMajorVer).Msg("capabilities detected")
	return nil
}

// SeedDefault creates the default profile for sn when none exists yet.
func (d *CapabilityDetector) SeedDefault(ctx context.Context, sn string) error {
	def := adms.DefaultCapabilities(d.DefaultFaceMajor)
	return repo.SeedCapabilities(ctx, d.DB, &domain.DeviceCapabilities{
		DeviceSN:     sn,
		Face:         def.Face,
		Finger:       def.Finger,
		Palm:         def.Palm,
		Card:         def.Card,
		FaceMajorVer: def.FaceMajorVer,
		FaceMinorVer: d.DefaultFaceMinor,
	})
}

// ObserveVersions records face algorithm versions seen in a face template
// uploaded by sn. Calls with nothing known are no-ops.
func (d *CapabilityDetector) ObserveVersions(ctx context.Context, sn string, major, minor, format int) error {
	if major <= 0 && minor <= 0 && format <= 0 {
		return nil
	}
	return repo.MergeCapabilityVersions(ctx, d.DB, sn, major, minor, format)
}

// FaceVersion returns the best known face algorithm version of sn. known is
// false when the device has no profile or no major version recorded.
func (d *CapabilityDetector) FaceVersion(ctx context.Context, sn string) (major, minor int, known bool, err error) {
	c, err := repo.GetCapabilities(ctx, d.DB, sn)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	if c.FaceMajorVer <= 0 {
		return 0, 0, false, nil
	}
	return c.FaceMajorVer, c.FaceMinorVer, true, nil
}
