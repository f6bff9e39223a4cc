// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Device and
// DeviceCapabilities models.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - When a device is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-adms-server/internal/domain"
)

// TouchDevice records an interaction from serial sn: the row is created if
// missing, marked online and stamped with now and the remote address.
// An empty ip keeps the stored address.
// It returns the status the device had before the call ("" when new).
func TouchDevice(ctx context.Context, db *gorm.DB, sn, ip string, now time.Time) (string, error) {
	var prev domain.Device
	err := db.WithContext(ctx).Select("serial", "status").Where("serial = ?", sn).Take(&prev).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	d := &domain.Device{
		Serial:     sn,
		Status:     domain.DeviceOnline,
		LastSeenAt: &now,
		IPAddress:  ip,
		Direction:  domain.DirectionBoth,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	cols := []string{"status", "last_seen_at", "updated_at"}
	if ip != "" {
		cols = append(cols, "ip_address")
	}
	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "serial"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(d).Error
	return prev.Status, err
}

// GetDevice fetches a device by serial or returns ErrNotFound.
func GetDevice(ctx context.Context, db *gorm.DB, sn string) (*domain.Device, error) {
	var d domain.Device
	if err := db.WithContext(ctx).Where("serial = ?", sn).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDevices returns all devices ordered by serial.
func ListDevices(ctx context.Context, db *gorm.DB) ([]domain.Device, error) {
	var out []domain.Device
	err := db.WithContext(ctx).Order("serial asc").Find(&out).Error
	return out, err
}

// ListOtherDevices returns every device except exceptSN, ordered by serial.
func ListOtherDevices(ctx context.Context, db *gorm.DB, exceptSN string) ([]domain.Device, error) {
	var out []domain.Device
	err := db.WithContext(ctx).Where("serial <> ?", exceptSN).Order("serial asc").Find(&out).Error
	return out, err
}

// UpdateDeviceIdentity stores the model and firmware parsed from a descriptor.
func UpdateDeviceIdentity(ctx context.Context, db *gorm.DB, sn, model, firmware string) error {
	return db.WithContext(ctx).Model(&domain.Device{}).
		Where("serial = ?", sn).
		Updates(map[string]any{"model": model, "firmware": firmware}).Error
}

// ApplyDeviceProfile creates or updates the operator-managed fields of a
// device (alias and punch direction) without touching liveness.
func ApplyDeviceProfile(ctx context.Context, db *gorm.DB, sn, alias, direction string) error {
	now := time.Now().UTC()
	d := &domain.Device{
		Serial:    sn,
		Alias:     alias,
		Status:    domain.DeviceOffline,
		Direction: direction,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "serial"}},
		DoUpdates: clause.AssignmentColumns([]string{"alias", "direction", "updated_at"}),
	}).Create(d).Error
}

// MarkSilentDevicesOffline flips online devices not seen since cutoff to
// offline and returns their serials.
func MarkSilentDevicesOffline(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]string, error) {
	var serials []string
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Device{}).
			Where("status = ? AND last_seen_at < ?", domain.DeviceOnline, cutoff).
			Pluck("serial", &serials).Error; err != nil {
			return err
		}
		if len(serials) == 0 {
			return nil
		}
		return tx.Model(&domain.Device{}).
			Where("serial IN ? AND status = ? AND last_seen_at < ?", serials, domain.DeviceOnline, cutoff).
			Updates(map[string]any{"status": domain.DeviceOffline, "updated_at": time.Now().UTC()}).Error
	})
	return serials, err
}

// CountDevicesByStatus returns how many devices are in status.
func CountDevicesByStatus(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Device{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

// GetCapabilities fetches the capability profile of a device or ErrNotFound.
func GetCapabilities(ctx context.Context, db *gorm.DB, sn string) (*domain.DeviceCapabilities, error) {
	var c domain.DeviceCapabilities
	if err := db.WithContext(ctx).Where("device_sn = ?", sn).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// keepKnown renders "take the incoming value unless it is unknown (0)".
func keepKnown(col string) clause.Expr {
	return gorm.Expr("CASE WHEN excluded." + col + " > 0 THEN excluded." + col +
		" ELSE device_capabilities." + col + " END")
}

// MergeCapabilities upserts a descriptor-derived profile. Modality flags and
// the raw descriptor are replaced; the face major version only replaces the
// stored one when the incoming value is known.
func MergeCapabilities(ctx context.Context, db *gorm.DB, c *domain.DeviceCapabilities) error {
	c.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_sn"}},
		DoUpdates: clause.Assignments(map[string]any{
			"face":           gorm.Expr("excluded.face"),
			"finger":         gorm.Expr("excluded.finger"),
			"palm":           gorm.Expr("excluded.palm"),
			"card":           gorm.Expr("excluded.card"),
			"descriptor":     gorm.Expr("excluded.descriptor"),
			"face_major_ver": keepKnown("face_major_ver"),
			"updated_at":     gorm.Expr("excluded.updated_at"),
		}),
	}).Create(c).Error
}

// SeedCapabilities inserts c only if the device has no profile yet.
func SeedCapabilities(ctx context.Context, db *gorm.DB, c *domain.DeviceCapabilities) error {
	c.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_sn"}},
		DoNothing: true,
	}).Create(c).Error
}

// MergeCapabilityVersions folds algorithm versions observed in an uploaded
// template into the profile. Zero values never overwrite known ones. A
// missing profile is created with the conservative default modalities.
func MergeCapabilityVersions(ctx context.Context, db *gorm.DB, sn string, major, minor, format int) error {
	c := &domain.DeviceCapabilities{
		DeviceSN:     sn,
		Face:         true,
		Finger:       true,
		Card:         true,
		FaceMajorVer: major,
		FaceMinorVer: minor,
		FaceFormat:   format,
		UpdatedAt:    time.Now().UTC(),
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_sn"}},
		DoUpdates: clause.Assignments(map[string]any{
			"face_major_ver": keepKnown("face_major_ver"),
			"face_minor_ver": keepKnown("face_minor_ver"),
			"face_format":    keepKnown("face_format"),
			"updated_at":     gorm.Expr("excluded.updated_at"),
		}),
	}).Create(c).Error
}
