// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for the
// operator view of the fleet: ETag metadata for the device list and per
// device queue/drift counters.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-adms-server/internal/domain"
)

// DevicesStats returns the number of devices and the maximum UpdatedAt among
// them. When there are no devices, count is 0 and maxUpdatedAt is nil.
func DevicesStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Device{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Device{}).
		Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// QueueStats summarizes one device's outbox.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Sent       int64 `json:"sent"`
	DeadLetter int64 `json:"dead_letter"`
	// Drift counts template data commands not yet applied on the device.
	Drift int64 `json:"drift"`
}

// DeviceQueueStats returns outbox counters for device sn.
func DeviceQueueStats(ctx context.Context, db *gorm.DB, sn string) (QueueStats, error) {
	var rows []struct {
		Status string
		Kind   string
		N      int64
	}
	err := db.WithContext(ctx).Model(&domain.DeviceCommand{}).
		Select("status, kind, COUNT(*) AS n").
		Where("device_sn = ? AND status IN ?", sn,
			[]string{domain.CommandPending, domain.CommandSent, domain.CommandDeadLetter}).
		Group("status, kind").
		Scan(&rows).Error
	if err != nil {
		return QueueStats{}, err
	}

	var s QueueStats
	for _, r := range rows {
		switch r.Status {
		case domain.CommandPending:
			s.Pending += r.N
		case domain.CommandSent:
			s.Sent += r.N
		case domain.CommandDeadLetter:
			s.DeadLetter += r.N
		}
		if r.Kind == domain.KindData {
			s.Drift += r.N
		}
	}
	return s, nil
}
