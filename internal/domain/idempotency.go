package domain

import "time"

// Idempotency represents the recorded outcome of a previously processed
// operator enqueue, keyed by (device_sn, key). It lets operators retry a
// POST safely: the original command is returned without enqueuing again.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	DeviceSN  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_device_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_device_key,priority:2"`
	CommandID uint      `gorm:"type:INTEGER NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
