package domain

import (
	"testing"
	"time"
)

func TestIdempotency_Migration_Indexes_AndInsert(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasTable(&Idempotency{}) {
		t.Fatalf("expected table %q to exist", Idempotency{}.TableName())
	}
	if !m.HasIndex(&Idempotency{}, "ux_device_key") {
		t.Fatalf("expected composite index ux_device_key to exist")
	}

	now := time.Now().UTC()
	rec := &Idempotency{
		ID:        "id-1",
		DeviceSN:  "DEV1",
		Key:       "k1",
		CommandID: 7,
		Status:    201,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}

	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.DeviceSN != "DEV1" || got.Key != "k1" || got.CommandID != 7 || got.Status != 201 {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt should be auto-populated")
	}

	// (device_sn, key) must be unique
	dup := &Idempotency{ID: "id-2", DeviceSN: "DEV1", Key: "k1", CommandID: 8, Status: 201, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE constraint violation on (device_sn, key)")
	}
	// same key for another device is fine
	other := &Idempotency{ID: "id-3", DeviceSN: "DEV2", Key: "k1", CommandID: 9, Status: 201, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("insert for other device: %v", err)
	}
}
