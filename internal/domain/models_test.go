package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Device{}).TableName():                 "devices",
		(DeviceCapabilities{}).TableName():     "device_capabilities",
		(Employee{}).TableName():               "employees",
		(AttendancePunch{}).TableName():        "attendance_punches",
		(DailyAttendanceSummary{}).TableName(): "daily_attendance_summaries",
		(OperationLog{}).TableName():           "operation_logs",
		(BiometricTemplate{}).TableName():      "biometric_templates",
		(DeviceCommand{}).TableName():          "device_commands",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Device{}, &DeviceCapabilities{}, &Employee{}, &AttendancePunch{},
		&DailyAttendanceSummary{}, &OperationLog{}, &BiometricTemplate{}, &DeviceCommand{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	checks := []struct {
		model any
		index string
	}{
		{&AttendancePunch{}, "ux_punch_employee_time"},
		{&DailyAttendanceSummary{}, "ux_summary_employee_date"},
		{&BiometricTemplate{}, "ux_template_identity"},
		{&DeviceCommand{}, "idx_cmd_queue"},
		{&OperationLog{}, "idx_oplog_device_time"},
	}
	for _, c := range checks {
		if !m.HasIndex(c.model, c.index) {
			t.Fatalf("expected index %s on %T", c.index, c.model)
		}
	}
}

func TestAttendancePunch_UniqueEmployeeTime(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&AttendancePunch{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	at := time.Date(2024, 1, 10, 9, 15, 0, 0, time.UTC)
	if err := db.Create(&AttendancePunch{EmployeeCode: "E001", PunchTime: at, DeviceSN: "DEV1"}).Error; err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := db.Create(&AttendancePunch{EmployeeCode: "E001", PunchTime: at, DeviceSN: "DEV2"}).Error; err == nil {
		t.Fatalf("expected UNIQUE violation on (employee_code, punch_time)")
	}
	if err := db.Create(&AttendancePunch{EmployeeCode: "E002", PunchTime: at, DeviceSN: "DEV1"}).Error; err != nil {
		t.Fatalf("other employee same instant should insert: %v", err)
	}
}

func TestBiometricTemplate_UniqueTriple(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&BiometricTemplate{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	base := BiometricTemplate{EmployeeCode: "E1", Type: TemplateFinger, Slot: 0, Payload: "x", SourceSN: "D"}
	first := base
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := base
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected UNIQUE violation on (employee_code, type, slot)")
	}
	other := base
	other.Slot = 1
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("different slot should insert: %v", err)
	}
}

func TestIsFaceType(t *testing.T) {
	for typ, want := range map[int]bool{
		TemplateGeneric: false, TemplateFinger: false, TemplateFaceLegacy: true,
		TemplatePalm: false, TemplateFaceVisible: true,
	} {
		if got := (BiometricTemplate{Type: typ}).IsFace(); got != want {
			t.Fatalf("IsFace(type=%d) = %v; want %v", typ, got, want)
		}
	}
}

func TestDeviceCommand_Defaults(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&DeviceCommand{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	c := DeviceCommand{DeviceSN: "DEV1", Command: "INFO"}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	var got DeviceCommand
	if err := db.First(&got, c.ID).Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Status != CommandPending || got.Kind != KindOther || got.Priority != PriorityNormal || got.MaxRetries != 3 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
	if got.NextRetryAt != nil || got.CompletedAt != nil {
		t.Fatalf("timestamps should be nil: %+v", got)
	}
}
