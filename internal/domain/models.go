// Package domain defines the persistence models for terminals, employees,
// attendance and biometric templates. These types are mapped with GORM and
// form the core data layer of the ADMS server.
//
// All timestamps are stored in UTC.
package domain

import "time"

// Device liveness states.
const (
	DeviceOnline  = "online"
	DeviceOffline = "offline"
)

// Punch direction overrides configured per device.
const (
	DirectionIn   = "in"
	DirectionOut  = "out"
	DirectionBoth = "both"
)

// Device represents a physical terminal identified by its serial number.
// Rows are created on first contact and never deleted automatically.
//
// Fields:
//   - Serial: immutable serial number (primary key).
//   - Status: online|offline, refreshed on every interaction.
//   - LastSeenAt: time of the most recent request from the terminal.
//   - IPAddress: remote address of the most recent request.
//   - Model / Firmware: parsed from the capability descriptor.
//   - Direction: in|out|both punch-state override.
type Device struct {
	Serial     string     `json:"serial"      gorm:"type:varchar(64);primaryKey"`
	Alias      string     `json:"alias"       gorm:"type:varchar(128)"`
	Status     string     `json:"status"      gorm:"type:varchar(16);not null;default:'offline';index"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty" gorm:"index"`
	IPAddress  string     `json:"ip_address"  gorm:"type:varchar(64)"`
	Model      string     `json:"model"       gorm:"type:varchar(128)"`
	Firmware   string     `json:"firmware"    gorm:"type:varchar(128)"`
	Direction  string     `json:"direction"   gorm:"type:varchar(8);not null;default:'both'"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Device.
func (Device) TableName() string { return "devices" }

// DeviceCapabilities is the one-to-one capability profile of a Device.
// Version fields only ever move from unknown (0) to known, never back.
type DeviceCapabilities struct {
	DeviceSN     string    `json:"device_sn"      gorm:"type:varchar(64);primaryKey"`
	Face         bool      `json:"face"`
	Finger       bool      `json:"finger"`
	Palm         bool      `json:"palm"`
	Card         bool      `json:"card"`
	FaceMajorVer int       `json:"face_major_ver" gorm:"not null;default:0"`
	FaceMinorVer int       `json:"face_minor_ver" gorm:"not null;default:0"`
	FaceFormat   int       `json:"face_format"    gorm:"not null;default:0"`
	Descriptor   string    `json:"descriptor"     gorm:"type:text"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for DeviceCapabilities.
func (DeviceCapabilities) TableName() string { return "device_capabilities" }

// Employee is the minimal identity record terminals share. Name, privilege,
// card and password come from USER lines; the biometric flags are flipped
// when a template for the employee is accepted.
type Employee struct {
	Code           string    `json:"code"            gorm:"type:varchar(64);primaryKey"`
	Name           string    `json:"name"            gorm:"type:varchar(255)"`
	Privilege      int       `json:"privilege"       gorm:"not null;default:0"`
	Card           string    `json:"card"            gorm:"type:varchar(64)"`
	Password       string    `json:"-"               gorm:"type:varchar(64)"`
	HasFingerprint bool      `json:"has_fingerprint" gorm:"not null;default:false"`
	HasFace        bool      `json:"has_face"        gorm:"not null;default:false"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Employee.
func (Employee) TableName() string { return "employees" }

// AttendancePunch is one timestamped check-in/out event. The pair
// (EmployeeCode, PunchTime) is unique; re-delivery only refreshes RawLine
// and UploadedAt.
type AttendancePunch struct {
	ID           uint      `json:"id"            gorm:"primaryKey;autoIncrement"`
	EmployeeCode string    `json:"employee_code" gorm:"type:varchar(64);not null;uniqueIndex:ux_punch_employee_time,priority:1"`
	PunchTime    time.Time `json:"punch_time"    gorm:"not null;uniqueIndex:ux_punch_employee_time,priority:2"`
	DeviceSN     string    `json:"device_sn"     gorm:"type:varchar(64);not null;index"`
	State        int       `json:"state"         gorm:"not null;default:0"`
	VerifyMode   int       `json:"verify_mode"   gorm:"not null;default:0"`
	WorkCode     string    `json:"work_code"     gorm:"type:varchar(32)"`
	RawLine      string    `json:"raw_line"      gorm:"type:text"`
	Synced       bool      `json:"synced"        gorm:"not null;default:false;index"`
	UploadedAt   time.Time `json:"uploaded_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for AttendancePunch.
func (AttendancePunch) TableName() string { return "attendance_punches" }

// Daily attendance statuses.
const (
	SummaryPresent   = "Present"
	SummaryAbsent    = "Absent"
	SummaryMissPunch = "Miss Punch"
)

// DailyAttendanceSummary folds one employee's punches for one calendar day.
// Date is the local calendar day formatted as 2006-01-02.
type DailyAttendanceSummary struct {
	ID            uint       `json:"id"             gorm:"primaryKey;autoIncrement"`
	EmployeeCode  string     `json:"employee_code"  gorm:"type:varchar(64);not null;uniqueIndex:ux_summary_employee_date,priority:1"`
	Date          string     `json:"date"           gorm:"type:char(10);not null;uniqueIndex:ux_summary_employee_date,priority:2"`
	InTime        *time.Time `json:"in_time,omitempty"`
	OutTime       *time.Time `json:"out_time,omitempty"`
	WorkedMinutes int        `json:"worked_minutes" gorm:"not null;default:0"`
	LateMinutes   int        `json:"late_minutes"   gorm:"not null;default:0"`
	PunchCount    int        `json:"punch_count"    gorm:"not null;default:0"`
	Status        string     `json:"status"         gorm:"type:varchar(16);not null"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for DailyAttendanceSummary.
func (DailyAttendanceSummary) TableName() string { return "daily_attendance_summaries" }

// OperationLog is one audit line reported by a terminal (OPERLOG/ERRORLOG).
type OperationLog struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	DeviceSN  string    `json:"device_sn"  gorm:"type:varchar(64);not null;index:idx_oplog_device_time,priority:1"`
	Table     string    `json:"table"      gorm:"column:log_table;type:varchar(16);not null"`
	Tag       string    `json:"tag"        gorm:"type:varchar(32)"`
	Code      string    `json:"code"       gorm:"type:varchar(32)"`
	Actor     string    `json:"actor"      gorm:"type:varchar(64)"`
	LoggedAt  time.Time `json:"logged_at"  gorm:"index:idx_oplog_device_time,priority:2"`
	Detail    string    `json:"detail"     gorm:"type:text"`
	RawLine   string    `json:"raw_line"   gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for OperationLog.
func (OperationLog) TableName() string { return "operation_logs" }
