package domain

import "time"

// Biometric template type codes as used on the wire.
const (
	TemplateGeneric     = 0
	TemplateFinger      = 1
	TemplateFaceLegacy  = 2
	TemplatePalm        = 8
	TemplateFaceVisible = 9
)

// BiometricTemplate is an enrolled biometric signature. The triple
// (EmployeeCode, Type, Slot) is unique. Payload is opaque text and is
// compared in normalized form for change detection.
type BiometricTemplate struct {
	ID           uint      `json:"id"            gorm:"primaryKey;autoIncrement"`
	EmployeeCode string    `json:"employee_code" gorm:"type:varchar(64);not null;uniqueIndex:ux_template_identity,priority:1"`
	Type         int       `json:"type"          gorm:"not null;uniqueIndex:ux_template_identity,priority:2"`
	Slot         int       `json:"slot"          gorm:"not null;uniqueIndex:ux_template_identity,priority:3"`
	Index        int       `json:"index"         gorm:"column:slot_index;not null;default:0"`
	Valid        bool      `json:"valid"         gorm:"not null"`
	Duress       bool      `json:"duress"        gorm:"not null;default:false"`
	Payload      string    `json:"-"             gorm:"type:text;not null"`
	SourceSN     string    `json:"source_sn"     gorm:"type:varchar(64);not null;index"`
	MajorVer     int       `json:"major_ver"     gorm:"not null;default:0"`
	MinorVer     int       `json:"minor_ver"     gorm:"not null;default:0"`
	Format       int       `json:"format"        gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for BiometricTemplate.
func (BiometricTemplate) TableName() string { return "biometric_templates" }

// IsFace reports whether the template carries face data.
func (t BiometricTemplate) IsFace() bool { return IsFaceType(t.Type) }

// IsFaceType reports whether a type code denotes a face template.
func IsFaceType(typ int) bool { return typ == TemplateFaceLegacy || typ == TemplateFaceVisible }
