// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for employees,
// attendance punches, daily summaries and terminal operation logs.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-adms-server/internal/domain"
)

// UpsertEmployeeIdentity creates or updates the identity fields of an
// employee. Biometric flags are left untouched.
func UpsertEmployeeIdentity(ctx context.Context, db *gorm.DB, e *domain.Employee) error {
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "privilege", "card", "password", "updated_at"}),
	}).Create(e).Error
}

// SetBiometricFlag marks an employee as enrolled for face or fingerprint,
// creating a bare employee row when none exists.
func SetBiometricFlag(ctx context.Context, db *gorm.DB, code string, face bool) error {
	now := time.Now().UTC()
	col := "has_fingerprint"
	if face {
		col = "has_face"
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&domain.Employee{Code: code, CreatedAt: now, UpdatedAt: now}).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Employee{}).Where("code = ?", code).
			Updates(map[string]any{col: true, "updated_at": now}).Error
	})
}

// GetEmployee fetches an employee by code or returns ErrNotFound.
func GetEmployee(ctx context.Context, db *gorm.DB, code string) (*domain.Employee, error) {
	var e domain.Employee
	if err := db.WithContext(ctx).Where("code = ?", code).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertPunch inserts a punch or, when (employee_code, punch_time) already
// exists, refreshes only raw_line and uploaded_at.
func UpsertPunch(ctx context.Context, db *gorm.DB, p *domain.AttendancePunch) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "employee_code"}, {Name: "punch_time"}},
		DoUpdates: clause.AssignmentColumns([]string{"raw_line", "uploaded_at"}),
	}).Create(p).Error
}

// ListPunchesBetween returns an employee's punches in [from, to) ordered by
// time.
func ListPunchesBetween(ctx context.Context, db *gorm.DB, code string, from, to time.Time) ([]domain.AttendancePunch, error) {
	var out []domain.AttendancePunch
	err := db.WithContext(ctx).
		Where("employee_code = ? AND punch_time >= ? AND punch_time < ?", code, from.UTC(), to.UTC()).
		Order("punch_time asc, id asc").
		Find(&out).Error
	return out, err
}

// UpsertSummary writes the summary for (employee_code, date).
func UpsertSummary(ctx context.Context, db *gorm.DB, s *domain.DailyAttendanceSummary) error {
	s.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "employee_code"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"in_time", "out_time", "worked_minutes", "late_minutes", "punch_count", "status", "updated_at",
		}),
	}).Create(s).Error
}

// GetSummary fetches the summary for one employee and day or ErrNotFound.
func GetSummary(ctx context.Context, db *gorm.DB, code, date string) (*domain.DailyAttendanceSummary, error) {
	var s domain.DailyAttendanceSummary
	if err := db.WithContext(ctx).Where("employee_code = ? AND date = ?", code, date).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateOperationLogs appends audit lines in one statement.
func CreateOperationLogs(ctx context.Context, db *gorm.DB, logs []domain.OperationLog) error {
	if len(logs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&logs).Error
}
