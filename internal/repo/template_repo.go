// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// BiometricTemplate model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-adms-server/internal/domain"
)

// GetTemplate fetches a template by its (employee, type, slot) identity or
// returns ErrNotFound.
func GetTemplate(ctx context.Context, db *gorm.DB, code string, typ, slot int) (*domain.BiometricTemplate, error) {
	var t domain.BiometricTemplate
	err := db.WithContext(ctx).
		Where("employee_code = ? AND type = ? AND slot = ?", code, typ, slot).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertTemplate inserts or replaces a template keyed by
// (employee_code, type, slot).
func UpsertTemplate(ctx context.Context, db *gorm.DB, t *domain.BiometricTemplate) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "employee_code"}, {Name: "type"}, {Name: "slot"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"slot_index", "valid", "duress", "payload", "source_sn", "major_ver", "minor_ver", "format", "updated_at",
		}),
	}).Create(t).Error
}

// CountTemplates returns the number of stored templates of the given types.
// With no types it counts every template.
func CountTemplates(ctx context.Context, db *gorm.DB, types ...int) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.BiometricTemplate{})
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	err := q.Count(&n).Error
	return n, err
}
