// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// DeviceCommand outbox.
//
// State transitions are expressed as conditional updates (WHERE status = ?)
// so that a row only moves when it is still in the expected state; callers
// check the returned "moved" flag instead of holding locks.
package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-adms-server/internal/domain"
)

// CreateCommands inserts all commands in one transaction.
func CreateCommands(ctx context.Context, db *gorm.DB, cmds []*domain.DeviceCommand) error {
	if len(cmds) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range cmds {
			if err := tx.Create(c).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// NextPendingCommand returns the head of a device's queue: the pending
// command with the lowest (priority, sequence, created_at, id) whose retry
// wait has elapsed, or ErrNotFound.
func NextPendingCommand(ctx context.Context, db *gorm.DB, sn string, now time.Time) (*domain.DeviceCommand, error) {
	var c domain.DeviceCommand
	err := db.WithContext(ctx).
		Where("device_sn = ? AND status = ?", sn, domain.CommandPending).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("priority asc, sequence asc, created_at asc, id asc").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// TransitionCommand applies updates to command id only if it is currently
// in status from. It reports whether the row moved.
func TransitionCommand(ctx context.Context, db *gorm.DB, id uint, from string, updates map[string]any) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.DeviceCommand{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// GetCommand fetches a command by id or returns ErrNotFound.
func GetCommand(ctx context.Context, db *gorm.DB, id uint) (*domain.DeviceCommand, error) {
	var c domain.DeviceCommand
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCommands returns a device's commands in queue order, optionally
// filtered by status. limit <= 0 means no limit.
func ListCommands(ctx context.Context, db *gorm.DB, sn, status string, limit int) ([]domain.DeviceCommand, error) {
	var out []domain.DeviceCommand
	q := db.WithContext(ctx).Where("device_sn = ?", sn)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("priority asc, sequence asc, created_at asc, id asc").Find(&out).Error
	return out, err
}

// ClearElapsedRetries drops the wait marker of pending commands whose retry
// time has passed.
func ClearElapsedRetries(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.DeviceCommand{}).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", domain.CommandPending, now).
		Update("next_retry_at", nil)
	return res.RowsAffected, res.Error
}

// PurgeCompletedCommands deletes success and dead_letter commands completed
// before cutoff.
func PurgeCompletedCommands(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status IN ? AND completed_at IS NOT NULL AND completed_at < ?",
			[]string{domain.CommandSuccess, domain.CommandDeadLetter}, cutoff).
		Delete(&domain.DeviceCommand{})
	return res.RowsAffected, res.Error
}

// CancelPendingCommands moves a device's pending commands to cancelled.
// A non-empty prefix restricts the match to commands whose payload starts
// with it (case-insensitive).
func CancelPendingCommands(ctx context.Context, db *gorm.DB, sn, prefix string, now time.Time) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.DeviceCommand{}).
		Where("device_sn = ? AND status = ?", sn, domain.CommandPending)
	if p := strings.TrimSpace(prefix); p != "" {
		q = q.Where("UPPER(command) LIKE ? ESCAPE '\\'", likePrefix(strings.ToUpper(p)))
	}
	res := q.Updates(map[string]any{"status": domain.CommandCancelled, "completed_at": now})
	return res.RowsAffected, res.Error
}

// ListStaleSent returns commands that have been in sent since before cutoff.
func ListStaleSent(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.DeviceCommand, error) {
	var out []domain.DeviceCommand
	err := db.WithContext(ctx).
		Where("status = ? AND sent_at IS NOT NULL AND sent_at < ?", domain.CommandSent, cutoff).
		Order("id asc").
		Find(&out).Error
	return out, err
}

// HasRecentCommand reports whether a command of kind for subject pin was
// enqueued for device sn at or after since.
func HasRecentCommand(ctx context.Context, db *gorm.DB, sn, kind, pin string, since time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.DeviceCommand{}).
		Where("device_sn = ? AND kind = ? AND subject_pin = ? AND created_at >= ?", sn, kind, pin, since).
		Where("status <> ?", domain.CommandCancelled).
		Count(&n).Error
	return n > 0, err
}

func likePrefix(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s) + "%"
}
