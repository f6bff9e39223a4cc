package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-adms-server/internal/domain"
)

func mkCmd(sn, cmd string, prio, seq int, created time.Time) *domain.DeviceCommand {
	return &domain.DeviceCommand{
		DeviceSN: sn, Command: cmd, Kind: domain.KindOther, Status: domain.CommandPending,
		Priority: prio, Sequence: seq, MaxRetries: 3, CreatedAt: created,
	}
}

func TestNextPendingCommand_Order(t *testing.T) {
	db := newTestDB(t, &domain.DeviceCommand{})
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cmds := []*domain.DeviceCommand{
		mkCmd("D", "late-normal", 5, 0, t0.Add(time.Second)),
		mkCmd("D", "early-normal", 5, 0, t0),
		mkCmd("D", "data", 2, 3, t0),
		mkCmd("D", "identity", 2, 1, t0.Add(time.Minute)),
		mkCmd("D", "delete", 2, 2, t0),
		mkCmd("OTHER", "x", 1, 0, t0),
	}
	if err := CreateCommands(ctx, db, cmds); err != nil {
		t.Fatalf("CreateCommands: %v", err)
	}

	now := t0.Add(time.Hour)
	want := []string{"identity", "delete", "data", "early-normal", "late-normal"}
	for _, w := range want {
		c, err := NextPendingCommand(ctx, db, "D", now)
		if err != nil {
			t.Fatalf("NextPendingCommand: %v", err)
		}
		if c.Command != w {
			t.Fatalf("dequeued %q; want %q", c.Command, w)
		}
		moved, err := TransitionCommand(ctx, db, c.ID, domain.CommandPending, map[string]any{"status": domain.CommandSent})
		if err != nil || !moved {
			t.Fatalf("TransitionCommand = %v, %v", moved, err)
		}
	}
	if _, err := NextPendingCommand(ctx, db, "D", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}

func TestNextPendingCommand_RespectsRetryTime(t *testing.T) {
	db := newTestDB(t, &domain.DeviceCommand{})
	ctx := context.Background()
	now := time.Now().UTC()
	c := mkCmd("D", "later", 5, 0, now)
	future := now.Add(time.Minute)
	c.NextRetryAt = &future
	_ = CreateCommands(ctx, db, []*domain.DeviceCommand{c})

	if _, err := NextPendingCommand(ctx, db, "D", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("command waiting for retry must not dequeue, got %v", err)
	}
	if got, err := NextPendingCommand(ctx, db, "D", future.Add(time.Second)); err != nil || got.ID != c.ID {
		t.Fatalf("command should dequeue after its retry time: %v %v", got, err)
	}

	n, err := ClearElapsedRetries(ctx, db, future.Add(time.Second))
	if err != nil || n != 1 {
		t.Fatalf("ClearElapsedRetries = %d, %v", n, err)
	}
	got, _ := GetCommand(ctx, db, c.ID)
	if got.NextRetryAt != nil {
		t.Fatalf("wait marker not cleared")
	}
}

func TestTransitionCommand_WrongStateDoesNotMove(t *testing.T) {
	db := newTestDB(t, &domain.DeviceCommand{})
	ctx := context.Background()
	c := mkCmd("D", "x", 5, 0, time.Now().UTC())
	_ = CreateCommands(ctx, db, []*domain.DeviceCommand{c})

	moved, err := TransitionCommand(ctx, db, c.ID, domain.CommandSent, map[string]any{"status": domain.CommandSuccess})
	if err != nil || moved {
		t.Fatalf("expected no move from wrong state, got %v %v", moved, err)
	}
}

func TestCreateCommands_Atomic(t *testing.T) {
	db := newTestDB(t, &domain.DeviceCommand{})
	ctx := context.Background()
	ok := mkCmd("D", "ok", 5, 0, time.Now().UTC())
	dup := mkCmd("D", "dup", 5, 0, time.Now().UTC())
	if err := CreateCommands(ctx, db, []*domain.DeviceCommand{ok}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	dup.ID = ok.ID // force a primary key clash on the second insert
	fresh := mkCmd("D", "fresh", 5, 0, time.Now().UTC())
	if err := CreateCommands(ctx, db, []*domain.DeviceCommand{fresh, dup}); err == nil {
		t.Fatalf("expected batch failure")
	}
	var n int64
	db.Model(&domain.DeviceCommand{}).Count(&n)
	if n != 1 {
		t.Fatalf("batch must be all-or-nothing, have %d rows", n)
	}
}

func TestCancelPendingCommands_PrefixAndState(t *testing.T) {
	db := newTestDB(t, &domain.DeviceCommand{})
	ctx := context.Background()
	now := time.Now().UTC()
	cmds := []*domain.DeviceCommand{
		mkCmd("D", "DATA UPDATE BIODATA Pin=1", 5, 0, now),
		mkCmd("D", "DATA UPDATE USERINFO PIN=1", 2, 0, now),
		mkCmd("D", "data update biodata Pin=2", 5, 0, now),
		mkCmd("D2", "DATA UPDATE BIODATA Pin=1", 5, 0, now),
	}
	_ = CreateCommands(ctx, db, cmds)
	_, _ = TransitionCommand(ctx, db, cmds[2].ID, domain.CommandPending, map[string]any{"status": domain.CommandSent})

	n, err := CancelPendingCommands(ctx, db, "D", "data update biodata", now)
	if err != nil || n != 1 {
		t.Fatalf("CancelPendingCommands = %d, %v", n, err)
	}
	got, _ := GetCommand(ctx, db, cmds[2].ID)
	if got.Status != domain.CommandSent {
		t.Fatalf("in-flight commands cannot be cancelled: %+v", got)
	}
	n, _ = CancelPendingCommands(ctx, db, "D", "", now)
	if n != 1 {
		t.Fatalf("empty filter should cancel the remaining pending command, got %d", n)
	}
	other, _ := GetCommand(ctx, db, cmds[3].ID)
	if other.Status != domain.CommandPending {
		t.Fatalf("other devices must be untouched")
	}
}

func TestPurgeCompletedCommands(t *testing.T) {
	db := newTestDB(t, &domain.DeviceCommand{})
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-8 * 24 * time.Hour)

	cmds := []*domain.DeviceCommand{
		mkCmd("D", "old-success", 5, 0, old),
		mkCmd("D", "old-dead", 5, 0, old),
		mkCmd("D", "new-success", 5, 0, now),
		mkCmd("D", "old-pending", 5, 0, old),
	}
	_ = CreateCommands(ctx, db, cmds)
	_, _ = TransitionCommand(ctx, db, cmds[0].ID, domain.CommandPending, map[string]any{"status": domain.CommandSuccess, "completed_at": old})
	_, _ = TransitionCommand(ctx, db, cmds[1].ID, domain.CommandPending, map[string]any{"status": domain.CommandDeadLetter, "completed_at": old})
	_, _ = TransitionCommand(ctx, db, cmds[2].ID, domain.CommandPending, map[string]any{"status": domain.CommandSuccess, "completed_at": now})

	n, err := PurgeCompletedCommands(ctx, db, now.Add(-7*24*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("PurgeCompletedCommands = %d, %v", n, err)
	}
	rest, _ := ListCommands(ctx, db, "D", "", 0)
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining commands, got %d", len(rest))
	}
	pending, _ := ListCommands(ctx, db, "D", domain.CommandPending, 10)
	if len(pending) != 1 || pending[0].Command != "old-pending" {
		t.Fatalf("status filter failed: %+v", pending)
	}
}

func TestListStaleSent_And_HasRecentCommand(t *testing.T) {
	db := newTestDB(t, &domain.DeviceCommand{})
	ctx := context.Background()
	now := time.Now().UTC()

	c := mkCmd("D", "DATA UPDATE USERINFO PIN=7", 2, 1, now)
	c.Kind, c.SubjectPIN = domain.KindIdentity, "7"
	_ = CreateCommands(ctx, db, []*domain.DeviceCommand{c})

	ok, err := HasRecentCommand(ctx, db, "D", domain.KindIdentity, "7", now.Add(-time.Minute))
	if err != nil || !ok {
		t.Fatalf("HasRecentCommand = %v, %v", ok, err)
	}
	ok, _ = HasRecentCommand(ctx, db, "D", domain.KindIdentity, "7", now.Add(time.Minute))
	if ok {
		t.Fatalf("command older than the window must not count")
	}

	sentAt := now.Add(-20 * time.Minute)
	_, _ = TransitionCommand(ctx, db, c.ID, domain.CommandPending, map[string]any{"status": domain.CommandSent, "sent_at": sentAt})
	stale, err := ListStaleSent(ctx, db, now.Add(-10*time.Minute))
	if err != nil || len(stale) != 1 || stale[0].ID != c.ID {
		t.Fatalf("ListStaleSent = %+v, %v", stale, err)
	}
}
