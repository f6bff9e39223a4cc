package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-adms-server/internal/config"
	"github.com/tbourn/go-adms-server/internal/domain"
	"github.com/tbourn/go-adms-server/internal/repo"
)

func TestUpload_PunchesBuildSummary(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	if _, err := s.devices.Handshake(ctx, "DEV1", "10.0.0.1"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	sub, cancel := s.broker.Subscribe()
	defer cancel()

	body := "E001\t2024-01-10 09:15:00\t0\t1\t0\nE001\t2024-01-10 18:00:00\t1\t1\t0\n"
	res := s.ingest.Upload(ctx, "DEV1", "ATTLOG", body)
	if res.Punches != 2 || res.Rejected != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	sum, err := s.summaries.Get(ctx, "E001", "2024-01-10")
	if err != nil {
		t.Fatalf("summary Get: %v", err)
	}
	if sum.Status != domain.SummaryPresent || sum.LateMinutes != 15 || sum.WorkedMinutes != 525 || sum.PunchCount != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	kinds := map[string]int{}
	for len(sub) > 0 {
		kinds[(<-sub).Kind]++
	}
	if kinds[EventPunch] != 2 || kinds[EventSummary] != 2 {
		t.Fatalf("unexpected events: %v", kinds)
	}
}

func TestUpload_PunchRedeliveryIsIdempotent(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	line := "E001\t2024-01-10 09:15:00\t0\t1\t0"
	s.ingest.Upload(ctx, "DEV1", "ATTLOG", line)
	s.advance(time.Hour)
	s.ingest.Upload(ctx, "DEV1", "ATTLOG", line)

	var n int64
	s.db.Model(&domain.AttendancePunch{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one punch after redelivery, got %d", n)
	}
	sum, _ := s.summaries.Get(ctx, "E001", "2024-01-10")
	if sum.Status != domain.SummaryMissPunch || sum.PunchCount != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestUpload_DirectionOverride(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	if err := s.devices.ApplyProfiles(ctx, []config.DeviceProfile{{Serial: "EXIT", Direction: domain.DirectionOut}}); err != nil {
		t.Fatalf("ApplyProfiles: %v", err)
	}
	s.ingest.Upload(ctx, "EXIT", "ATTLOG", "E5\t2024-01-10 17:00:00\t0\t1\t0")

	var p domain.AttendancePunch
	if err := s.db.First(&p, "employee_code = ?", "E5").Error; err != nil {
		t.Fatalf("load punch: %v", err)
	}
	if p.State != stateCheckOut {
		t.Fatalf("direction override not applied: state %d", p.State)
	}
}

func TestUpload_BadLinesAreCountedNotFatal(t *testing.T) {
	s := newStack(t)
	body := "garbage\nE001\t2024-01-10 09:15:00\t0\t1\t0\nE002\tnot-a-time\t0"
	res := s.ingest.Upload(context.Background(), "DEV1", "attlog", body)
	if res.Punches != 1 || res.Rejected != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestUpload_OperationLogAndUsers(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	if _, err := s.devices.Handshake(ctx, "DEV1", "10.0.0.1"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	// Offline, then an OPERLOG upload brings the device back.
	if n, _ := s.devices.MarkOffline(ctx, s.now.Add(time.Minute)); n != 1 {
		t.Fatalf("expected device to go offline")
	}

	body := strings.Join([]string{
		"OPLOG 4\t14\t2024-01-10 09:15:00\t0\t0\t0\t0",
		"USER PIN=E002\tName=Bea\tPri=14\tPasswd=\tCard=123",
	}, "\n")
	res := s.ingest.Upload(ctx, "DEV1", "OPERLOG", body)
	if res.Logs != 1 || res.Users != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	emp, err := repo.GetEmployee(ctx, s.db, "E002")
	if err != nil || emp.Name != "Bea" || emp.Privilege != 14 || emp.Card != "123" {
		t.Fatalf("employee = %+v, %v", emp, err)
	}
	d, _ := repo.GetDevice(ctx, s.db, "DEV1")
	if d.Status != domain.DeviceOnline || d.IPAddress != "10.0.0.1" {
		t.Fatalf("operation log should refresh liveness and keep the address: %+v", d)
	}
}

func TestUpload_UnknownTable(t *testing.T) {
	s := newStack(t)
	res := s.ingest.Upload(context.Background(), "DEV1", "ATTPHOTO", "a\nb\n")
	if res.Unknown != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}
