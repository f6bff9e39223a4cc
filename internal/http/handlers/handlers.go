// Package handlers wiring.
//
// Handlers are transport-thin: they read the request, call application
// services, and translate results into HTTP responses. Terminal endpoints
// answer text/plain and never surface retryable failures as HTTP errors;
// the operator API answers JSON with the ErrorResponse envelope.
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-adms-server/internal/domain"
	"github.com/tbourn/go-adms-server/internal/services"
)

//
// Service contracts (context-aware)
//

// DeviceRegistry tracks terminals and their liveness.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type DeviceRegistry interface {
	// Handshake registers sn and returns the protocol option block.
	Handshake(ctx context.Context, sn, ip string) (string, error)
	// Touch refreshes liveness for sn.
	Touch(ctx context.Context, sn, ip string) error
	// Poll refreshes liveness and runs capability detection on info.
	Poll(ctx context.Context, sn, ip, info string) error
	// List returns all devices with queue counters.
	List(ctx context.Context) ([]services.DeviceStatus, error)
	// Get returns one device with capabilities and queue counters.
	Get(ctx context.Context, sn string) (*services.DeviceDetail, error)
}

// RecordIngester persists uploaded record bodies.
type RecordIngester interface {
	Upload(ctx context.Context, sn, table, body string) services.IngestResult
}

// CommandQueue is the per-device command outbox.
type CommandQueue interface {
	Enqueue(ctx context.Context, spec services.CommandSpec) (*domain.DeviceCommand, error)
	Dequeue(ctx context.Context, sn string) (*domain.DeviceCommand, error)
	Acknowledge(ctx context.Context, sn string, id uint, code int, detail string) (*domain.DeviceCommand, error)
	Cancel(ctx context.Context, sn, filter string) (int64, error)
	Requeue(ctx context.Context, id uint) (*domain.DeviceCommand, error)
	Get(ctx context.Context, id uint) (*domain.DeviceCommand, error)
	List(ctx context.Context, sn, status string, limit int) ([]domain.DeviceCommand, error)
}

// SummaryStore reads and recomputes daily attendance summaries.
type SummaryStore interface {
	Get(ctx context.Context, code, date string) (*domain.DailyAttendanceSummary, error)
	RecomputeDate(ctx context.Context, code, date string) (*domain.DailyAttendanceSummary, error)
}

// EventSource hands out live event subscriptions.
type EventSource interface {
	Subscribe() (<-chan services.Event, func())
}

//
// Handler wiring
//

// Deps carries the services the handlers depend on.
type Deps struct {
	Devices   DeviceRegistry
	Ingest    RecordIngester
	Queue     CommandQueue
	Summaries SummaryStore
	Events    EventSource

	// IdempotencyTTL bounds how long an Idempotency-Key replays its command.
	IdempotencyTTL time.Duration
	// Heartbeat is the interval of SSE keep-alive comments; <= 0 uses 15s.
	Heartbeat time.Duration
}

// Handlers groups the terminal and operator endpoints.
type Handlers struct {
	devices   DeviceRegistry
	ingest    RecordIngester
	queue     CommandQueue
	summaries SummaryStore
	events    EventSource

	idemTTL   time.Duration
	heartbeat time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	h := &Handlers{
		devices:   d.Devices,
		ingest:    d.Ingest,
		queue:     d.Queue,
		summaries: d.Summaries,
		events:    d.Events,
		idemTTL:   d.IdempotencyTTL,
		heartbeat: d.Heartbeat,
	}
	if h.idemTTL <= 0 {
		h.idemTTL = 24 * time.Hour
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 15 * time.Second
	}
	return h
}
