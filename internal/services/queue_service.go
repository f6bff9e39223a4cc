// Package services – QueueService
//
// QueueService is the per-device command outbox. Producers enqueue commands
// (single or as an atomic batch), terminals dequeue exactly one command per
// poll and later report a result which completes the command, schedules a
// retry with exponential backoff, or moves it to the dead-letter state.
//
// Every transition is a conditional update keyed by command id and expected
// status, so concurrent polls, results and background sweeps never need an
// in-process lock.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-adms-server/internal/adms"
	"github.com/tbourn/go-adms-server/internal/domain"
	"github.com/tbourn/go-adms-server/internal/repo"
)

// TimeoutError is recorded on sent commands that never got a result.
const TimeoutError = "timeout: no result reported"

// dequeueAttempts bounds how often Dequeue re-reads the head after losing a
// race to a concurrent poll of the same device.
const dequeueAttempts = 3

// CommandSpec describes one command to enqueue.
type CommandSpec struct {
	DeviceSN string
	Command  string
	// Priority 0 means "derive from the command verb".
	Priority int
	Sequence int
}

// QueueService manages DeviceCommand rows.
type QueueService struct {
	DB     *gorm.DB
	Broker *Broker
	Log    zerolog.Logger

	MaxRetries int           // budget for new commands; <= 0 uses 3
	RetryBase  time.Duration // first backoff step; <= 0 uses 30s

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (q *QueueService) now() time.Time {
	if q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

func (q *QueueService) maxRetries() int {
	if q.MaxRetries <= 0 {
		return 3
	}
	return q.MaxRetries
}

// Backoff returns the wait before the retry following the n-th failure
// (n >= 1): base, 2*base, 4*base, ...
func (q *QueueService) Backoff(n int) time.Duration {
	base := q.RetryBase
	if base <= 0 {
		base = 30 * time.Second
	}
	if n < 1 {
		n = 1
	}
	if n > 20 {
		n = 20
	}
	return base << (n - 1)
}

func (q *QueueService) build(spec CommandSpec, now time.Time) (*domain.DeviceCommand, error) {
	cmd := strings.TrimSpace(spec.Command)
	if cmd == "" {
		return nil, ErrEmptyCommand
	}
	if strings.TrimSpace(spec.DeviceSN) == "" {
		return nil, ErrMissingSerial
	}
	prio, kind := adms.Classify(cmd)
	if spec.Priority > 0 {
		prio = spec.Priority
	}
	return &domain.DeviceCommand{
		DeviceSN:   spec.DeviceSN,
		Command:    cmd,
		Kind:       kind,
		SubjectPIN: adms.SubjectPIN(cmd),
		Status:     domain.CommandPending,
		Priority:   prio,
		Sequence:   spec.Sequence,
		MaxRetries: q.maxRetries(),
		CreatedAt:  now,
	}, nil
}

// Enqueue adds one command to a device's outbox.
func (q *QueueService) Enqueue(ctx context.Context, spec CommandSpec) (*domain.DeviceCommand, error) {
	out, err := q.EnqueueBatch(ctx, []CommandSpec{spec})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EnqueueBatch adds all commands or none.
func (q *QueueService) EnqueueBatch(ctx context.Context, specs []CommandSpec) ([]*domain.DeviceCommand, error) {
	ctx, span := otel.Tracer("services/QueueService").Start(ctx, "EnqueueBatch",
		trace.WithAttributes(attribute.Int("batch.size", len(specs))),
	)
	defer span.End()

	if len(specs) == 0 {
		return nil, nil
	}
	now := q.now()
	cmds := make([]*domain.DeviceCommand, 0, len(specs))
	for _, s := range specs {
		c, err := q.build(s, now)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	if err := repo.CreateCommands(ctx, q.DB, cmds); err != nil {
		return nil, err
	}
	commandEvents.WithLabelValues("enqueued").Add(float64(len(cmds)))
	return cmds, nil
}

// Dequeue moves the head of sn's queue to sent and returns it, or ErrNoWork.
// Transient storage contention is retried once.
func (q *QueueService) Dequeue(ctx context.Context, sn string) (*domain.DeviceCommand, error) {
	ctx, span := otel.Tracer("services/QueueService").Start(ctx, "Dequeue",
		trace.WithAttributes(attribute.String("device.sn", sn)),
	)
	defer span.End()

	var got *domain.DeviceCommand
	err := RetryOnce(ctx, func(ctx context.Context) error {
		c, err := q.dequeue(ctx, sn)
		got = c
		return err
	}, nil, repo.IsBusy)
	if err != nil {
		return nil, err
	}
	if got == nil {
		return nil, ErrNoWork
	}
	span.SetAttributes(attribute.Int("command.id", int(got.ID)))
	commandEvents.WithLabelValues("sent").Inc()
	return got, nil
}

func (q *QueueService) dequeue(ctx context.Context, sn string) (*domain.DeviceCommand, error) {
	for i := 0; i < dequeueAttempts; i++ {
		now := q.now()
		c, err := repo.NextPendingCommand(ctx, q.DB, sn, now)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		moved, err := repo.TransitionCommand(ctx, q.DB, c.ID, domain.CommandPending, map[string]any{
			"status":        domain.CommandSent,
			"sent_at":       now,
			"next_retry_at": nil,
		})
		if err != nil {
			return nil, err
		}
		if moved {
			c.Status, c.SentAt, c.NextRetryAt = domain.CommandSent, &now, nil
			return c, nil
		}
	}
	return nil, nil
}

// Acknowledge applies a terminal result to command id. A non-negative code
// completes the command. A negative code schedules a retry with backoff, or
// dead-letters the command once its retry budget is spent. Results for
// commands that were never delivered or are already finished return
// ErrInvalidTransition; results from a device other than the target return
// ErrWrongDevice.
func (q *QueueService) Acknowledge(ctx context.Context, sn string, id uint, code int, detail string) (*domain.DeviceCommand, error) {
	ctx, span := otel.Tracer("services/QueueService").Start(ctx, "Acknowledge",
		trace.WithAttributes(attribute.String("device.sn", sn), attribute.Int("command.id", int(id)), attribute.Int("result.code", code)),
	)
	defer span.End()

	var out *domain.DeviceCommand
	err := RetryOnce(ctx, func(ctx context.Context) error {
		c, err := q.acknowledge(ctx, sn, id, code, detail)
		out = c
		return err
	}, nil, repo.IsBusy)
	return out, err
}

func (q *QueueService) acknowledge(ctx context.Context, sn string, id uint, code int, detail string) (*domain.DeviceCommand, error) {
	c, err := repo.GetCommand(ctx, q.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCommandNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.DeviceSN != sn {
		return c, ErrWrongDevice
	}
	if !awaitingResult(c) {
		return c, ErrInvalidTransition
	}
	if code >= 0 {
		return q.complete(ctx, c)
	}
	msg := fmt.Sprintf("terminal returned %d", code)
	if d := strings.TrimSpace(detail); d != "" {
		msg += ": " + d
	}
	return q.fail(ctx, c, msg)
}

// awaitingResult reports whether c went out to its terminal and has no final
// outcome yet. A pending command only qualifies when the sent timeout put it
// back, so a late result still counts.
func awaitingResult(c *domain.DeviceCommand) bool {
	switch c.Status {
	case domain.CommandSent:
		return true
	case domain.CommandPending:
		return c.LastError == TimeoutError
	default:
		return false
	}
}

func (q *QueueService) complete(ctx context.Context, c *domain.DeviceCommand) (*domain.DeviceCommand, error) {
	now := q.now()
	moved, err := repo.TransitionCommand(ctx, q.DB, c.ID, c.Status, map[string]any{
		"status":        domain.CommandSuccess,
		"completed_at":  now,
		"next_retry_at": nil,
		"last_error":    "",
	})
	if err != nil {
		return nil, err
	}
	if !moved {
		return c, ErrInvalidTransition
	}
	c.Status, c.CompletedAt, c.NextRetryAt, c.LastError = domain.CommandSuccess, &now, nil, ""
	commandEvents.WithLabelValues("success").Inc()
	q.Log.Debug().Uint("command_id", c.ID).Str("sn", c.DeviceSN).Msg("command succeeded")
	return c, nil
}

// fail records a failed attempt of c, which must be sent or pending.
func (q *QueueService) fail(ctx context.Context, c *domain.DeviceCommand, msg string) (*domain.DeviceCommand, error) {
	now := q.now()
	attempts := c.RetryCount + 1

	if attempts >= c.MaxRetries {
		moved, err := repo.TransitionCommand(ctx, q.DB, c.ID, c.Status, map[string]any{
			"status":        domain.CommandDeadLetter,
			"retry_count":   attempts,
			"last_error":    msg,
			"completed_at":  now,
			"next_retry_at": nil,
		})
		if err != nil {
			return nil, err
		}
		if !moved {
			return c, ErrInvalidTransition
		}
		c.Status, c.RetryCount, c.LastError, c.CompletedAt, c.NextRetryAt = domain.CommandDeadLetter, attempts, msg, &now, nil
		commandEvents.WithLabelValues("dead_letter").Inc()
		q.Log.Warn().Uint("command_id", c.ID).Str("sn", c.DeviceSN).Int("retries", attempts).Str("error", msg).Msg("command dead-lettered")
		q.Broker.Publish(Event{Kind: EventDeadLetter, DeviceSN: c.DeviceSN, CommandID: c.ID, Detail: msg, At: now})
		return c, nil
	}

	next := now.Add(q.Backoff(attempts))
	moved, err := repo.TransitionCommand(ctx, q.DB, c.ID, c.Status, map[string]any{
		"status":        domain.CommandPending,
		"retry_count":   attempts,
		"last_error":    msg,
		"next_retry_at": next,
		"sent_at":       nil,
	})
	if err != nil {
		return nil, err
	}
	if !moved {
		return c, ErrInvalidTransition
	}
	c.Status, c.RetryCount, c.LastError, c.NextRetryAt, c.SentAt = domain.CommandPending, attempts, msg, &next, nil
	commandEvents.WithLabelValues("retry").Inc()
	q.Log.Info().Uint("command_id", c.ID).Str("sn", c.DeviceSN).Int("retries", attempts).Time("next_retry_at", next).Msg("command scheduled for retry")
	return c, nil
}

// Cancel moves sn's pending commands to cancelled. A non-empty filter keeps
// only commands whose payload starts with it, ignoring case.
func (q *QueueService) Cancel(ctx context.Context, sn, filter string) (int64, error) {
	if strings.TrimSpace(sn) == "" {
		return 0, ErrMissingSerial
	}
	n, err := repo.CancelPendingCommands(ctx, q.DB, sn, filter, q.now())
	if err != nil {
		return 0, err
	}
	commandEvents.WithLabelValues("cancelled").Add(float64(n))
	return n, nil
}

// Requeue returns a dead-lettered command to pending with a fresh retry
// budget. This is the manual intervention path.
func (q *QueueService) Requeue(ctx context.Context, id uint) (*domain.DeviceCommand, error) {
	c, err := repo.GetCommand(ctx, q.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCommandNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CommandDeadLetter {
		return c, ErrNotDeadLetter
	}
	moved, err := repo.TransitionCommand(ctx, q.DB, id, domain.CommandDeadLetter, map[string]any{
		"status":        domain.CommandPending,
		"retry_count":   0,
		"next_retry_at": nil,
		"sent_at":       nil,
		"completed_at":  nil,
	})
	if err != nil {
		return nil, err
	}
	if !moved {
		return c, ErrNotDeadLetter
	}
	commandEvents.WithLabelValues("requeued").Inc()
	return repo.GetCommand(ctx, q.DB, id)
}

// RetrySweep clears the wait marker of pending commands whose retry time has
// elapsed.
func (q *QueueService) RetrySweep(ctx context.Context) (int64, error) {
	return repo.ClearElapsedRetries(ctx, q.DB, q.now())
}

// Purge deletes finished commands completed more than retention ago.
func (q *QueueService) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := repo.PurgeCompletedCommands(ctx, q.DB, q.now().Add(-retention))
	if err == nil && n > 0 {
		commandEvents.WithLabelValues("purged").Add(float64(n))
	}
	return n, err
}

// FailStaleSent fails every command that has been in sent for longer than
// timeout, routing it through the normal retry/dead-letter path.
func (q *QueueService) FailStaleSent(ctx context.Context, timeout time.Duration) (int, error) {
	stale, err := repo.ListStaleSent(ctx, q.DB, q.now().Add(-timeout))
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range stale {
		if _, err := q.fail(ctx, &stale[i], TimeoutError); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return n, err
		}
		commandEvents.WithLabelValues("timeout").Inc()
		n++
	}
	return n, nil
}

// Get returns one command.
func (q *QueueService) Get(ctx context.Context, id uint) (*domain.DeviceCommand, error) {
	c, err := repo.GetCommand(ctx, q.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCommandNotFound
	}
	return c, err
}

// List returns sn's commands in queue order, optionally filtered by status.
func (q *QueueService) List(ctx context.Context, sn, status string, limit int) ([]domain.DeviceCommand, error) {
	return repo.ListCommands(ctx, q.DB, sn, status, limit)
}
