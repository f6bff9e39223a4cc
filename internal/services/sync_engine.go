// Package services – SyncEngine
//
// SyncEngine replicates a new or changed biometric template to every other
// registered terminal. For each target it emits, as one atomic batch:
//
//	seq 1  identity (DATA UPDATE USERINFO), unless one was queued recently
//	seq 2  face data deletion, face templates only
//	seq 3  template data, stamped with the target's face algorithm version
//
// All steps share one priority so the sequence alone orders them within the
// device queue.
package services

import (
	"context"
	"errors"
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

// Plan step sequence numbers.
const (
	SeqIdentity = 1
	SeqDelete   = 2
	SeqData     = 3
)

// TemplateEvent identifies a template that was created or changed.
type TemplateEvent struct {
	EmployeeCode string
	Type         int
	Slot         int
	SourceSN     string
}

// TemplateListener receives template events after they were persisted.
type TemplateListener interface {
	TemplateChanged(ctx context.Context, ev TemplateEvent)
}

// SyncEngine computes and enqueues per-target replication plans.
type SyncEngine struct {
	DB           *gorm.DB
	Queue        *QueueService
	Capabilities *CapabilityDetector
	Log          zerolog.Logger

	// IdentityWindow suppresses a second identity command for the same
	// subject and target enqueued within this window.
	IdentityWindow time.Duration

	DefaultFaceMajor  int
	DefaultFaceMinor  int
	MinTemplateLength int

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (e *SyncEngine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Propagate fans ev out to every device except its source and returns the
// number of commands enqueued. A failure for one target is logged and does
// not stop the others; the first such error is returned.
func (e *SyncEngine) Propagate(ctx context.Context, ev TemplateEvent) (int, error) {
	ctx, span := otel.Tracer("services/SyncEngine").Start(ctx, "Propagate",
		trace.WithAttributes(
			attribute.String("employee.code", ev.EmployeeCode),
			attribute.Int("template.type", ev.Type),
			attribute.String("device.source", ev.SourceSN),
		),
	)
	defer span.End()

	targets, err := repo.ListOtherDevices(ctx, e.DB, ev.SourceSN)
	if err != nil {
		return 0, err
	}
	if len(targets) == 0 {
		return 0, nil
	}

	ident := adms.Identity{PIN: ev.EmployeeCode}
	if emp, err := repo.GetEmployee(ctx, e.DB, ev.EmployeeCode); err == nil {
		ident.Name, ident.Privilege, ident.Password, ident.Card = emp.Name, emp.Privilege, emp.Password, emp.Card
	} else if !errors.Is(err, repo.ErrNotFound) {
		return 0, err
	}

	// The stored row is authoritative; the parsed upload is never reused.
	var tmpl *domain.BiometricTemplate
	t, err := repo.GetTemplate(ctx, e.DB, ev.EmployeeCode, ev.Type, ev.Slot)
	switch {
	case err == nil && adms.PlausiblePayload(t.Payload, e.MinTemplateLength):
		tmpl = t
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return 0, err
	}

	var (
		total    int
		firstErr error
	)
	for _, d := range targets {
		n, err := e.planTarget(ctx, d.Serial, ev, ident, tmpl)
		total += n
		if err != nil {
			e.Log.Error().Err(err).Str("target", d.Serial).Str("employee", ev.EmployeeCode).Msg("fan-out to target failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	span.SetAttributes(attribute.Int("commands.enqueued", total))
	return total, firstErr
}

// planTarget enqueues the plan for one target. tmpl is nil when the stored
// template is missing or implausible; the data step is skipped then.
func (e *SyncEngine) planTarget(ctx context.Context, target string, ev TemplateEvent, ident adms.Identity, tmpl *domain.BiometricTemplate) (int, error) {
	var specs []CommandSpec
	step := func(seq int, cmd string) {
		specs = append(specs, CommandSpec{DeviceSN: target, Command: cmd, Priority: domain.PriorityIdentity, Sequence: seq})
	}

	recent, err := repo.HasRecentCommand(ctx, e.DB, target, domain.KindIdentity, ev.EmployeeCode, e.now().Add(-e.IdentityWindow))
	if err != nil {
		return 0, err
	}
	if !recent {
		step(SeqIdentity, adms.UserInfoCommand(ident))
	}

	face := domain.IsFaceType(ev.Type)
	if face {
		step(SeqDelete, adms.DeleteFaceCommand(ev.EmployeeCode, ev.Type))
	}

	if tmpl != nil {
		if face {
			major, minor, err := e.faceVersion(ctx, target, tmpl)
			if err != nil {
				return 0, err
			}
			step(SeqData, adms.FaceDataCommand(*tmpl, major, minor))
		} else {
			step(SeqData, adms.FingerDataCommand(*tmpl))
		}
	}

	if len(specs) == 0 {
		return 0, nil
	}
	cmds, err := e.Queue.EnqueueBatch(ctx, specs)
	if err != nil {
		return 0, err
	}
	return len(cmds), nil
}

// faceVersion picks the version stamped on a face data command: the target's
// known version, else the template's recorded one, else the default.
func (e *SyncEngine) faceVersion(ctx context.Context, target string, t *domain.BiometricTemplate) (int, int, error) {
	if e.Capabilities != nil {
		major, minor, known, err := e.Capabilities.FaceVersion(ctx, target)
		if err != nil {
			return 0, 0, err
		}
		if known {
			return major, minor, nil
		}
	}
	if t.MajorVer > 0 {
		return t.MajorVer, t.MinorVer, nil
	}
	return e.DefaultFaceMajor, e.DefaultFaceMinor, nil
}

// SyncDispatcher runs the SyncEngine on its own worker so uploads are
// acknowledged without waiting for fan-out. When the buffer is full the event
// is handled inline on the caller instead of being dropped.
type SyncDispatcher struct {
	Engine *SyncEngine
	Log    zerolog.Logger

	events chan TemplateEvent
}

// NewSyncDispatcher creates a dispatcher buffering up to buffer events.
func NewSyncDispatcher(engine *SyncEngine, buffer int, log zerolog.Logger) *SyncDispatcher {
	if buffer < 0 {
		buffer = 0
	}
	return &SyncDispatcher{Engine: engine, Log: log, events: make(chan TemplateEvent, buffer)}
}

// TemplateChanged implements TemplateListener.
func (d *SyncDispatcher) TemplateChanged(ctx context.Context, ev TemplateEvent) {
	select {
	case d.events <- ev:
	default:
		d.Log.Debug().Str("employee", ev.EmployeeCode).Msg("sync buffer full; handling inline")
		d.handle(context.WithoutCancel(ctx), ev)
	}
}

// Run consumes events until ctx is cancelled, then drains what is buffered.
// A fan-out in progress is never cut short by the cancellation.
func (d *SyncDispatcher) Run(ctx context.Context) {
	detached := context.WithoutCancel(ctx)
	for {
		select {
		case ev := <-d.events:
			d.handle(detached, ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.events:
					d.handle(detached, ev)
				default:
					return
				}
			}
		}
	}
}

func (d *SyncDispatcher) handle(ctx context.Context, ev TemplateEvent) {
	n, err := d.Engine.Propagate(ctx, ev)
	if err != nil {
		fanoutTotal.WithLabelValues("error").Inc()
		d.Log.Error().Err(err).Str("employee", ev.EmployeeCode).Str("source", ev.SourceSN).Msg("template fan-out failed")
		return
	}
	fanoutTotal.WithLabelValues("ok").Inc()
	d.Log.Info().Str("employee", ev.EmployeeCode).Int("type", ev.Type).Str("source", ev.SourceSN).Int("commands", n).Msg("template fanned out")
}
