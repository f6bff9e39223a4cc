// Package services – IngestService
//
// IngestService persists decoded terminal uploads. Punches are upserted on
// (employee, time) and trigger a synchronous summary recompute; operation
// logs form an audit trail and count as a liveness signal; identity lines
// update the employee registry; accepted templates are upserted with change
// detection and, when new or changed, announced to the TemplateListener.
//
// Nothing here fails the upload: the terminal always gets "OK", and every
// per-record problem is logged and counted.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-adms-server/internal/adms"
	"github.com/tbourn/go-adms-server/internal/domain"
	"github.com/tbourn/go-adms-server/internal/repo"
)

// Punch state codes forced by a device direction override.
const (
	stateCheckIn  = 0
	stateCheckOut = 1
)

// IngestResult counts what one upload produced.
type IngestResult struct {
	Punches   int `json:"punches"`
	Logs      int `json:"logs"`
	Users     int `json:"users"`
	Templates int `json:"templates"` // stored (new or changed)
	Unchanged int `json:"unchanged"`
	Rejected  int `json:"rejected"` // lines the parser refused
	Failed    int `json:"failed"`   // records that could not be stored
	Unknown   int `json:"unknown"`
}

// IngestService stores uploaded records.
type IngestService struct {
	DB           *gorm.DB
	Parser       adms.Parser
	Devices      *DeviceService
	Capabilities *CapabilityDetector
	Summaries    *SummaryService
	Templates    TemplateListener
	Broker       *Broker
	Log          zerolog.Logger

	// FaceAlwaysResync fans face templates out even when unchanged.
	FaceAlwaysResync bool

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *IngestService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Upload decodes body as table and stores every record it can.
func (s *IngestService) Upload(ctx context.Context, sn, table, body string) IngestResult {
	ctx, span := otel.Tracer("services/IngestService").Start(ctx, "Upload",
		trace.WithAttributes(
			attribute.String("device.sn", sn),
			attribute.String("upload.table", table),
			attribute.Int("upload.bytes", len(body)),
		),
	)
	defer span.End()

	var res IngestResult
	table = strings.ToUpper(strings.TrimSpace(table))
	recs, perrs := s.Parser.Parse(table, body)
	for _, pe := range perrs {
		res.Rejected++
		recordsTotal.WithLabelValues(pe.Table, "rejected").Inc()
		s.Log.Warn().Str("sn", sn).Int("line", pe.Line).Str("table", pe.Table).Str("reason", pe.Reason).Msg("upload line skipped")
	}

	direction := s.direction(ctx, sn)
	var logs []domain.OperationLog
	for _, r := range recs {
		switch rec := r.(type) {
		case adms.Punch:
			s.storePunch(ctx, sn, direction, rec, &res)
		case adms.OperationLog:
			logs = append(logs, domain.OperationLog{
				ID:       uuid.NewString(),
				DeviceSN: sn,
				Table:    rec.Table,
				Tag:      rec.Tag,
				Code:     rec.Code,
				Actor:    rec.Actor,
				LoggedAt: rec.Time.UTC(),
				Detail:   rec.Detail,
				RawLine:  rec.Raw,
			})
		case adms.UserInfo:
			s.storeUser(ctx, sn, rec, &res)
		case adms.Template:
			s.storeTemplate(ctx, sn, rec, &res)
		case adms.Unknown:
			res.Unknown += rec.Lines
			recordsTotal.WithLabelValues("UNKNOWN", "unknown").Add(float64(rec.Lines))
			s.Log.Warn().Str("sn", sn).Str("table", rec.Table).Int("lines", rec.Lines).Msg("unrecognized upload table")
		}
	}

	if len(logs) > 0 {
		if err := repo.CreateOperationLogs(ctx, s.DB, logs); err != nil {
			res.Failed += len(logs)
			recordsTotal.WithLabelValues(table, "failed").Add(float64(len(logs)))
			s.Log.Error().Err(err).Str("sn", sn).Int("count", len(logs)).Msg("store operation logs failed")
		} else {
			res.Logs = len(logs)
			recordsTotal.WithLabelValues(table, "stored").Add(float64(len(logs)))
		}
		if s.Devices != nil {
			if err := s.Devices.Touch(ctx, sn, ""); err != nil {
				s.Log.Warn().Err(err).Str("sn", sn).Msg("liveness refresh from operation log failed")
			}
		}
	}

	span.SetAttributes(
		attribute.Int("records.punches", res.Punches),
		attribute.Int("records.templates", res.Templates),
		attribute.Int("records.rejected", res.Rejected),
	)
	return res
}

// direction returns the punch direction override configured for sn.
func (s *IngestService) direction(ctx context.Context, sn string) string {
	d, err := repo.GetDevice(ctx, s.DB, sn)
	if err != nil {
		return domain.DirectionBoth
	}
	return d.Direction
}

func (s *IngestService) storePunch(ctx context.Context, sn, direction string, p adms.Punch, res *IngestResult) {
	state := p.State
	switch direction {
	case domain.DirectionIn:
		state = stateCheckIn
	case domain.DirectionOut:
		state = stateCheckOut
	}
	row := &domain.AttendancePunch{
		EmployeeCode: p.EmployeeCode,
		PunchTime:    p.Time.UTC(),
		DeviceSN:     sn,
		State:        state,
		VerifyMode:   p.VerifyMode,
		WorkCode:     p.WorkCode,
		RawLine:      p.Raw,
		UploadedAt:   s.now(),
		CreatedAt:    s.now(),
	}
	if err := repo.UpsertPunch(ctx, s.DB, row); err != nil {
		res.Failed++
		recordsTotal.WithLabelValues(adms.TableAttLog, "failed").Inc()
		s.Log.Error().Err(err).Str("sn", sn).Str("employee", p.EmployeeCode).Msg("store punch failed")
		return
	}
	res.Punches++
	recordsTotal.WithLabelValues(adms.TableAttLog, "stored").Inc()
	s.Broker.Publish(Event{Kind: EventPunch, DeviceSN: sn, EmployeeCode: p.EmployeeCode, Detail: p.Time.Format(adms.TimeLayout)})

	if s.Summaries != nil {
		if _, err := s.Summaries.Recompute(ctx, p.EmployeeCode, p.Time); err != nil {
			s.Log.Error().Err(err).Str("employee", p.EmployeeCode).Msg("summary recompute failed")
		}
	}
}

func (s *IngestService) storeUser(ctx context.Context, sn string, u adms.UserInfo, res *IngestResult) {
	err := repo.UpsertEmployeeIdentity(ctx, s.DB, &domain.Employee{
		Code:      u.EmployeeCode,
		Name:      u.Name,
		Privilege: u.Privilege,
		Card:      u.Card,
		Password:  u.Password,
	})
	if err != nil {
		res.Failed++
		recordsTotal.WithLabelValues(adms.TableUserInfo, "failed").Inc()
		s.Log.Error().Err(err).Str("sn", sn).Str("employee", u.EmployeeCode).Msg("store user failed")
		return
	}
	res.Users++
	recordsTotal.WithLabelValues(adms.TableUserInfo, "stored").Inc()
}

func (s *IngestService) storeTemplate(ctx context.Context, sn string, t adms.Template, res *IngestResult) {
	face := domain.IsFaceType(t.Type)

	prev, err := repo.GetTemplate(ctx, s.DB, t.EmployeeCode, t.Type, t.Slot)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		res.Failed++
		s.Log.Error().Err(err).Str("sn", sn).Str("employee", t.EmployeeCode).Msg("load template failed")
		return
	}
	unchanged := prev != nil && adms.NormalizePayload(prev.Payload) == t.Payload

	if err := s.observeVersions(ctx, sn, t); err != nil {
		s.Log.Warn().Err(err).Str("sn", sn).Msg("capability version merge failed")
	}

	if unchanged {
		res.Unchanged++
		recordsTotal.WithLabelValues(t.Family, "unchanged").Inc()
		if face && s.FaceAlwaysResync {
			s.announce(ctx, sn, t)
		}
		return
	}

	row := &domain.BiometricTemplate{
		EmployeeCode: t.EmployeeCode,
		Type:         t.Type,
		Slot:         t.Slot,
		Index:        t.Index,
		Valid:        t.Valid,
		Duress:       t.Duress,
		Payload:      t.Payload,
		SourceSN:     sn,
		MajorVer:     t.MajorVer,
		MinorVer:     t.MinorVer,
		Format:       t.Format,
	}
	if err := repo.UpsertTemplate(ctx, s.DB, row); err != nil {
		res.Failed++
		recordsTotal.WithLabelValues(t.Family, "failed").Inc()
		s.Log.Error().Err(err).Str("sn", sn).Str("employee", t.EmployeeCode).Msg("store template failed")
		return
	}
	if err := repo.SetBiometricFlag(ctx, s.DB, t.EmployeeCode, face); err != nil {
		s.Log.Warn().Err(err).Str("employee", t.EmployeeCode).Msg("set biometric flag failed")
	}
	res.Templates++
	recordsTotal.WithLabelValues(t.Family, "stored").Inc()
	s.announce(ctx, sn, t)
}

// observeVersions feeds face template versions to the capability profile.
// Fingerprint versions describe another algorithm and are not recorded.
func (s *IngestService) observeVersions(ctx context.Context, sn string, t adms.Template) error {
	if s.Capabilities == nil || !domain.IsFaceType(t.Type) {
		return nil
	}
	return s.Capabilities.ObserveVersions(ctx, sn, t.MajorVer, t.MinorVer, t.Format)
}

func (s *IngestService) announce(ctx context.Context, sn string, t adms.Template) {
	s.Broker.Publish(Event{Kind: EventTemplateChanged, DeviceSN: sn, EmployeeCode: t.EmployeeCode})
	if s.Templates != nil {
		s.Templates.TemplateChanged(ctx, TemplateEvent{
			EmployeeCode: t.EmployeeCode,
			Type:         t.Type,
			Slot:         t.Slot,
			SourceSN:     sn,
		})
	}
}
