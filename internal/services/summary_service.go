// Package services – SummaryService
//
// SummaryService folds one employee's punches for one local calendar day
// into a DailyAttendanceSummary. Recomputation is idempotent: the row keyed by
// (employee, date) is replaced every time.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-adms-server/internal/domain"
	"github.com/tbourn/go-adms-server/internal/repo"
)

// DateLayout is the summary date key format.
const DateLayout = "2006-01-02"

// SummaryService computes daily attendance summaries.
type SummaryService struct {
	DB     *gorm.DB
	Broker *Broker
	Log    zerolog.Logger

	// Location defines calendar days; nil means UTC.
	Location *time.Location
	// ShiftStart is the offset from local midnight used for late minutes.
	ShiftStart time.Duration
}

func (s *SummaryService) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// dayBounds returns the UTC interval of the local day containing t and its
// date key.
func (s *SummaryService) dayBounds(t time.Time) (from, to time.Time, key string) {
	l := t.In(s.loc())
	start := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, s.loc())
	return start.UTC(), start.AddDate(0, 0, 1).UTC(), start.Format(DateLayout)
}

// Recompute rebuilds the summary of code for the local day containing day.
func (s *SummaryService) Recompute(ctx context.Context, code string, day time.Time) (*domain.DailyAttendanceSummary, error) {
	ctx, span := otel.Tracer("services/SummaryService").Start(ctx, "Recompute",
		trace.WithAttributes(attribute.String("employee.code", code)),
	)
	defer span.End()

	if strings.TrimSpace(code) == "" {
		return nil, ErrMissingEmployee
	}
	from, to, key := s.dayBounds(day)
	span.SetAttributes(attribute.String("date", key))

	punches, err := repo.ListPunchesBetween(ctx, s.DB, code, from, to)
	if err != nil {
		return nil, err
	}
	sum := Summarize(punches, from.In(s.loc()).Add(s.ShiftStart))
	sum.EmployeeCode, sum.Date = code, key

	if err := repo.UpsertSummary(ctx, s.DB, sum); err != nil {
		return nil, err
	}
	s.Log.Debug().Str("employee", code).Str("date", key).Str("status", sum.Status).Int("late", sum.LateMinutes).Msg("summary recomputed")
	s.Broker.Publish(Event{Kind: EventSummary, EmployeeCode: code, Detail: key})
	return sum, nil
}

// RecomputeDate is Recompute for a "YYYY-MM-DD" date key.
func (s *SummaryService) RecomputeDate(ctx context.Context, code, date string) (*domain.DailyAttendanceSummary, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), s.loc())
	if err != nil {
		return nil, ErrInvalidDate
	}
	return s.Recompute(ctx, code, d)
}

// Get returns the stored summary for code and date.
func (s *SummaryService) Get(ctx context.Context, code, date string) (*domain.DailyAttendanceSummary, error) {
	if _, err := time.Parse(DateLayout, strings.TrimSpace(date)); err != nil {
		return nil, ErrInvalidDate
	}
	sum, err := repo.GetSummary(ctx, s.DB, code, strings.TrimSpace(date))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSummaryNotFound
	}
	return sum, err
}

// Summarize folds time-ordered punches of one day. shiftStart is the
// absolute start of the shift on that day.
func Summarize(punches []domain.AttendancePunch, shiftStart time.Time) *domain.DailyAttendanceSummary {
	sum := &domain.DailyAttendanceSummary{PunchCount: len(punches)}
	switch len(punches) {
	case 0:
		sum.Status = domain.SummaryAbsent
		return sum
	case 1:
		sum.Status = domain.SummaryMissPunch
	default:
		sum.Status = domain.SummaryPresent
	}

	in := punches[0].PunchTime.UTC()
	sum.InTime = &in
	if late := in.Sub(shiftStart); late > 0 {
		sum.LateMinutes = int(late / time.Minute)
	}
	if len(punches) > 1 {
		out := punches[len(punches)-1].PunchTime.UTC()
		sum.OutTime = &out
		sum.WorkedMinutes = int(out.Sub(in) / time.Minute)
	}
	return sum
}
