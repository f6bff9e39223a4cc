package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-adms-server/internal/adms"
	"github.com/tbourn/go-adms-server/internal/repo"
)

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func payload(n int) string {
	return strings.Repeat("RmFjZURhdGE", n/11+1)[:n]
}

// stack wires every service against one database and a controllable clock.
type stack struct {
	db         *gorm.DB
	now        time.Time
	broker     *Broker
	caps       *CapabilityDetector
	devices    *DeviceService
	queue      *QueueService
	summaries  *SummaryService
	engine     *SyncEngine
	dispatcher *SyncDispatcher
	ingest     *IngestService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{db: newSvcDB(t), now: time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return s.now }
	log := zerolog.Nop()

	s.broker = NewBroker(16, log)
	s.caps = &CapabilityDetector{DB: s.db, Log: log, DefaultFaceMajor: 58}
	s.devices = &DeviceService{DB: s.db, Capabilities: s.caps, Broker: s.broker, Log: log, Now: clock}
	s.queue = &QueueService{DB: s.db, Broker: s.broker, Log: log, MaxRetries: 3, RetryBase: 30 * time.Second, Now: clock}
	s.summaries = &SummaryService{DB: s.db, Broker: s.broker, Log: log, ShiftStart: 9 * time.Hour}
	s.engine = &SyncEngine{
		DB: s.db, Queue: s.queue, Capabilities: s.caps, Log: log,
		IdentityWindow: 10 * time.Minute, DefaultFaceMajor: 58, MinTemplateLength: 100, Now: clock,
	}
	// No buffer and no Run: every event is handled inline.
	s.dispatcher = NewSyncDispatcher(s.engine, 0, log)
	s.ingest = &IngestService{
		DB: s.db, Parser: adms.Parser{MinTemplateLength: 100},
		Devices: s.devices, Capabilities: s.caps, Summaries: s.summaries,
		Templates: s.dispatcher, Broker: s.broker, Log: log, Now: clock,
	}
	return s
}

func (s *stack) advance(d time.Duration) { s.now = s.now.Add(d) }
