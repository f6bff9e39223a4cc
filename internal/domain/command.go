package domain

import "time"

// Command lifecycle states. pending -> sent -> success|dead_letter,
// pending -> cancelled, and sent -> pending on a retryable failure.
const (
	CommandPending    = "pending"
	CommandSent       = "sent"
	CommandSuccess    = "success"
	CommandDeadLetter = "dead_letter"
	CommandCancelled  = "cancelled"
)

// Priority classes; lower sorts first.
const (
	PriorityDelete   = 1
	PriorityIdentity = 2
	PriorityNormal   = 5
	PriorityQuery    = 9
)

// Command kinds, used to find recent identity commands for a subject.
const (
	KindIdentity = "identity"
	KindDelete   = "delete"
	KindData     = "data"
	KindOther    = "other"
)

// DeviceCommand is one entry of a terminal's outbox. Within a device the
// dequeue order is (Priority, Sequence, CreatedAt, ID) ascending.
type DeviceCommand struct {
	ID          uint       `json:"id"             gorm:"primaryKey;autoIncrement"`
	DeviceSN    string     `json:"device_sn"      gorm:"type:varchar(64);not null;index:idx_cmd_queue,priority:1"`
	Command     string     `json:"command"        gorm:"type:text;not null"`
	Kind        string     `json:"kind"           gorm:"type:varchar(16);not null;default:'other'"`
	SubjectPIN  string     `json:"subject_pin"    gorm:"type:varchar(64);index"`
	Status      string     `json:"status"         gorm:"type:varchar(16);not null;default:'pending';index:idx_cmd_queue,priority:2"`
	Priority    int        `json:"priority"       gorm:"not null;default:5;index:idx_cmd_queue,priority:3"`
	Sequence    int        `json:"sequence"       gorm:"not null;default:0;index:idx_cmd_queue,priority:4"`
	RetryCount  int        `json:"retry_count"    gorm:"not null;default:0"`
	MaxRetries  int        `json:"max_retries"    gorm:"not null;default:3"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty" gorm:"index"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	LastError   string     `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time  `json:"created_at"     gorm:"index:idx_cmd_queue,priority:5"`
	CompletedAt *time.Time `json:"completed_at,omitempty" gorm:"index"`
}

// TableName returns the database table name for DeviceCommand.
func (DeviceCommand) TableName() string { return "device_commands" }
