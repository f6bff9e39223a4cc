// Package services – Broker
//
// Broker is an in-process publish/subscribe hub for liveness and attendance
// events. Subscribers (the operator SSE stream) each get their own buffered
// channel; a subscriber that falls behind loses events rather than stalling
// the publisher, which is always a terminal request.
package services

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event kinds.
const (
	EventDeviceOnline    = "device.online"
	EventDeviceOffline   = "device.offline"
	EventPunch           = "attendance.punch"
	EventSummary         = "attendance.summary"
	EventTemplateChanged = "template.changed"
	EventDeadLetter      = "command.dead_letter"
)

// Event is a notification published after a state change was persisted.
type Event struct {
	Kind         string    `json:"kind"`
	DeviceSN     string    `json:"device_sn,omitempty"`
	EmployeeCode string    `json:"employee_code,omitempty"`
	CommandID    uint      `json:"command_id,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}

// Broker fans events out to subscribers. The zero value is not usable; use
// NewBroker. A nil *Broker accepts Publish calls and drops them.
type Broker struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
	log    zerolog.Logger
}

// NewBroker creates a broker whose subscriber channels hold buffer events.
func NewBroker(buffer int, log zerolog.Logger) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{subs: make(map[chan Event]struct{}), buffer: buffer, log: log}
}

// Subscribe registers a new subscriber. The returned cancel func unregisters
// it and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber without blocking.
func (b *Broker) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			eventsDropped.Inc()
			b.log.Debug().Str("kind", e.Kind).Msg("subscriber buffer full; event dropped")
		}
	}
}

// Subscribers returns the current number of subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
