package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// recordsTotal counts decoded upload lines by table and outcome
	// (stored, unchanged, skipped, rejected, unknown, failed).
	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adms_records_total",
			Help: "Upload records processed, by table and outcome.",
		},
		[]string{"table", "outcome"},
	)

	// commandEvents counts command lifecycle transitions.
	commandEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adms_command_events_total",
			Help: "Command queue transitions, by event.",
		},
		[]string{"event"},
	)

	// fanoutTotal counts template synchronization runs by outcome.
	fanoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adms_sync_fanout_total",
			Help: "Template fan-out runs, by outcome.",
		},
		[]string{"outcome"},
	)

	// devicesOnline is set from storage at startup and on every liveness
	// transition.
	devicesOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adms_devices_online",
			Help: "Devices currently marked online.",
		},
	)

	// eventsDropped counts broker events not delivered to slow subscribers.
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adms_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		},
	)
)

func init() {
	prometheus.MustRegister(recordsTotal, commandEvents, fanoutTotal, devicesOnline, eventsDropped)
}
