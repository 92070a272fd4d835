package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TelemetryTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hinge_telemetry_total",
			Help: "Total telemetry payloads received",
		},
	)

	TelemetryBadSignatureTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hinge_telemetry_bad_signature_total",
			Help: "Telemetry payloads dropped for signature failure",
		},
	)

	TelemetryOutOfOrderTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hinge_telemetry_out_of_order_total",
			Help: "State reports dropped by the sequence monotonicity check",
		},
	)

	TelemetryUnmatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hinge_telemetry_unmatched_total",
			Help: "Acks or results with no matching non-terminal ticket",
		},
	)

	CommandsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hinge_commands_submitted_total",
			Help: "Command tickets accepted for dispatch",
		},
	)

	CommandRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hinge_command_retries_total",
			Help: "Command publish retries after a missed ack",
		},
	)

	CommandTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hinge_command_timeouts_total",
			Help: "Tickets that reached TIMED_OUT",
		},
	)

	NotificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hinge_notifications_total",
			Help: "Security event notifications emitted",
		},
	)
)

// Register adds all counters to the given registry. Called once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		TelemetryTotal,
		TelemetryBadSignatureTotal,
		TelemetryOutOfOrderTotal,
		TelemetryUnmatchedTotal,
		CommandsSubmittedTotal,
		CommandRetriesTotal,
		CommandTimeoutsTotal,
		NotificationsTotal,
	)
}
