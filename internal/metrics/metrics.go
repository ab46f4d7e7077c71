package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoldsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easybox_holds_total",
		Help: "Reservation hold attempts by result (ok, conflict, error).",
	},
		[]string{"result"},
	)

	ConfirmationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "easybox_confirmations_total",
		Help: "Total number of holds turned into confirmed reservations.",
	})

	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easybox_qr_scans_total",
		Help: "QR scans received from lockers by result.",
	},
		[]string{"result"},
	)

	ExpiredHoldsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "easybox_expired_holds_deleted_total",
		Help: "Pending holds removed after their expiry.",
	})

	SweepTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easybox_sweep_transitions_total",
		Help: "Status changes applied by the cleanup sweep, by target status.",
	},
		[]string{"to"},
	)

	SweepSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easybox_sweep_skipped_total",
		Help: "Reservations the sweep could not update, by reason (version_conflict, error).",
	},
		[]string{"reason"},
	)

	DeviceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easybox_device_requests_total",
		Help: "Command/response exchanges with lockers by result (ok, timeout, error).",
	},
		[]string{"result"},
	)

	DevicePendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "easybox_device_pending_requests",
		Help: "Current number of inventory requests waiting for a locker reply.",
	})

	GeocodeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easybox_geocode_requests_total",
		Help: "Geocoding lookups by result (hit, miss, error).",
	},
		[]string{"result"},
	)
)
