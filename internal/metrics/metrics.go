package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "heizbox"

// Metrics holds the Prometheus collectors for device coordinators.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Labels: role
	Subscribers *prometheus.GaugeVec
	// Labels: type
	Broadcasts *prometheus.CounterVec
	// Subscribers removed after a failed send. Labels: role
	DroppedSubscribers *prometheus.CounterVec
	// Labels: result (stored, duplicate, invalid, db_error)
	HeatCycles *prometheus.CounterVec
	// Labels: layer (cache, store)
	Duplicates *prometheus.CounterVec
	// Labels: outcome (offline, online, idle)
	Alarms *prometheus.CounterVec
	// Devices currently considered on.
	DevicesOnline prometheus.Gauge
	// Live coordinators.
	Coordinators prometheus.Gauge
}

// New builds the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "subscribers_active",
			Help: "Open live connections by role",
		}, []string{"role"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcasts_total",
			Help: "Events fanned out to subscribers by event type",
		}, []string{"type"}),
		DroppedSubscribers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "subscribers_dropped_total",
			Help: "Subscribers removed after a failed send",
		}, []string{"role"}),
		HeatCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "heat_cycles_total",
			Help: "heatCycleCompleted submissions by result",
		}, []string{"result"}),
		Duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "heat_cycle_duplicates_total",
			Help: "Duplicate heat cycle submissions by dedup layer",
		}, []string{"layer"}),
		Alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "liveness_alarms_total",
			Help: "Liveness alarm runs by outcome",
		}, []string{"outcome"}),
		DevicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "devices_online",
			Help: "Devices currently considered on",
		}),
		Coordinators: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "coordinators_active",
			Help: "Device coordinators running in this process",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Subscribers, m.Broadcasts, m.DroppedSubscribers, m.HeatCycles,
			m.Duplicates, m.Alarms, m.DevicesOnline, m.Coordinators,
		)
	}
	return m
}

func (m *Metrics) SubscriberAdded(role string) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(role).Inc()
}

func (m *Metrics) SubscriberRemoved(role string) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(role).Dec()
}

func (m *Metrics) SubscriberDropped(role string) {
	if m == nil {
		return
	}
	m.DroppedSubscribers.WithLabelValues(role).Inc()
}

func (m *Metrics) Broadcast(eventType string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(eventType).Inc()
}

func (m *Metrics) HeatCycle(result string) {
	if m == nil {
		return
	}
	m.HeatCycles.WithLabelValues(result).Inc()
}

func (m *Metrics) Duplicate(layer string) {
	if m == nil {
		return
	}
	m.Duplicates.WithLabelValues(layer).Inc()
}

func (m *Metrics) Alarm(outcome string) {
	if m == nil {
		return
	}
	m.Alarms.WithLabelValues(outcome).Inc()
}

// DeviceOnline moves the online gauge on an isOn transition.
func (m *Metrics) DeviceOnline(on bool) {
	if m == nil {
		return
	}
	if on {
		m.DevicesOnline.Inc()
		return
	}
	m.DevicesOnline.Dec()
}

func (m *Metrics) CoordinatorStarted() {
	if m == nil {
		return
	}
	m.Coordinators.Inc()
}

func (m *Metrics) CoordinatorStopped() {
	if m == nil {
		return
	}
	m.Coordinators.Dec()
}
