package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "replog"

const (
	masterSubsystem    = "master"
	secondarySubsystem = "secondary"
)

// Master holds the collectors updated by the replication coordinator.
type Master struct {
	Submissions        *prometheus.CounterVec
	SubmitDuration     *prometheus.HistogramVec
	SecondaryAcks      *prometheus.CounterVec
	LateAcks           *prometheus.CounterVec
	ReplicationRetries *prometheus.CounterVec
	RetryQueue         *prometheus.GaugeVec
	LogEntries         prometheus.Gauge
	Secondaries        prometheus.Gauge
}

// NewMaster builds unregistered master collectors.
func NewMaster() *Master {
	return &Master{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: masterSubsystem,
			Name:      "submissions_total",
			Help:      "Number of submissions by outcome",
		}, []string{"result"}),
		SubmitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: masterSubsystem,
			Name:      "submit_duration_seconds",
			Help:      "Time spent waiting for the write concern",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"result"}),
		SecondaryAcks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: masterSubsystem,
			Name:      "secondary_acks_total",
			Help:      "Acknowledgments received from secondaries",
			// endpoint cardinality is bounded by the registered secondaries
		}, []string{"endpoint", "ack"}),
		LateAcks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: masterSubsystem,
			Name:      "late_acks_total",
			Help:      "Acknowledgments that arrived after the submission returned",
		}, []string{"endpoint"}),
		ReplicationRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: masterSubsystem,
			Name:      "replication_retries_total",
			Help:      "Failed replication attempts that were retried",
		}, []string{"endpoint"}),
		RetryQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: masterSubsystem,
			Name:      "retry_queue_entries",
			Help:      "Entries waiting for redelivery to a secondary",
		}, []string{"endpoint"}),
		LogEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: masterSubsystem,
			Name:      "log_entries",
			Help:      "Entries stored in the master log",
		}),
		Secondaries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: masterSubsystem,
			Name:      "secondaries",
			Help:      "Registered secondaries",
		}),
	}
}

// Collectors returns all master collectors.
func (m *Master) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Submissions,
		m.SubmitDuration,
		m.SecondaryAcks,
		m.LateAcks,
		m.ReplicationRetries,
		m.RetryQueue,
		m.LogEntries,
		m.Secondaries,
	}
}

// Secondary holds the collectors updated by the secondary applier.
type Secondary struct {
	Applies        *prometheus.CounterVec
	PendingEntries prometheus.Gauge
	LogEntries     prometheus.Gauge
	InjectedErrors prometheus.Counter
}

// NewSecondary builds unregistered secondary collectors.
func NewSecondary() *Secondary {
	return &Secondary{
		Applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: secondarySubsystem,
			Name:      "applies_total",
			Help:      "Replication requests handled by outcome",
		}, []string{"ack"}),
		PendingEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: secondarySubsystem,
			Name:      "pending_entries",
			Help:      "Entries buffered while waiting for a sequence gap to close",
		}),
		LogEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: secondarySubsystem,
			Name:      "log_entries",
			Help:      "Entries stored in the secondary log",
		}),
		InjectedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: secondarySubsystem,
			Name:      "injected_errors_total",
			Help:      "Simulated failures returned after a successful apply",
		}),
	}
}

// Collectors returns all secondary collectors.
func (s *Secondary) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.Applies,
		s.PendingEntries,
		s.LogEntries,
		s.InjectedErrors,
	}
}
