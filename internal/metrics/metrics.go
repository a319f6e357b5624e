// Package metrics holds the Prometheus collectors shared by the devspace services.
//
// A nil *Metrics is valid and records nothing, so services can be built in
// tests without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector devspace exports.
type Metrics struct {
	ImagePulls          *prometheus.CounterVec
	ContainersCreated   *prometheus.CounterVec
	WorkspaceStarts     *prometheus.CounterVec
	ActiveWorkspaces    prometheus.Gauge
	TerminalSessions    prometheus.Gauge
	TerminalSubscribers prometheus.Gauge
	HubConnections      prometheus.Gauge
	HubRooms            prometheus.Gauge
	PipelineRuns        *prometheus.CounterVec
	PipelineStepSeconds *prometheus.HistogramVec
	EphemeralJobs       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ImagePulls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devspace_image_pulls_total",
				Help: "Image pull attempts by result",
			},
			[]string{"result"},
		),
		ContainersCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devspace_containers_created_total",
				Help: "Workspace container provisioning attempts by result",
			},
			[]string{"result"},
		),
		WorkspaceStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devspace_workspace_starts_total",
				Help: "Workspace starts by outcome (container or fallback)",
			},
			[]string{"outcome"},
		),
		ActiveWorkspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devspace_active_workspaces",
			Help: "Workspaces with an active port mapping",
		}),
		TerminalSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devspace_terminal_sessions",
			Help: "Active shared terminal sessions",
		}),
		TerminalSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devspace_terminal_subscribers",
			Help: "Connections subscribed to a terminal session",
		}),
		HubConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devspace_realtime_connections",
			Help: "Registered realtime connections",
		}),
		HubRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devspace_realtime_rooms",
			Help: "Rooms with at least one participant",
		}),
		PipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devspace_pipeline_runs_total",
				Help: "Finished pipeline runs by final status",
			},
			[]string{"status"},
		),
		PipelineStepSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devspace_pipeline_step_duration_seconds",
				Help:    "Pipeline step duration",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"step", "status"},
		),
		EphemeralJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devspace_ephemeral_jobs_total",
				Help: "Ephemeral container jobs by result",
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ImagePulls,
			m.ContainersCreated,
			m.WorkspaceStarts,
			m.ActiveWorkspaces,
			m.TerminalSessions,
			m.TerminalSubscribers,
			m.HubConnections,
			m.HubRooms,
			m.PipelineRuns,
			m.PipelineStepSeconds,
			m.EphemeralJobs,
		)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ImagePulled(err error) {
	if m == nil {
		return
	}
	m.ImagePulls.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ContainerCreated(err error) {
	if m == nil {
		return
	}
	m.ContainersCreated.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) JobFinished(err error) {
	if m == nil {
		return
	}
	m.EphemeralJobs.WithLabelValues(result(err)).Inc()
}

// WorkspaceStarted records a start; fallback marks the simulator path.
func (m *Metrics) WorkspaceStarted(fallback bool) {
	if m == nil {
		return
	}
	outcome := "container"
	if fallback {
		outcome = "fallback"
	}
	m.WorkspaceStarts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetActiveWorkspaces(n int) {
	if m == nil {
		return
	}
	m.ActiveWorkspaces.Set(float64(n))
}

func (m *Metrics) SetTerminals(sessions, subscribers int) {
	if m == nil {
		return
	}
	m.TerminalSessions.Set(float64(sessions))
	m.TerminalSubscribers.Set(float64(subscribers))
}

func (m *Metrics) SetHub(connections, rooms int) {
	if m == nil {
		return
	}
	m.HubConnections.Set(float64(connections))
	m.HubRooms.Set(float64(rooms))
}

func (m *Metrics) PipelineFinished(status string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) StepFinished(step, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineStepSeconds.WithLabelValues(step, status).Observe(d.Seconds())
}
