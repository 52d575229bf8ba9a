package http

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine counters on a private registry, so several
// servers (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	CommandsTotal     *prometheus.CounterVec
	PollsTotal        *prometheus.CounterVec
	TrackGuardTotal   *prometheus.CounterVec
	TokenRefreshTotal *prometheus.CounterVec
	RemoteActive      prometheus.Gauge
	StreamSubscribers prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playsync_commands_total",
				Help: "Total number of playback commands by route and outcome",
			},
			[]string{"command", "route", "status"},
		),
		PollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playsync_polls_total",
				Help: "Total number of state polls by source and outcome",
			},
			[]string{"source", "status"},
		),
		TrackGuardTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playsync_track_guard_total",
				Help: "Incoming track payloads by stabilization outcome",
			},
			[]string{"outcome"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playsync_token_refresh_total",
				Help: "Total number of playback token fetches",
			},
			[]string{"status"},
		),
		RemoteActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "playsync_remote_active",
				Help: "1 while another device owns playback",
			},
		),
		StreamSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "playsync_stream_subscribers",
				Help: "Number of connected state stream clients",
			},
		),
	}

	m.registry.MustRegister(
		m.CommandsTotal,
		m.PollsTotal,
		m.TrackGuardTotal,
		m.TokenRefreshTotal,
		m.RemoteActive,
		m.StreamSubscribers,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordCommand(command, route, status string) {
	m.CommandsTotal.WithLabelValues(command, route, status).Inc()
}

func (m *Metrics) RecordPoll(source, status string) {
	m.PollsTotal.WithLabelValues(source, status).Inc()
}

func (m *Metrics) RecordTrackGuard(outcome string) {
	m.TrackGuardTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTokenRefresh(status string) {
	m.TokenRefreshTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetRemoteActive(active bool) {
	if active {
		m.RemoteActive.Set(1)
		return
	}
	m.RemoteActive.Set(0)
}
