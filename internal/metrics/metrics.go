// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the gateway's Prometheus surface: link state and
// bandwidth, session counts by FSM state, Diameter command
// volume by result code, and dataplane rule counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the gateway registers.
type Metrics struct {
	LinkUp           *prometheus.GaugeVec
	LinkAvailableBW  *prometheus.GaugeVec
	LinkLoadPercent  *prometheus.GaugeVec
	LinkRTTMs        *prometheus.GaugeVec

	SessionsByState *prometheus.GaugeVec

	DiameterCommands *prometheus.CounterVec
	DiameterResults  *prometheus.CounterVec

	DataplaneTFTRules    *prometheus.GaugeVec
	DataplaneClientRules prometheus.Gauge

	LinkEvents *prometheus.CounterVec
}

// NewMetrics constructs the gateway's metric set. Registration is the
// caller's responsibility (Register), so tests can construct a Metrics
// without touching the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		LinkUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "magic_link_up",
			Help: "Whether a registered datalink is currently up (1) or down (0).",
		}, []string{"link_id"}),

		LinkAvailableBW: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "magic_link_available_bandwidth_kbps",
			Help: "A link's currently available bandwidth, in kbps.",
		}, []string{"link_id"}),

		LinkLoadPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "magic_link_load_percent",
			Help: "A link's current load as a percentage of its max transmit rate.",
		}, []string{"link_id"}),

		LinkRTTMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "magic_link_rtt_ms",
			Help: "A link's last observed round-trip time, in milliseconds.",
		}, []string{"link_id"}),

		SessionsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "magic_sessions",
			Help: "Number of client sessions currently in a given FSM state.",
		}, []string{"state"}),

		DiameterCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magic_diameter_commands_total",
			Help: "Total Diameter commands dispatched, by command name.",
		}, []string{"command"}),

		DiameterResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magic_diameter_results_total",
			Help: "Total Diameter answers sent, by command and result code.",
		}, []string{"command", "result_code"}),

		DataplaneTFTRules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "magic_dataplane_tft_rules",
			Help: "Number of installed Layer C TFT rules, by link.",
		}, []string{"link_id"}),

		DataplaneClientRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "magic_dataplane_client_access_rules",
			Help: "Number of distinct client IPs with installed Layer B access state.",
		}),

		LinkEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magic_link_events_total",
			Help: "Total DLM link events observed, by kind.",
		}, []string{"kind"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.LinkUp, m.LinkAvailableBW, m.LinkLoadPercent, m.LinkRTTMs,
		m.SessionsByState, m.DiameterCommands, m.DiameterResults,
		m.DataplaneTFTRules, m.DataplaneClientRules, m.LinkEvents,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordCommand increments the Diameter command/result counters for one
// dispatched request.
func (m *Metrics) RecordCommand(command, resultCode string) {
	m.DiameterCommands.WithLabelValues(command).Inc()
	m.DiameterResults.WithLabelValues(command, resultCode).Inc()
}

// RecordLinkEvent increments the link-event counter for kind.
func (m *Metrics) RecordLinkEvent(kind string) {
	m.LinkEvents.WithLabelValues(kind).Inc()
}
