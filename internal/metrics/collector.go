// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"time"

	"skyloom.aero/magic-gateway/internal/dataplane"
	"skyloom.aero/magic-gateway/internal/dlm"
	"skyloom.aero/magic-gateway/internal/logging"
	"skyloom.aero/magic-gateway/internal/session"
)

// Collector periodically snapshots the gateway's live subsystems into the
// Prometheus gauges; the counters (commands, results, link events) are
// updated inline by their callers via Metrics.RecordCommand/RecordLinkEvent.
type Collector struct {
	metrics  *Metrics
	sessions *session.Manager
	dlmReg   *dlm.Registry
	dp       *dataplane.Controller
	log      *logging.Logger

	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector wires a Collector over the gateway's live subsystems.
func NewCollector(m *Metrics, sessions *session.Manager, dlmReg *dlm.Registry, dp *dataplane.Controller, interval time.Duration, log *logging.Logger) *Collector {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		metrics:  m,
		sessions: sessions,
		dlmReg:   dlmReg,
		dp:       dp,
		log:      log.WithComponent("metrics"),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the collection loop until Stop is called. Meant to be
// launched in its own goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopCh:
			return
		}
	}
}

// Stop ends the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectLinks()
	c.collectSessions()
	c.collectDataplane()
}

func (c *Collector) collectLinks() {
	c.metrics.LinkUp.Reset()
	c.metrics.LinkAvailableBW.Reset()
	c.metrics.LinkLoadPercent.Reset()
	c.metrics.LinkRTTMs.Reset()

	for id, ls := range c.dlmReg.IterateLinks() {
		up := 0.0
		if ls.IsUp {
			up = 1.0
		}
		c.metrics.LinkUp.WithLabelValues(id).Set(up)
		c.metrics.LinkAvailableBW.WithLabelValues(id).Set(float64(ls.AvailableBWKbps))
		c.metrics.LinkLoadPercent.WithLabelValues(id).Set(float64(ls.LoadPercent))
		c.metrics.LinkRTTMs.WithLabelValues(id).Set(float64(ls.RTTMs))
	}
}

func (c *Collector) collectSessions() {
	c.metrics.SessionsByState.Reset()

	counts := make(map[session.State]int)
	for _, cs := range c.sessions.Snapshot() {
		counts[cs.State]++
	}
	for state, n := range counts {
		c.metrics.SessionsByState.WithLabelValues(state.String()).Set(float64(n))
	}
}

func (c *Collector) collectDataplane() {
	c.metrics.DataplaneTFTRules.Reset()
	for _, linkID := range c.dp.RegisteredLinkIDs() {
		c.metrics.DataplaneTFTRules.WithLabelValues(linkID).Set(float64(c.dp.ActiveTFTRuleCount(linkID)))
	}
	c.metrics.DataplaneClientRules.Set(float64(c.dp.ClientAccessCount()))
}
