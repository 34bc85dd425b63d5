// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dlm maintains the live inventory of registered Data Link Modules:
// their static capabilities, dynamic state, heartbeat liveness, and the
// Unix-domain-socket IPC protocol DLM processes speak to register and report
// over.
package dlm

import (
	"net"
	"time"

	"skyloom.aero/magic-gateway/internal/config"
)

// DynamicState is a link's live, heartbeat/LINK_EVENT-updated condition.
type DynamicState struct {
	IsUp            bool
	CurrentBWKbps   uint32
	CurrentLatencyMs uint32
	RTTMs           uint32
	LossRate        float64
	CurrentLoadKbps uint32
	LastHeartbeat   time.Time
	IPAddress       net.IP
	Netmask         net.IP
}

// Link is one DLM-registered datalink: an assigned identity, its static
// capability record (fixed at registration), and its live dynamic state.
//
// Invariant: CurrentBWKbps <= Profile.MaxTxRateKbps; IsUp implies
// IPAddress is set.
type Link struct {
	AssignedID uint32
	DLMDriverID string
	Profile    config.DatalinkProfile
	Dynamic    DynamicState
}

// Snapshot returns the policy-engine-facing view of this link's live state.
// Defined here (not in internal/policy) to keep the dependency
// one-directional: dlm knows about policy.LinkSnapshot's shape, policy knows
// nothing about dlm.
type LinkSnapshot struct {
	LinkID          string
	IsUp            bool
	AvailableBWKbps uint32
	RTTMs           uint32
	CostIndex       int
	LoadPercent     int
	LossRate        float64
	Coverage        config.Coverage
}

func (l *Link) snapshot() LinkSnapshot {
	available := int64(l.Profile.MaxTxRateKbps) - int64(l.Dynamic.CurrentLoadKbps)
	if available < 0 {
		available = 0
	}
	loadPct := 0
	if l.Profile.MaxTxRateKbps > 0 {
		loadPct = int(l.Dynamic.CurrentLoadKbps * 100 / l.Profile.MaxTxRateKbps)
		if loadPct > 100 {
			loadPct = 100
		}
	}
	return LinkSnapshot{
		LinkID:          l.Profile.LinkID,
		IsUp:            l.Dynamic.IsUp,
		AvailableBWKbps: uint32(available),
		RTTMs:           l.Dynamic.RTTMs,
		CostIndex:       l.Profile.CostIndex,
		LoadPercent:     loadPct,
		LossRate:        l.Dynamic.LossRate,
		Coverage:        l.Profile.Coverage,
	}
}
