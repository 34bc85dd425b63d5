// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy implements the MAGIC path-selection engine (C4): given a
// traffic class, the current flight phase, and live link state, it produces
// a ranked PathSelectionDecision under a declarative rule set (spec §4.4).
package policy

import "skyloom.aero/magic-gateway/internal/config"

// FlightPhase is one of nine discrete phases gating which ruleset is active.
type FlightPhase string

const (
	PhaseParked   FlightPhase = "PARKED"
	PhaseTaxi     FlightPhase = "TAXI"
	PhaseTakeoff  FlightPhase = "TAKEOFF"
	PhaseClimb    FlightPhase = "CLIMB"
	PhaseCruise   FlightPhase = "CRUISE"
	PhaseOceanic  FlightPhase = "OCEANIC"
	PhaseDescent  FlightPhase = "DESCENT"
	PhaseApproach FlightPhase = "APPROACH"
	PhaseLanding  FlightPhase = "LANDING"
)

// TrafficClass classifies a session's traffic for policy matching.
type TrafficClass string

const (
	ClassFlightCritical        TrafficClass = "FLIGHT_CRITICAL"
	ClassCockpitData           TrafficClass = "COCKPIT_DATA"
	ClassCabinOperations       TrafficClass = "CABIN_OPERATIONS"
	ClassPassengerEntertainment TrafficClass = "PASSENGER_ENTERTAINMENT"
	ClassBulkData              TrafficClass = "BULK_DATA"
	ClassACARSComms            TrafficClass = "ACARS_COMMS"
	ClassAllTraffic            TrafficClass = "ALL_TRAFFIC"
)

// Action is the PROHIBIT/PERMIT verdict a PathPreference carries for a link.
type Action string

const (
	ActionPermit   Action = "PERMIT"
	ActionProhibit Action = "PROHIBIT"
)

// PathPreference ranks one candidate link within a PolicyRule.
type PathPreference struct {
	Ranking          int // [1,10], lower is more preferred
	LinkID           string
	Action           Action
	SecurityRequired bool
}

// PolicyRule maps one traffic class to an ordered list of PathPreferences.
type PolicyRule struct {
	TrafficClass TrafficClass
	Preferences  []PathPreference
}

// RuleSet is scoped to one or more flight phases.
//
// Invariant: an ALL_TRAFFIC rule, if present, is matched only when no
// class-specific rule applies (spec §3).
type RuleSet struct {
	FlightPhases []FlightPhase
	Rules        []PolicyRule
}

func (rs *RuleSet) coversPhase(p FlightPhase) bool {
	for _, ph := range rs.FlightPhases {
		if ph == p {
			return true
		}
	}
	return false
}

// ruleFor returns the rule matching class exactly, falling back to
// ALL_TRAFFIC, or nil if neither is present.
func (rs *RuleSet) ruleFor(class TrafficClass) *PolicyRule {
	var fallback *PolicyRule
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.TrafficClass == class {
			return r
		}
		if r.TrafficClass == ClassAllTraffic {
			fallback = r
		}
	}
	return fallback
}

// LinkSnapshot is the live state the engine needs to score one link,
// mirroring the dynamic fields of internal/dlm.Link without importing it
// (dlm depends on nothing here; this keeps the dependency one-directional).
type LinkSnapshot struct {
	LinkID            string
	IsUp              bool
	AvailableBWKbps   uint32
	RTTMs             uint32
	CostIndex         int // [1,100]
	LoadPercent       int // [0,100]
	LossRate          float64 // [0,1]
	Coverage          config.Coverage
}

// PathScore records the per-path scoring breakdown for observability and
// for the decision's Ranked list.
type PathScore struct {
	LinkID      string
	Preference  PathPreference
	Available   bool
	Score       uint64
}

// Decision is the result of one SelectPath call.
type Decision struct {
	TrafficClass    TrafficClass
	Phase           FlightPhase
	RankedPaths     []PathScore
	SelectedLinkID  string
	IsValid         bool
	Reason          string
}
