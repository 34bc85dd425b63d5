// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"fmt"
	"sort"
	"sync"

	"skyloom.aero/magic-gateway/internal/config"
	"skyloom.aero/magic-gateway/internal/logging"
)

// Engine holds the current flight phase and the full set of phase-scoped
// rulesets, and computes path-selection decisions against live link state.
//
// Locking: one RWMutex guards currentPhase and ruleSets together so that a
// SetFlightPhase/SelectPath pair is atomic with respect to each other
// (spec invariant 7: "after set_flight_phase(p) returns, the next
// select_path call uses the new ruleset exclusively").
type Engine struct {
	mu           sync.RWMutex
	currentPhase FlightPhase
	ruleSets     []RuleSet
	log          *logging.Logger
}

// NewEngine constructs a policy engine with the given rulesets and an
// initial flight phase.
func NewEngine(ruleSets []RuleSet, initialPhase FlightPhase, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}
	return &Engine{
		ruleSets:     ruleSets,
		currentPhase: initialPhase,
		log:          log.WithComponent("policy"),
	}
}

// SetFlightPhase atomically swaps the active ruleset. In-flight decisions
// already issued are not recomputed; only subsequent SelectPath calls see
// the new phase (spec §4.4 step 5).
func (e *Engine) SetFlightPhase(p FlightPhase) {
	e.mu.Lock()
	prev := e.currentPhase
	e.currentPhase = p
	e.mu.Unlock()
	e.log.Info("flight phase transition", "from", prev, "to", p)
}

// CurrentPhase returns the active flight phase.
func (e *Engine) CurrentPhase() FlightPhase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentPhase
}

func (e *Engine) ruleSetForPhase(p FlightPhase) *RuleSet {
	for i := range e.ruleSets {
		if e.ruleSets[i].coversPhase(p) {
			return &e.ruleSets[i]
		}
	}
	return nil
}

// score implements the spec §4.4 weighted scoring function.
func score(pref PathPreference, link LinkSnapshot) uint64 {
	s := int64(10000)
	s += int64(10-pref.Ranking) * 2000
	s += int64(link.AvailableBWKbps / 1000)
	if rttTerm := 1000 - int64(link.RTTMs); rttTerm > 0 {
		s += rttTerm
	}
	s += int64(100-link.CostIndex) * 50
	s += int64(100-link.LoadPercent) * 20
	s += int64((1 - link.LossRate) * 1000)
	if s < 0 {
		s = 0
	}
	return uint64(s)
}

// coverageExcludes reports whether a link's static coverage envelope rules
// it out for the given phase — a GATE_ONLY link (gatelink Wi-Fi) is only
// usable while PARKED or TAXI (SPEC_FULL.md supplemented feature #5).
func coverageExcludes(cov config.Coverage, phase FlightPhase) bool {
	if cov != config.CoverageGateOnly {
		return false
	}
	return phase != PhaseParked && phase != PhaseTaxi
}

// SelectPath runs the spec §4.4 algorithm for one (class, live link map) pair.
func (e *Engine) SelectPath(class TrafficClass, links map[string]LinkSnapshot) Decision {
	e.mu.RLock()
	phase := e.currentPhase
	rs := e.ruleSetForPhase(phase)
	e.mu.RUnlock()

	dec := Decision{TrafficClass: class, Phase: phase}

	if rs == nil {
		dec.IsValid = false
		dec.Reason = fmt.Sprintf("no ruleset covers flight phase %s", phase)
		return dec
	}

	rule := rs.ruleFor(class)
	if rule == nil {
		dec.IsValid = false
		dec.Reason = fmt.Sprintf("no rule for traffic class %s or ALL_TRAFFIC fallback in phase %s", class, phase)
		return dec
	}

	ranked := make([]PathScore, 0, len(rule.Preferences))
	for _, pref := range rule.Preferences {
		link, known := links[pref.LinkID]
		ps := PathScore{LinkID: pref.LinkID, Preference: pref}

		switch {
		case pref.Action == ActionProhibit:
			ps.Available = false
			ps.Score = 0
		case !known || !link.IsUp:
			ps.Available = false
			ps.Score = 0
		case coverageExcludes(link.Coverage, phase):
			ps.Available = false
			ps.Score = 0
		default:
			ps.Available = true
			ps.Score = score(pref, link)
		}
		ranked = append(ranked, ps)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	dec.RankedPaths = ranked

	if len(ranked) == 0 || !ranked[0].Available {
		dec.IsValid = false
		dec.Reason = "no available path: all candidates prohibited, down, or exhausted"
		return dec
	}

	dec.IsValid = true
	dec.SelectedLinkID = ranked[0].LinkID
	dec.Reason = fmt.Sprintf("selected %s for class %s in phase %s (score=%d)", dec.SelectedLinkID, class, phase, ranked[0].Score)
	return dec
}
