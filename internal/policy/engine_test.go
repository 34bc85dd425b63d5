// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"skyloom.aero/magic-gateway/internal/config"
)

func cruiseRuleSet() RuleSet {
	return RuleSet{
		FlightPhases: []FlightPhase{PhaseCruise, PhaseOceanic},
		Rules: []PolicyRule{
			{
				TrafficClass: ClassCabinOperations,
				Preferences: []PathPreference{
					{Ranking: 1, LinkID: "SATCOM1", Action: ActionPermit},
					{Ranking: 2, LinkID: "ATG1", Action: ActionPermit},
					{Ranking: 3, LinkID: "WIFI_GATE", Action: ActionPermit},
				},
			},
			{
				TrafficClass: ClassAllTraffic,
				Preferences: []PathPreference{
					{Ranking: 5, LinkID: "SATCOM1", Action: ActionPermit},
				},
			},
		},
	}
}

func parkedRuleSet() RuleSet {
	return RuleSet{
		FlightPhases: []FlightPhase{PhaseParked, PhaseTaxi},
		Rules: []PolicyRule{
			{
				TrafficClass: ClassCabinOperations,
				Preferences: []PathPreference{
					{Ranking: 1, LinkID: "WIFI_GATE", Action: ActionPermit},
				},
			},
		},
	}
}

func up(id string, bw, rtt uint32, cost, load int, loss float64, cov config.Coverage) LinkSnapshot {
	return LinkSnapshot{
		LinkID:          id,
		IsUp:            true,
		AvailableBWKbps: bw,
		RTTMs:           rtt,
		CostIndex:       cost,
		LoadPercent:     load,
		LossRate:        loss,
		Coverage:        cov,
	}
}

func TestSelectPath_PicksHighestScoringAvailableLink(t *testing.T) {
	e := NewEngine([]RuleSet{cruiseRuleSet()}, PhaseCruise, nil)

	links := map[string]LinkSnapshot{
		"SATCOM1": up("SATCOM1", 2000, 600, 60, 40, 0.01, config.CoverageGlobal),
		"ATG1":    up("ATG1", 8000, 40, 20, 10, 0.001, config.CoverageTerrestrial),
	}

	dec := e.SelectPath(ClassCabinOperations, links)

	assert.True(t, dec.IsValid)
	assert.Equal(t, "ATG1", dec.SelectedLinkID)
	assert.Len(t, dec.RankedPaths, 3)
}

func TestSelectPath_FallsBackToAllTrafficRule(t *testing.T) {
	e := NewEngine([]RuleSet{cruiseRuleSet()}, PhaseCruise, nil)

	links := map[string]LinkSnapshot{
		"SATCOM1": up("SATCOM1", 1000, 700, 80, 50, 0.02, config.CoverageGlobal),
	}

	dec := e.SelectPath(ClassPassengerEntertainment, links)

	assert.True(t, dec.IsValid)
	assert.Equal(t, "SATCOM1", dec.SelectedLinkID)
}

func TestSelectPath_NoRuleForPhase(t *testing.T) {
	e := NewEngine([]RuleSet{cruiseRuleSet()}, PhaseTakeoff, nil)

	dec := e.SelectPath(ClassCabinOperations, map[string]LinkSnapshot{})

	assert.False(t, dec.IsValid)
}

func TestSelectPath_ProhibitedLinkNeverSelected(t *testing.T) {
	rs := cruiseRuleSet()
	rs.Rules[0].Preferences[1].Action = ActionProhibit // ATG1 prohibited

	e := NewEngine([]RuleSet{rs}, PhaseCruise, nil)

	links := map[string]LinkSnapshot{
		"SATCOM1": up("SATCOM1", 1000, 700, 80, 50, 0.02, config.CoverageGlobal),
		"ATG1":    up("ATG1", 50000, 5, 1, 1, 0.0, config.CoverageTerrestrial),
	}

	dec := e.SelectPath(ClassCabinOperations, links)

	assert.True(t, dec.IsValid)
	assert.Equal(t, "SATCOM1", dec.SelectedLinkID)
}

func TestSelectPath_DownLinkExcluded(t *testing.T) {
	e := NewEngine([]RuleSet{cruiseRuleSet()}, PhaseCruise, nil)

	satcom := up("SATCOM1", 1000, 700, 80, 50, 0.02, config.CoverageGlobal)
	atg := up("ATG1", 8000, 40, 20, 10, 0.001, config.CoverageTerrestrial)
	atg.IsUp = false

	dec := e.SelectPath(ClassCabinOperations, map[string]LinkSnapshot{
		"SATCOM1": satcom,
		"ATG1":    atg,
	})

	assert.True(t, dec.IsValid)
	assert.Equal(t, "SATCOM1", dec.SelectedLinkID)
}

func TestSelectPath_GateOnlyLinkExcludedInCruise(t *testing.T) {
	e := NewEngine([]RuleSet{cruiseRuleSet()}, PhaseCruise, nil)

	links := map[string]LinkSnapshot{
		"SATCOM1":   up("SATCOM1", 1000, 700, 80, 50, 0.02, config.CoverageGlobal),
		"WIFI_GATE": up("WIFI_GATE", 100000, 2, 1, 1, 0.0, config.CoverageGateOnly),
	}

	dec := e.SelectPath(ClassCabinOperations, links)

	assert.True(t, dec.IsValid)
	assert.NotEqual(t, "WIFI_GATE", dec.SelectedLinkID)
}

func TestSelectPath_GateOnlyLinkUsableWhenParked(t *testing.T) {
	e := NewEngine([]RuleSet{parkedRuleSet()}, PhaseParked, nil)

	links := map[string]LinkSnapshot{
		"WIFI_GATE": up("WIFI_GATE", 100000, 2, 1, 1, 0.0, config.CoverageGateOnly),
	}

	dec := e.SelectPath(ClassCabinOperations, links)

	assert.True(t, dec.IsValid)
	assert.Equal(t, "WIFI_GATE", dec.SelectedLinkID)
}

func TestSetFlightPhase_SwitchesRuleSetForNextSelectPath(t *testing.T) {
	e := NewEngine([]RuleSet{cruiseRuleSet(), parkedRuleSet()}, PhaseCruise, nil)

	e.SetFlightPhase(PhaseParked)
	assert.Equal(t, PhaseParked, e.CurrentPhase())

	dec := e.SelectPath(ClassCabinOperations, map[string]LinkSnapshot{
		"WIFI_GATE": up("WIFI_GATE", 100000, 2, 1, 1, 0.0, config.CoverageGateOnly),
	})
	assert.True(t, dec.IsValid)
	assert.Equal(t, "WIFI_GATE", dec.SelectedLinkID)
}

func TestSelectPath_AllCandidatesUnavailable(t *testing.T) {
	e := NewEngine([]RuleSet{cruiseRuleSet()}, PhaseCruise, nil)

	dec := e.SelectPath(ClassCabinOperations, map[string]LinkSnapshot{})

	assert.False(t, dec.IsValid)
	assert.Equal(t, "", dec.SelectedLinkID)
}
