// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config defines the gateway's parsed configuration value types.
//
// The core never reads a config file from disk (spec §6, Non-goals): an
// external collaborator parses DatalinkProfile/CentralPolicyProfile/
// ClientProfile XML and hands the gateway an already-built GatewayConfig.
// This package therefore only defines that value's shape.
package config

import "net"

// Coverage is a link's geographic availability envelope.
type Coverage string

const (
	CoverageGlobal     Coverage = "GLOBAL"
	CoverageTerrestrial Coverage = "TERRESTRIAL"
	CoverageGateOnly   Coverage = "GATE_ONLY"
)

// DatalinkProfile is the static, registration-time description of one DLM,
// independent of its live dynamic state (tracked separately by the DLM
// registry, C3).
type DatalinkProfile struct {
	LinkID          string
	InterfaceName   string
	GatewayIP       string // direct-route fallback when this equals the interface's own IP
	DLMDriverID     string
	MaxTxRateKbps   uint32
	TypicalLatencyMs uint32
	CostIndex       int // [1,100]
	SecurityLevel   int
	Coverage        Coverage
	Priority        int // [1,10]
}

// AuthKind distinguishes the two ClientProfile authentication shapes.
type AuthKind int

const (
	AuthMagicAware AuthKind = iota
	AuthNonAware
)

// ClientAuth holds the authentication material for one of the two kinds.
// Exactly one half is populated, selected by Kind.
type ClientAuth struct {
	Kind AuthKind

	// MAGIC_AWARE
	Username string
	Password string

	// NON_AWARE
	SourceIP     net.IP
	DestIP       net.IP
	DestPortList []uint16
}

// TrafficSecurityConfig is a client's TFT/NAPT whitelist: the set of ranges
// a client's requested 5-tuples must be range-contained within (C1).
type TrafficSecurityConfig struct {
	AllowedTFTs      []string // raw 3GPP TFT strings, parsed lazily by internal/tft
	DestIPRange      string
	DestPortRange    string
	SourcePortRange  string
	AllowedProtocols []string
}

// ClientLimits bounds one client's resource consumption.
type ClientLimits struct {
	MaxSessionBWKbps      uint32
	TotalClientBWKbps     uint32
	MaxConcurrentSessions int
}

// SystemRole classifies a client for traffic-class purposes (spec §4.5,
// MCCR step 2: "Classifies the client into a TrafficClass via
// ClientProfile.system_role").
type SystemRole string

// ClientProfile is loaded at startup and read-only thereafter — no locking
// required when reading it (spec §5, Shared resources).
type ClientProfile struct {
	ClientID   string
	Auth       ClientAuth
	Whitelist  TrafficSecurityConfig
	Limits     ClientLimits
	SystemRole SystemRole
	Metadata   map[string]string
}

// GatewayConfig is the single parsed configuration value the core receives
// at startup and never mutates or re-reads from disk.
type GatewayConfig struct {
	Links           []DatalinkProfile
	Clients         []ClientProfile
	PolicyRuleSets  []PolicyRuleSetConfig
	ClientSubnetCIDR string // spec §9: must come from config, not be baked in
	DLMSocketPath   string
	HeartbeatInterval int // seconds
	DiameterRequestTimeoutSeconds int
}

// PolicyRuleSetConfig mirrors internal/policy.RuleSet but lives here so
// config construction doesn't need to import the policy package's live
// scoring types.
type PolicyRuleSetConfig struct {
	FlightPhases []string
	Rules        []PolicyRuleConfig
}

type PolicyRuleConfig struct {
	TrafficClass string
	Preferences  []PathPreferenceConfig
}

type PathPreferenceConfig struct {
	Ranking          int
	LinkID           string
	Action           string // "PERMIT" | "PROHIBIT"
	SecurityRequired bool
}
