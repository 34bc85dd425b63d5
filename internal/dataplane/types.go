// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dataplane installs and reconciles the kernel-level forwarding
// state described in spec §4.2: per-link routing tables and fwmark
// rules (Layer A), per-client access gates and ipsets (Layer B), and
// per-TFT mangle/filter rules (Layer C). The actual nft/netlink/conntrack
// calls live behind the Applier interface so the layer logic here stays
// platform-independent and unit-testable.
package dataplane

import "time"

const (
	// tableName is the single nftables table every layer shares.
	tableName = "magic"
	family    = "inet"

	// routeTableBase is added to a link's registration index to derive its
	// policy-routing table id (spec §4.2 Layer A).
	routeTableBase uint32 = 100
	// blackholeTable is the fixed table id for unreachable-link flows.
	blackholeTable uint32 = 99
	// blackholePriority outranks every per-link fwmark rule (lower wins).
	blackholePriority = 50

	// Resource caps (spec §4.2 resource exhaustion boundary).
	maxLinks       = 10
	maxClientRules = 256
	maxTFTRules    = 1024
)

// LinkTable is the Layer A static state installed for one registered DLM.
type LinkTable struct {
	LinkID    string
	TableID   uint32
	Interface string
	Gateway   string
}

// clientAccess is the Layer B per-client gate state. sessionIDs tracks
// every session currently relying on this client_ip's ACCEPT rules, so
// teardown can tell whether tearing down one session should remove the
// subnet-level rules (spec §4.2 "Session teardown", invariant 5 in §8).
type clientAccess struct {
	clientIP   string
	gatewayIP  string
	sessionIDs map[string]bool
	installed  bool
	handles    clientAccessHandles
}

// tftRuleHandle is one Layer C dynamic rule: a live mangle+filter pair for
// a single authorized 5-tuple, currently pointing at one link.
type tftRuleHandle struct {
	id          string
	sessionID   string
	linkID      string
	fwmark      uint32
	srcIP       string
	dstIP       string
	protocol    string // "" = any
	srcPortLow  uint16
	srcPortHigh uint16
	dstPortLow  uint16
	dstPortHigh uint16
	installedAt time.Time

	// preroutingHandle/forwardHandle are the kernel-assigned nft handles
	// of this rule's mangle (prerouting) and filter (forward) statements,
	// resolved after install via `nft -a list chain`. nft can only delete
	// a rule by handle, never by re-specifying its match expression.
	preroutingHandle uint64
	forwardHandle    uint64
}

// tftHandles is the pair of kernel rule handles InstallTFTRule/
// SwitchTFTRuleLink resolve after applying an insert script.
type tftHandles struct {
	prerouting uint64
	forward    uint64
}

// clientAccessHandles are the kernel rule handles of a client's Layer B
// OUTPUT/FORWARD ACCEPT triple, resolved after InstallClientAccess.
type clientAccessHandles struct {
	output     uint64
	forwardOut uint64
	forwardIn  uint64
}

// clientBlackholeHandles are the kernel rule handles of a client's
// post-teardown FORWARD drop pair, resolved after InstallClientBlackhole.
type clientBlackholeHandles struct {
	forwardSrc uint64
	forwardDst uint64
}

// ruleHandleID derives the stable key used to look up and atomically swap
// one installed TFT rule; a session can own more than one TFT, so the
// filter id (not just the session id) distinguishes them.
func ruleHandleID(sessionID, filterID string) string {
	return sessionID + ":" + filterID
}
