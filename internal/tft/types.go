// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tft parses 3GPP TS 23.060 packet-filter (TFT) and NAPT strings and
// validates requested 5-tuples against a per-client whitelist by range
// containment rather than string match (ARINC 839 §1.2.2.2).
package tft

import (
	"net/netip"

	"go4.org/netipx"
)

// Direction records which surface syntax a rule was parsed from.
type Direction int

const (
	DirectionToGround  Direction = iota // _iTFT=
	DirectionToAircraft               // +CGTFT=
)

// PortRange is an inclusive [Low, High] port window. The zero value is not
// meaningful on its own; use FullPortRange() for "any".
type PortRange struct {
	Low  uint16
	High uint16
}

// FullPortRange returns the "any port" range, 0-65535.
func FullPortRange() PortRange { return PortRange{Low: 0, High: 65535} }

// IsFull reports whether r spans every port, the whitelist escape hatch
// called out in spec §4.1 ("unless whitelist is full 0-65535").
func (r PortRange) IsFull() bool { return r.Low == 0 && r.High == 65535 }

// Contains reports whether other is range-contained within r.
func (r PortRange) Contains(other PortRange) bool {
	return other.Low >= r.Low && other.High <= r.High
}

// Rule is a parsed packet filter: a 5-tuple of ranges plus the optional
// fields 3GPP TS 23.060 carries alongside it.
type Rule struct {
	Direction Direction

	ContextID     int
	FilterID      int
	Precedence    int
	SrcIPRange    netipx.IPRange
	DstIPRange    netipx.IPRange
	Protocol      *uint8 // nil = any protocol
	DstPortRange  PortRange
	SrcPortRange  PortRange
	IPSecSPI      *uint32
	TOS           *uint8
	FlowLabel     *uint32

	raw string
}

// Raw returns the original packet-filter string the rule was parsed from.
func (r *Rule) Raw() string { return r.raw }

// FullIPRange returns the "any address" range, 0.0.0.0-255.255.255.255.
func FullIPRange() netipx.IPRange {
	return netipx.IPRangeFrom(
		netip.MustParseAddr("0.0.0.0"),
		netip.MustParseAddr("255.255.255.255"),
	)
}
