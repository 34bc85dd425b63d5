// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"fmt"
	"strings"
)

// script accumulates nft statements for one atomic `nft -f -` application.
// Object creation must precede rule insertion that references it, as nft
// requires a single pass over the file.
type script struct {
	lines []string
}

func newScript() *script { return &script{} }

func (s *script) add(format string, args ...any) {
	s.lines = append(s.lines, fmt.Sprintf(format, args...))
}

func (s *script) String() string { return strings.Join(s.lines, "\n") + "\n" }

// baseTableScript is applied once at startup: the shared table, the two
// membership sets, and the fixed chains with their default policies and
// static ESTABLISHED/RELATED accept (spec §4.2 Layer B/C).
func baseTableScript(clientSubnetCIDR string) string {
	s := newScript()
	s.add("add table %s %s", family, tableName)
	s.add("add set %s %s magic_control { type ipv4_addr; }", family, tableName)
	s.add("add set %s %s magic_data { type ipv4_addr; }", family, tableName)

	s.add("add chain %s %s output { type filter hook output priority 0; policy accept; }", family, tableName)
	s.add("add chain %s %s forward { type filter hook forward priority 0; policy accept; }", family, tableName)
	s.add("add chain %s %s prerouting { type filter hook prerouting priority -150; policy accept; }", family, tableName)
	s.add("add chain %s %s postrouting { type nat hook postrouting priority 100; policy accept; }", family, tableName)

	s.add("add rule %s %s forward ct state established,related accept", family, tableName)
	s.add("add rule %s %s output ip saddr %s meta mark set 99 ip daddr != %s drop", family, tableName, clientSubnetCIDR, clientSubnetCIDR)
	s.add("add rule %s %s forward ip saddr %s drop", family, tableName, clientSubnetCIDR)
	s.add("add rule %s %s output meta mark set 99 ip saddr @magic_control accept", family, tableName)
	return s.String()
}

// linkScript installs Layer A's NAT MASQUERADE rule for a newly
// registered link's fwmark (the route table and ip-rule are netlink, not
// nft — see Applier.AddRouteTable).
func linkScript(tableID uint32) string {
	s := newScript()
	s.add("add rule %s %s postrouting meta mark %d masquerade", family, tableName, tableID)
	return s.String()
}

// clientAccessScript prepends the OUTPUT/FORWARD ACCEPT pair for a client
// becoming ACTIVE (spec §4.2 Layer B, setup_client_link_access). Each rule
// carries a comment tag so its kernel handle can be resolved afterward via
// `nft -a list chain` for handle-based removal.
func clientAccessScript(clientIP, destCIDR string) string {
	s := newScript()
	tag := clientTag(clientIP)
	s.add("insert rule %s %s output ip saddr %s ip daddr %s accept comment %s", family, tableName, clientIP, destCIDR, quote(tag+":output"))
	s.add("insert rule %s %s forward ip saddr %s ip daddr %s accept comment %s", family, tableName, clientIP, destCIDR, quote(tag+":fwd-out"))
	s.add("insert rule %s %s forward ip daddr %s ip saddr %s accept comment %s", family, tableName, clientIP, destCIDR, quote(tag+":fwd-in"))
	s.add("add element %s %s magic_data { %s }", family, tableName, clientIP)
	return s.String()
}

// clientAccessRemoveScript drops a client's magic_data set membership; the
// ACCEPT triple itself is removed by handle, not by this script.
func clientAccessRemoveScript(clientIP string) string {
	s := newScript()
	s.add("delete element %s %s magic_data { %s }", family, tableName, clientIP)
	return s.String()
}

// clientBlackholeScript installs the FORWARD drop pair applied once a
// client's last session tears down (spec §4.2 "Session teardown").
func clientBlackholeScript(clientIP string) string {
	s := newScript()
	tag := clientBlackholeTag(clientIP)
	s.add("add rule %s %s forward ip saddr %s drop comment %s", family, tableName, clientIP, quote(tag+":src"))
	s.add("add rule %s %s forward ip daddr %s drop comment %s", family, tableName, clientIP, quote(tag+":dst"))
	return s.String()
}

// clientTag and clientBlackholeTag derive the stable comment tags used to
// resolve a client's Layer B/blackhole rules to kernel handles.
func clientTag(clientIP string) string          { return "magic-client-" + clientIP }
func clientBlackholeTag(clientIP string) string { return "magic-blackhole-" + clientIP }

// tftInsertScript installs one TFT's mangle PREROUTING mark and matching
// FORWARD accept (spec §4.2 Layer C), each tagged with the rule's handle
// id so the kernel handle can be resolved afterward.
func tftInsertScript(h *tftRuleHandle) string {
	s := newScript()
	match := tftMatchExpr(h)
	s.add("add rule %s %s prerouting %s meta mark set %d comment %s", family, tableName, match, h.fwmark, quote(h.id+":pre"))
	s.add("insert rule %s %s forward %s accept comment %s", family, tableName, match, quote(h.id+":fwd"))
	return s.String()
}

// tftMatchExpr documents the 5-tuple a TFT rule was installed against; it
// is no longer used to locate the rule for deletion (nft requires a
// handle for that) but remains useful for logging and rule construction.
func tftMatchExpr(h *tftRuleHandle) string {
	var b strings.Builder
	if h.srcIP != "" {
		fmt.Fprintf(&b, "ip saddr %s ", h.srcIP)
	}
	if h.dstIP != "" {
		fmt.Fprintf(&b, "ip daddr %s ", h.dstIP)
	}
	if h.protocol != "" {
		fmt.Fprintf(&b, "ip protocol %s ", h.protocol)
	}
	if h.dstPortLow != 0 || h.dstPortHigh != 0 {
		if h.dstPortLow == h.dstPortHigh {
			fmt.Fprintf(&b, "th dport %d ", h.dstPortLow)
		} else {
			fmt.Fprintf(&b, "th dport %d-%d ", h.dstPortLow, h.dstPortHigh)
		}
	}
	if h.srcPortLow != 0 || h.srcPortHigh != 0 {
		if h.srcPortLow == h.srcPortHigh {
			fmt.Fprintf(&b, "th sport %d ", h.srcPortLow)
		} else {
			fmt.Fprintf(&b, "th sport %d-%d ", h.srcPortLow, h.srcPortHigh)
		}
	}
	return strings.TrimSpace(b.String())
}
