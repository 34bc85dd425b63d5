// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

// Applier is the platform-specific surface the Controller drives: nft
// ruleset application plus the netlink/conntrack calls a text-only nft
// script can't express (route table population, connection-tracking
// accounting). apply_linux.go implements it for real; apply_stub.go
// fails every call on unsupported platforms.
type Applier interface {
	// ApplyScript atomically applies an nft script via `nft -f -`
	// (spec §6, "rewrite SHOULD use netlink bindings where available;
	// compatibility with the shell-out form is not required").
	ApplyScript(script string) error

	// AddRouteTable installs tableID's single default route via gateway
	// on iface, or a direct route if gateway equals iface's own address,
	// and its static fwmark ip-rule and NAT MASQUERADE rule.
	AddRouteTable(tableID uint32, iface, gateway string) error
	// RemoveRouteTable deletes tableID's route, ip-rule, and MASQUERADE rule.
	RemoveRouteTable(tableID uint32) error

	// AddBlackholeRoute installs the table-99 default blackhole route.
	AddBlackholeRoute() error
	RemoveBlackholeRoute() error

	// InstallTFTRule inserts one Layer C mangle+filter pair and returns the
	// kernel-assigned handles of both rules, so a later switch or removal
	// can delete them by handle rather than by re-matching the expression.
	InstallTFTRule(h *tftRuleHandle) (tftHandles, error)
	// SwitchTFTRuleLink atomically deletes h's previously installed mangle
	// rule (by h.preroutingHandle) and inserts one for h's current
	// link_id/fwmark, returning the new rule's handle.
	SwitchTFTRuleLink(h *tftRuleHandle) (uint64, error)
	// RemoveTFTRule deletes one Layer C mangle+filter pair by handle.
	RemoveTFTRule(h *tftRuleHandle) error

	// InstallClientAccess inserts a client's Layer B OUTPUT/FORWARD ACCEPT
	// triple and magic_data set membership, returning the rule handles.
	InstallClientAccess(clientIP, destCIDR string) (clientAccessHandles, error)
	// RemoveClientAccess deletes a client's Layer B ACCEPT triple by
	// handle and drops its magic_data set membership.
	RemoveClientAccess(clientIP string, handles clientAccessHandles) error
	// InstallClientBlackhole installs the per-client FORWARD drop pair
	// applied once a client's last session tears down, returning handles.
	InstallClientBlackhole(clientIP string) (clientBlackholeHandles, error)
	// RemoveClientBlackhole lifts a previously installed blackhole, e.g.
	// when the client re-authenticates and Layer B access is reinstalled.
	RemoveClientBlackhole(clientIP string, handles clientBlackholeHandles) error

	// CountConntrackByClientIP returns how many live connection-tracking
	// entries still reference clientIP as their original source address.
	CountConntrackByClientIP(clientIP string) (int, error)
	// FlushConntrackByClientIP deletes every conntrack entry for clientIP.
	FlushConntrackByClientIP(clientIP string) error
}

func quote(s string) string { return "\"" + s + "\"" }
