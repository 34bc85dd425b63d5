// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package dataplane

import (
	"bytes"
	"fmt"
	"net"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ti-mo/conntrack"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"skyloom.aero/magic-gateway/internal/errors"
)

// linuxApplier drives real nftables (via `nft -f -`, matching the shell-out
// form the underlying kernel surface requires), vishvananda/netlink for
// policy routing, and ti-mo/conntrack for connection-tracking accounting.
type linuxApplier struct{}

// NewLinuxApplier returns the production Applier for Linux targets.
func NewLinuxApplier() Applier { return &linuxApplier{} }

func (a *linuxApplier) ApplyScript(script string) error {
	cmd := exec.Command("nft", "-f", "-")
	cmd.Stdin = strings.NewReader(script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "nft apply failed: %s", stderr.String())
	}
	return nil
}

func (a *linuxApplier) AddRouteTable(tableID uint32, iface, gateway string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "interface %q not found", iface)
	}

	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Table:     int(tableID),
	}
	gwIP := net.ParseIP(gateway)
	if gwIP != nil && !linkOwnsAddress(link, gwIP) {
		route.Gw = gwIP
	}
	// else: gateway equals the interface's own address, so fall back to a
	// direct (on-link) default route over this interface (spec §4.2 Layer A).

	if err := netlink.RouteAdd(route); err != nil && !isFileExists(err) {
		return errors.Wrapf(err, errors.KindInternal, "failed to add default route in table %d", tableID)
	}

	rule := netlink.NewRule()
	rule.Mark = int(tableID)
	rule.Table = int(tableID)
	rule.Priority = int(tableID)
	if err := netlink.RuleAdd(rule); err != nil && !isFileExists(err) {
		return errors.Wrapf(err, errors.KindInternal, "failed to add fwmark rule for table %d", tableID)
	}

	return a.ApplyScript(linkScript(tableID))
}

func (a *linuxApplier) RemoveRouteTable(tableID uint32) error {
	rule := netlink.NewRule()
	rule.Mark = int(tableID)
	rule.Table = int(tableID)
	rule.Priority = int(tableID)
	_ = netlink.RuleDel(rule)

	routes, err := netlink.RouteListFiltered(netlink.FAMILY_ALL, &netlink.Route{Table: int(tableID)}, netlink.RT_FILTER_TABLE)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to list routes in table %d", tableID)
	}
	for _, r := range routes {
		if err := netlink.RouteDel(&r); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "failed to remove route in table %d", tableID)
		}
	}

	return a.ApplyScript(fmt.Sprintf("delete rule %s %s postrouting meta mark %d masquerade\n", family, tableName, tableID))
}

func (a *linuxApplier) AddBlackholeRoute() error {
	route := &netlink.Route{Table: int(blackholeTable), Type: unix.RTN_BLACKHOLE}
	if err := netlink.RouteAdd(route); err != nil && !isFileExists(err) {
		return errors.Wrap(err, errors.KindInternal, "failed to add blackhole route")
	}
	rule := netlink.NewRule()
	rule.Mark = int(blackholeTable)
	rule.Table = int(blackholeTable)
	rule.Priority = blackholePriority
	if err := netlink.RuleAdd(rule); err != nil && !isFileExists(err) {
		return errors.Wrap(err, errors.KindInternal, "failed to add blackhole fwmark rule")
	}
	return nil
}

func (a *linuxApplier) RemoveBlackholeRoute() error {
	rule := netlink.NewRule()
	rule.Mark = int(blackholeTable)
	rule.Table = int(blackholeTable)
	rule.Priority = blackholePriority
	_ = netlink.RuleDel(rule)
	return netlink.RouteDel(&netlink.Route{Table: int(blackholeTable), Type: unix.RTN_BLACKHOLE})
}

func (a *linuxApplier) InstallTFTRule(h *tftRuleHandle) (tftHandles, error) {
	if err := a.ApplyScript(tftInsertScript(h)); err != nil {
		return tftHandles{}, err
	}
	preTag, fwdTag := h.id+":pre", h.id+":fwd"
	pre, err := a.ruleHandles("prerouting", preTag)
	if err != nil {
		return tftHandles{}, err
	}
	fwd, err := a.ruleHandles("forward", fwdTag)
	if err != nil {
		return tftHandles{}, err
	}
	return tftHandles{prerouting: pre[preTag], forward: fwd[fwdTag]}, nil
}

func (a *linuxApplier) SwitchTFTRuleLink(h *tftRuleHandle) (uint64, error) {
	// h.preroutingHandle still names the rule installed for the OLD
	// link/fwmark (the caller copies the handle struct before mutating
	// it); the match expression is unchanged across a link switch (same
	// 5-tuple), only the mark value differs.
	del := fmt.Sprintf("delete rule %s %s prerouting handle %d\n", family, tableName, h.preroutingHandle)
	if err := a.ApplyScript(del); err != nil {
		return 0, err
	}
	tag := h.id + ":pre"
	insert := fmt.Sprintf("add rule %s %s prerouting %s meta mark set %d comment %s\n", family, tableName, tftMatchExpr(h), h.fwmark, quote(tag))
	if err := a.ApplyScript(insert); err != nil {
		return 0, err
	}
	handles, err := a.ruleHandles("prerouting", tag)
	if err != nil {
		return 0, err
	}
	return handles[tag], nil
}

func (a *linuxApplier) RemoveTFTRule(h *tftRuleHandle) error {
	script := fmt.Sprintf(
		"delete rule %s %s prerouting handle %d\ndelete rule %s %s forward handle %d\n",
		family, tableName, h.preroutingHandle, family, tableName, h.forwardHandle,
	)
	return a.ApplyScript(script)
}

func (a *linuxApplier) InstallClientAccess(clientIP, destCIDR string) (clientAccessHandles, error) {
	if err := a.ApplyScript(clientAccessScript(clientIP, destCIDR)); err != nil {
		return clientAccessHandles{}, err
	}
	tag := clientTag(clientIP)
	outTag, fwdOutTag, fwdInTag := tag+":output", tag+":fwd-out", tag+":fwd-in"
	out, err := a.ruleHandles("output", outTag)
	if err != nil {
		return clientAccessHandles{}, err
	}
	fwd, err := a.ruleHandles("forward", fwdOutTag, fwdInTag)
	if err != nil {
		return clientAccessHandles{}, err
	}
	return clientAccessHandles{output: out[outTag], forwardOut: fwd[fwdOutTag], forwardIn: fwd[fwdInTag]}, nil
}

func (a *linuxApplier) RemoveClientAccess(clientIP string, handles clientAccessHandles) error {
	script := fmt.Sprintf(
		"delete rule %s %s output handle %d\ndelete rule %s %s forward handle %d\ndelete rule %s %s forward handle %d\n",
		family, tableName, handles.output, family, tableName, handles.forwardOut, family, tableName, handles.forwardIn,
	)
	if err := a.ApplyScript(script); err != nil {
		return err
	}
	return a.ApplyScript(clientAccessRemoveScript(clientIP))
}

func (a *linuxApplier) InstallClientBlackhole(clientIP string) (clientBlackholeHandles, error) {
	if err := a.ApplyScript(clientBlackholeScript(clientIP)); err != nil {
		return clientBlackholeHandles{}, err
	}
	tag := clientBlackholeTag(clientIP)
	srcTag, dstTag := tag+":src", tag+":dst"
	handles, err := a.ruleHandles("forward", srcTag, dstTag)
	if err != nil {
		return clientBlackholeHandles{}, err
	}
	return clientBlackholeHandles{forwardSrc: handles[srcTag], forwardDst: handles[dstTag]}, nil
}

func (a *linuxApplier) RemoveClientBlackhole(clientIP string, handles clientBlackholeHandles) error {
	script := fmt.Sprintf(
		"delete rule %s %s forward handle %d\ndelete rule %s %s forward handle %d\n",
		family, tableName, handles.forwardSrc, family, tableName, handles.forwardDst,
	)
	return a.ApplyScript(script)
}

// ruleHandles resolves the kernel-assigned handle of every comment-tagged
// rule in chain, by parsing `nft -a list chain`'s "# handle N" suffix.
// nft has no way to delete a rule by re-specifying its match expression,
// so the TFT, client-access and client-blackhole rules carry a comment tag
// precisely so their handles can be recovered here; the base-table and
// per-link masquerade rules from script.go carry no tag.
func (a *linuxApplier) ruleHandles(chain string, tags ...string) (map[string]uint64, error) {
	cmd := exec.Command("nft", "-a", "list", "chain", family, tableName, chain)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "nft list chain %s failed: %s", chain, stderr.String())
	}
	found := make(map[string]uint64, len(tags))
	for _, line := range strings.Split(out.String(), "\n") {
		for _, tag := range tags {
			if _, ok := found[tag]; ok {
				continue
			}
			if strings.Contains(line, `comment "`+tag+`"`) {
				if h, ok := parseRuleHandle(line); ok {
					found[tag] = h
				}
			}
		}
	}
	for _, tag := range tags {
		if _, ok := found[tag]; !ok {
			return nil, errors.Errorf(errors.KindInternal, "nft: rule tagged %q not found in chain %s after apply", tag, chain)
		}
	}
	return found, nil
}

func parseRuleHandle(line string) (uint64, bool) {
	idx := strings.LastIndex(line, "# handle ")
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(line[idx+len("# handle "):]), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (a *linuxApplier) CountConntrackByClientIP(clientIP string) (int, error) {
	c, err := conntrack.Dial(nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "conntrack dial failed")
	}
	defer c.Close()

	flows, err := c.Dump()
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, "conntrack dump failed")
	}
	ip := net.ParseIP(clientIP)
	n := 0
	for _, f := range flows {
		if f.TupleOrig.IP.SourceAddress.Compare(addrFromIP(ip)) == 0 {
			n++
		}
	}
	return n, nil
}

func (a *linuxApplier) FlushConntrackByClientIP(clientIP string) error {
	c, err := conntrack.Dial(nil)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "conntrack dial failed")
	}
	defer c.Close()

	flows, err := c.Dump()
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "conntrack dump failed")
	}
	ip := net.ParseIP(clientIP)
	for _, f := range flows {
		if f.TupleOrig.IP.SourceAddress.Compare(addrFromIP(ip)) == 0 {
			if err := c.Delete(f); err != nil {
				return errors.Wrapf(err, errors.KindInternal, "conntrack delete failed for %s", clientIP)
			}
		}
	}
	return nil
}

func addrFromIP(ip net.IP) netip.Addr {
	addr, _ := netip.AddrFromSlice(ip.To4())
	return addr
}

func linkOwnsAddress(link netlink.Link, ip net.IP) bool {
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if a.IP.Equal(ip) {
			return true
		}
	}
	return false
}

func isFileExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "file exists")
}
