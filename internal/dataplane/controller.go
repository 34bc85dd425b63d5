// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go4.org/netipx"

	"skyloom.aero/magic-gateway/internal/errors"
	"skyloom.aero/magic-gateway/internal/logging"
	"skyloom.aero/magic-gateway/internal/tft"
)

// Controller owns all three dataplane layers under one mutex (spec §5,
// "Dataplane tables: one mutex; external shell invocations outside the
// lock"). State is captured under mu, the lock released, then the
// Applier call executes.
type Controller struct {
	mu sync.Mutex

	links        map[string]*LinkTable              // by LinkID
	nextTableIdx uint32
	clients      map[string]*clientAccess           // by client_ip
	tftRules     map[string]*tftRuleHandle           // by ruleHandleID
	blackholes   map[string]clientBlackholeHandles   // by client_ip

	clientSubnetCIDR string
	applier          Applier
	log              *logging.Logger
}

// New constructs a Controller and applies the shared base table/chains.
func New(applier Applier, clientSubnetCIDR string, log *logging.Logger) (*Controller, error) {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}
	c := &Controller{
		links:            make(map[string]*LinkTable),
		clients:          make(map[string]*clientAccess),
		tftRules:         make(map[string]*tftRuleHandle),
		blackholes:       make(map[string]clientBlackholeHandles),
		clientSubnetCIDR: clientSubnetCIDR,
		applier:          applier,
		log:              log.WithComponent("dataplane"),
	}
	if err := applier.ApplyScript(baseTableScript(clientSubnetCIDR)); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "dataplane: failed to install base table")
	}
	if err := applier.AddBlackholeRoute(); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "dataplane: failed to install blackhole route")
	}
	return c, nil
}

// InstallLink brings up Layer A for a newly registered DLM: a dedicated
// routing table, its fwmark rule, and a NAT MASQUERADE rule keyed on that
// mark (spec §4.2 Layer A). Idempotent: re-registering an already
// installed link id is a no-op.
func (c *Controller) InstallLink(linkID, iface, gateway string) (*LinkTable, error) {
	c.mu.Lock()
	if lt, exists := c.links[linkID]; exists {
		c.mu.Unlock()
		return lt, nil
	}
	if len(c.links) >= maxLinks {
		c.mu.Unlock()
		return nil, errors.Errorf(errors.KindResourceExhausted, "dataplane: link cap of %d reached", maxLinks)
	}
	tableID := routeTableBase + c.nextTableIdx
	c.nextTableIdx++
	lt := &LinkTable{LinkID: linkID, TableID: tableID, Interface: iface, Gateway: gateway}
	c.links[linkID] = lt
	c.mu.Unlock()

	if err := c.applier.AddRouteTable(tableID, iface, gateway); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "dataplane: link %q route table install failed", linkID)
	}
	c.log.Info("installed link table", "link_id", linkID, "table_id", tableID)
	return lt, nil
}

// RemoveLink tears down Layer A for a link that has gone away, leaving
// every surviving link's state untouched.
func (c *Controller) RemoveLink(linkID string) error {
	c.mu.Lock()
	lt, ok := c.links[linkID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.links, linkID)
	c.mu.Unlock()

	if err := c.applier.RemoveRouteTable(lt.TableID); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "dataplane: link %q route table removal failed", linkID)
	}
	c.log.Info("removed link table", "link_id", linkID, "table_id", lt.TableID)
	return nil
}

// LinkTableID returns the route-table id (== fwmark) of a registered
// link, for the caller to pass into InstallTFTRule.
func (c *Controller) LinkTableID(linkID string) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lt, ok := c.links[linkID]
	if !ok {
		return 0, false
	}
	return lt.TableID, true
}

// LinkGateway returns a registered link's gateway address, for callers
// that need to compute a client's Layer B destination CIDR.
func (c *Controller) LinkGateway(linkID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lt, ok := c.links[linkID]
	if !ok {
		return "", false
	}
	return lt.Gateway, true
}

// SetupClientLinkAccess installs the Layer B OUTPUT/FORWARD ACCEPT pair
// for clientIP the first time any of its sessions goes ACTIVE. Idempotent
// per the required property in spec §8: calling it twice for an already
// installed client is a no-op besides bookkeeping the new session id.
func (c *Controller) SetupClientLinkAccess(sessionID, clientIP, gatewayIP string) error {
	c.mu.Lock()
	ca, exists := c.clients[clientIP]
	if !exists {
		if len(c.clients) >= maxClientRules {
			c.mu.Unlock()
			return errors.Errorf(errors.KindResourceExhausted, "dataplane: client-rule cap of %d reached", maxClientRules)
		}
		ca = &clientAccess{clientIP: clientIP, gatewayIP: gatewayIP, sessionIDs: make(map[string]bool)}
		c.clients[clientIP] = ca
	}
	staleBlackhole, hadBlackhole := c.blackholes[clientIP]
	if hadBlackhole {
		delete(c.blackholes, clientIP)
	}
	alreadyInstalled := ca.installed
	ca.sessionIDs[sessionID] = true
	ca.installed = true
	c.mu.Unlock()

	if hadBlackhole {
		if err := c.applier.RemoveClientBlackhole(clientIP, staleBlackhole); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "dataplane: blackhole removal failed for %s", clientIP)
		}
		c.log.Info("lifted client blackhole", "client_ip", clientIP)
	}

	if alreadyInstalled {
		return nil
	}
	destCIDR := gatewayIP
	if _, _, err := net.ParseCIDR(gatewayIP); err != nil {
		destCIDR = gatewayIP + "/32"
	}
	handles, err := c.applier.InstallClientAccess(clientIP, destCIDR)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "dataplane: client access install failed for %s", clientIP)
	}
	c.mu.Lock()
	if ca, ok := c.clients[clientIP]; ok {
		ca.handles = handles
	}
	c.mu.Unlock()
	c.log.Info("installed client access", "client_ip", clientIP, "session_id", sessionID)
	return nil
}

// InstallTFTRule installs Layer C state for one authorized 5-tuple,
// returning the opaque handle id used by SwitchTFTRuleLink/RemoveTFTRule.
func (c *Controller) InstallTFTRule(sessionID, filterID, linkID string, fwmark uint32, rule *tft.Rule) (string, error) {
	h := &tftRuleHandle{
		id:          ruleHandleID(sessionID, filterID),
		sessionID:   sessionID,
		linkID:      linkID,
		fwmark:      fwmark,
		installedAt: time.Now(),
	}
	fillHandleFromRule(h, rule)

	c.mu.Lock()
	if _, exists := c.tftRules[h.id]; exists {
		c.mu.Unlock()
		return h.id, errors.Errorf(errors.KindConflict, "dataplane: TFT rule %q already installed", h.id)
	}
	if len(c.tftRules) >= maxTFTRules {
		c.mu.Unlock()
		return "", errors.Errorf(errors.KindResourceExhausted, "dataplane: TFT-rule cap of %d reached", maxTFTRules)
	}
	c.tftRules[h.id] = h
	c.mu.Unlock()

	handles, err := c.applier.InstallTFTRule(h)
	if err != nil {
		return h.id, errors.Wrapf(err, errors.KindInternal, "dataplane: TFT rule %q install failed", h.id)
	}
	c.mu.Lock()
	if stored, ok := c.tftRules[h.id]; ok {
		stored.preroutingHandle = handles.prerouting
		stored.forwardHandle = handles.forward
	}
	c.mu.Unlock()
	c.log.Info("installed TFT rule", "handle", h.id, "link_id", linkID, "fwmark", fwmark)
	return h.id, nil
}

// SwitchTFTRuleLink atomically repoints an installed TFT rule's fwmark at
// a new link, per spec §4.2's link-switch critical path: the old mangle
// rule is deleted, then the new one inserted, using the same 5-tuple.
// During the gap, matching packets still hit the ESTABLISHED/RELATED
// accept installed at startup, not the subnet DROP.
func (c *Controller) SwitchTFTRuleLink(handleID, newLinkID string, newFWMark uint32) error {
	c.mu.Lock()
	h, ok := c.tftRules[handleID]
	if !ok {
		c.mu.Unlock()
		return errors.Errorf(errors.KindNotFound, "dataplane: no TFT rule %q", handleID)
	}
	h.linkID = newLinkID
	h.fwmark = newFWMark
	updated := *h
	c.mu.Unlock()

	newHandle, err := c.applier.SwitchTFTRuleLink(&updated)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "dataplane: TFT rule %q link switch failed", handleID)
	}
	c.mu.Lock()
	if stored, ok := c.tftRules[handleID]; ok {
		stored.preroutingHandle = newHandle
	}
	c.mu.Unlock()
	c.log.Info("switched TFT rule link", "handle", handleID, "new_link_id", newLinkID, "new_fwmark", newFWMark)
	return nil
}

// RemoveTFTRule removes one session's installed Layer C state.
func (c *Controller) RemoveTFTRule(handleID string) error {
	c.mu.Lock()
	h, ok := c.tftRules[handleID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.tftRules, handleID)
	c.mu.Unlock()

	if err := c.applier.RemoveTFTRule(h); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "dataplane: TFT rule %q removal failed", handleID)
	}
	c.log.Info("removed TFT rule", "handle", handleID, "link_id", h.linkID)
	return nil
}

// TeardownClientSession removes sessionID's Layer C/B footprint. If other
// sessions still share clientIP, only this session's TFT rules are
// removed and the client's OUTPUT/FORWARD/ipset state is left intact
// (spec §8 invariant 5, overlapping-source-IP safety).
func (c *Controller) TeardownClientSession(sessionID, clientIP string) error {
	c.mu.Lock()
	var toRemove []*tftRuleHandle
	for id, h := range c.tftRules {
		if h.sessionID == sessionID {
			toRemove = append(toRemove, h)
			delete(c.tftRules, id)
		}
	}
	c.mu.Unlock()

	for _, h := range toRemove {
		if err := c.applier.RemoveTFTRule(h); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "dataplane: TFT rule %q removal failed during teardown", h.id)
		}
	}

	c.mu.Lock()
	ca, exists := c.clients[clientIP]
	if !exists {
		c.mu.Unlock()
		return nil
	}
	delete(ca.sessionIDs, sessionID)
	remaining := len(ca.sessionIDs)
	if remaining == 0 {
		delete(c.clients, clientIP)
	}
	c.mu.Unlock()

	if remaining > 0 {
		c.log.Info("partial teardown: client IP still in use", "client_ip", clientIP, "remaining_sessions", remaining)
		return nil
	}

	// Last session on this client_ip: remove the Layer B ACCEPT triple
	// and magic_data membership, install a blackhole so any lingering
	// flows are dropped instead of falling through to the subnet DROP
	// gap, then flush conntrack (spec §4.2 "Session teardown").
	if err := c.applier.RemoveClientAccess(clientIP, ca.handles); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "dataplane: client access removal failed for %s", clientIP)
	}
	blackhole, err := c.applier.InstallClientBlackhole(clientIP)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "dataplane: blackhole install failed for %s", clientIP)
	}
	c.mu.Lock()
	c.blackholes[clientIP] = blackhole
	c.mu.Unlock()

	if err := c.applier.FlushConntrackByClientIP(clientIP); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "dataplane: conntrack flush failed for %s", clientIP)
	}
	c.log.Info("full teardown: removed client access, installed blackhole", "client_ip", clientIP)
	return nil
}

// RegisteredLinkIDs returns every link id with an installed Layer A table,
// for the metrics collector's per-link rule-count sweep.
func (c *Controller) RegisteredLinkIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.links))
	for id := range c.links {
		out = append(out, id)
	}
	return out
}

// ClientAccessCount returns how many distinct client IPs currently have
// Layer B state installed, for resource/observability reporting.
func (c *Controller) ClientAccessCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// ActiveTFTRuleCount returns how many Layer C rules currently reference
// linkID, for resource/observability reporting.
func (c *Controller) ActiveTFTRuleCount(linkID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, h := range c.tftRules {
		if h.linkID == linkID {
			n++
		}
	}
	return n
}

func fillHandleFromRule(h *tftRuleHandle, rule *tft.Rule) {
	if rule == nil {
		return
	}
	if rule.Protocol != nil {
		h.protocol = protocolName(*rule.Protocol)
	}
	full := tft.FullIPRange()
	if rule.SrcIPRange != full {
		h.srcIP = singleHostOrCIDR(rule.SrcIPRange)
	}
	if rule.DstIPRange != full {
		h.dstIP = singleHostOrCIDR(rule.DstIPRange)
	}
	if !rule.SrcPortRange.IsFull() {
		h.srcPortLow, h.srcPortHigh = rule.SrcPortRange.Low, rule.SrcPortRange.High
	}
	if !rule.DstPortRange.IsFull() {
		h.dstPortLow, h.dstPortHigh = rule.DstPortRange.Low, rule.DstPortRange.High
	}
}

// singleHostOrCIDR renders an IPRange as an nft address match: a bare
// host when From==To, otherwise nft's inline "low-high" range syntax.
func singleHostOrCIDR(r netipx.IPRange) string {
	if r.From() == r.To() {
		return r.From().String()
	}
	return r.From().String() + "-" + r.To().String()
}

func protocolName(proto uint8) string {
	switch proto {
	case 6:
		return "tcp"
	case 17:
		return "udp"
	case 1:
		return "icmp"
	default:
		return fmt.Sprintf("%d", proto)
	}
}
