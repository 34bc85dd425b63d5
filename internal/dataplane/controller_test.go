// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go4.org/netipx"

	"skyloom.aero/magic-gateway/internal/errors"
	"skyloom.aero/magic-gateway/internal/tft"
)

// fakeApplier is an in-memory Applier test double recording every call so
// tests can assert on kernel-level intent without a real nft/netlink host.
type fakeApplier struct {
	mu sync.Mutex

	scripts         []string
	routeTables     map[uint32]bool
	blackhole       bool
	installedTFT    map[string]*tftRuleHandle
	conntrackByIP   map[string]int
	flushedIPs      []string
	clientAccess    map[string]clientAccessHandles
	clientBlackhole map[string]clientBlackholeHandles
	nextHandle      uint64
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{
		routeTables:     make(map[uint32]bool),
		installedTFT:    make(map[string]*tftRuleHandle),
		conntrackByIP:   make(map[string]int),
		clientAccess:    make(map[string]clientAccessHandles),
		clientBlackhole: make(map[string]clientBlackholeHandles),
	}
}

func (f *fakeApplier) allocHandle() uint64 {
	f.nextHandle++
	return f.nextHandle
}

func (f *fakeApplier) ApplyScript(script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	return nil
}

func (f *fakeApplier) AddRouteTable(tableID uint32, iface, gateway string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routeTables[tableID] = true
	return nil
}

func (f *fakeApplier) RemoveRouteTable(tableID uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.routeTables, tableID)
	return nil
}

func (f *fakeApplier) AddBlackholeRoute() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blackhole = true
	return nil
}

func (f *fakeApplier) RemoveBlackholeRoute() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blackhole = false
	return nil
}

func (f *fakeApplier) InstallTFTRule(h *tftRuleHandle) (tftHandles, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *h
	cp.preroutingHandle = f.allocHandle()
	cp.forwardHandle = f.allocHandle()
	f.installedTFT[h.id] = &cp
	return tftHandles{prerouting: cp.preroutingHandle, forward: cp.forwardHandle}, nil
}

func (f *fakeApplier) SwitchTFTRuleLink(h *tftRuleHandle) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *h
	cp.preroutingHandle = f.allocHandle()
	f.installedTFT[h.id] = &cp
	return cp.preroutingHandle, nil
}

func (f *fakeApplier) RemoveTFTRule(h *tftRuleHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.installedTFT, h.id)
	return nil
}

func (f *fakeApplier) InstallClientAccess(clientIP, destCIDR string) (clientAccessHandles, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handles := clientAccessHandles{output: f.allocHandle(), forwardOut: f.allocHandle(), forwardIn: f.allocHandle()}
	f.clientAccess[clientIP] = handles
	return handles, nil
}

func (f *fakeApplier) RemoveClientAccess(clientIP string, handles clientAccessHandles) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clientAccess, clientIP)
	return nil
}

func (f *fakeApplier) InstallClientBlackhole(clientIP string) (clientBlackholeHandles, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handles := clientBlackholeHandles{forwardSrc: f.allocHandle(), forwardDst: f.allocHandle()}
	f.clientBlackhole[clientIP] = handles
	return handles, nil
}

func (f *fakeApplier) RemoveClientBlackhole(clientIP string, handles clientBlackholeHandles) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clientBlackhole, clientIP)
	return nil
}

func (f *fakeApplier) CountConntrackByClientIP(clientIP string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conntrackByIP[clientIP], nil
}

func (f *fakeApplier) FlushConntrackByClientIP(clientIP string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conntrackByIP[clientIP] = 0
	f.flushedIPs = append(f.flushedIPs, clientIP)
	return nil
}

func newTestController(t *testing.T) (*Controller, *fakeApplier) {
	t.Helper()
	fa := newFakeApplier()
	c, err := New(fa, "10.200.0.0/24", nil)
	require.NoError(t, err)
	require.True(t, fa.blackhole)
	return c, fa
}

func sampleRule(srcIP string) *tft.Rule {
	addr := netip.MustParseAddr(srcIP)
	proto := uint8(6)
	return &tft.Rule{
		SrcIPRange:   netipx.IPRangeFrom(addr, addr),
		DstIPRange:   tft.FullIPRange(),
		Protocol:     &proto,
		DstPortRange: tft.PortRange{Low: 443, High: 443},
		SrcPortRange: tft.FullPortRange(),
	}
}

func TestInstallLink_IsIdempotentAndAssignsSequentialTables(t *testing.T) {
	c, fa := newTestController(t)

	lt1, err := c.InstallLink("link-a", "eth0", "192.168.1.1")
	require.NoError(t, err)
	assert.Equal(t, uint32(100), lt1.TableID)

	lt2, err := c.InstallLink("link-b", "eth1", "192.168.2.1")
	require.NoError(t, err)
	assert.Equal(t, uint32(101), lt2.TableID)

	again, err := c.InstallLink("link-a", "eth0", "192.168.1.1")
	require.NoError(t, err)
	assert.Equal(t, lt1.TableID, again.TableID)

	assert.True(t, fa.routeTables[100])
	assert.True(t, fa.routeTables[101])
}

func TestInstallLink_EnforcesResourceCap(t *testing.T) {
	c, _ := newTestController(t)
	for i := 0; i < maxLinks; i++ {
		_, err := c.InstallLink(string(rune('a'+i)), "eth0", "192.168.1.1")
		require.NoError(t, err)
	}
	_, err := c.InstallLink("one-too-many", "eth0", "192.168.1.1")
	require.Error(t, err)
	assert.Equal(t, errors.KindResourceExhausted, errors.GetKind(err))
}

func TestSetupClientLinkAccess_IsIdempotentAcrossSessions(t *testing.T) {
	c, fa := newTestController(t)

	require.NoError(t, c.SetupClientLinkAccess("sess-1", "10.200.0.5", "10.200.0.1"))
	scriptsAfterFirst := len(fa.scripts)
	handlesAfterFirst := fa.clientAccess["10.200.0.5"]
	require.NoError(t, c.SetupClientLinkAccess("sess-2", "10.200.0.5", "10.200.0.1"))
	assert.Equal(t, scriptsAfterFirst, len(fa.scripts), "second session sharing client_ip must not reinstall Layer B rules")
	assert.Equal(t, handlesAfterFirst, fa.clientAccess["10.200.0.5"], "second session sharing client_ip must not reinstall Layer B rules")
}

func TestInstallTFTRule_EnforcesResourceCap(t *testing.T) {
	c, _ := newTestController(t)
	_, err := c.InstallLink("link-a", "eth0", "192.168.1.1")
	require.NoError(t, err)

	for i := 0; i < maxTFTRules; i++ {
		_, err := c.InstallTFTRule("sess-1", string(rune(i)), "link-a", 100, sampleRule("10.200.0.5"))
		require.NoError(t, err)
	}
	_, err = c.InstallTFTRule("sess-1", "overflow", "link-a", 100, sampleRule("10.200.0.5"))
	require.Error(t, err)
	assert.Equal(t, errors.KindResourceExhausted, errors.GetKind(err))
}

func TestSwitchTFTRuleLink_UpdatesFwmarkInPlace(t *testing.T) {
	c, fa := newTestController(t)
	_, err := c.InstallLink("link-a", "eth0", "192.168.1.1")
	require.NoError(t, err)
	_, err = c.InstallLink("link-b", "eth1", "192.168.2.1")
	require.NoError(t, err)

	handleID, err := c.InstallTFTRule("sess-1", "f1", "link-a", 100, sampleRule("10.200.0.5"))
	require.NoError(t, err)

	require.NoError(t, c.SwitchTFTRuleLink(handleID, "link-b", 101))

	assert.Equal(t, "link-b", fa.installedTFT[handleID].linkID)
	assert.Equal(t, uint32(101), fa.installedTFT[handleID].fwmark)
	assert.Equal(t, 1, c.ActiveTFTRuleCount("link-b"))
	assert.Equal(t, 0, c.ActiveTFTRuleCount("link-a"))
}

func TestTeardownClientSession_PreservesOverlappingClientIPSessions(t *testing.T) {
	c, fa := newTestController(t)
	_, err := c.InstallLink("link-a", "eth0", "192.168.1.1")
	require.NoError(t, err)

	require.NoError(t, c.SetupClientLinkAccess("sess-A", "10.200.0.9", "10.200.0.1"))
	require.NoError(t, c.SetupClientLinkAccess("sess-B", "10.200.0.9", "10.200.0.1"))

	handleA, err := c.InstallTFTRule("sess-A", "f1", "link-a", 100, sampleRule("10.200.0.9"))
	require.NoError(t, err)
	handleB, err := c.InstallTFTRule("sess-B", "f1", "link-a", 100, sampleRule("10.200.0.9"))
	require.NoError(t, err)

	require.NoError(t, c.TeardownClientSession("sess-A", "10.200.0.9"))

	_, aStillThere := fa.installedTFT[handleA]
	assert.False(t, aStillThere, "session A's own TFT rule must be removed")
	_, bStillThere := fa.installedTFT[handleB]
	assert.True(t, bStillThere, "session B's TFT rule must survive session A's teardown (invariant 5)")
	assert.Empty(t, fa.flushedIPs, "conntrack must not be flushed while session B is still active")
}

func TestTeardownClientSession_FlushesConntrackWhenLastSessionLeaves(t *testing.T) {
	c, fa := newTestController(t)
	_, err := c.InstallLink("link-a", "eth0", "192.168.1.1")
	require.NoError(t, err)
	require.NoError(t, c.SetupClientLinkAccess("sess-A", "10.200.0.9", "10.200.0.1"))
	fa.conntrackByIP["10.200.0.9"] = 3

	_, err = c.InstallTFTRule("sess-A", "f1", "link-a", 100, sampleRule("10.200.0.9"))
	require.NoError(t, err)

	require.NoError(t, c.TeardownClientSession("sess-A", "10.200.0.9"))
	assert.Equal(t, 0, fa.conntrackByIP["10.200.0.9"])
}

func TestTeardownClientSession_InstallsBlackholeAndRemovesAccessWhenLastSessionLeaves(t *testing.T) {
	c, fa := newTestController(t)
	_, err := c.InstallLink("link-a", "eth0", "192.168.1.1")
	require.NoError(t, err)
	require.NoError(t, c.SetupClientLinkAccess("sess-A", "10.200.0.9", "10.200.0.1"))
	_, hadAccess := fa.clientAccess["10.200.0.9"]
	require.True(t, hadAccess)

	require.NoError(t, c.TeardownClientSession("sess-A", "10.200.0.9"))

	_, stillHasAccess := fa.clientAccess["10.200.0.9"]
	assert.False(t, stillHasAccess, "Layer B ACCEPT triple must be removed on full teardown")
	_, hasBlackhole := fa.clientBlackhole["10.200.0.9"]
	assert.True(t, hasBlackhole, "a blackhole must be installed once a client's last session tears down")
}

func TestSetupClientLinkAccess_LiftsStaleBlackholeOnReauth(t *testing.T) {
	c, fa := newTestController(t)
	_, err := c.InstallLink("link-a", "eth0", "192.168.1.1")
	require.NoError(t, err)
	require.NoError(t, c.SetupClientLinkAccess("sess-A", "10.200.0.9", "10.200.0.1"))
	require.NoError(t, c.TeardownClientSession("sess-A", "10.200.0.9"))
	_, hasBlackhole := fa.clientBlackhole["10.200.0.9"]
	require.True(t, hasBlackhole)

	require.NoError(t, c.SetupClientLinkAccess("sess-B", "10.200.0.9", "10.200.0.1"))

	_, stillBlackholed := fa.clientBlackhole["10.200.0.9"]
	assert.False(t, stillBlackholed, "re-authenticating a blackholed client_ip must lift the blackhole")
	_, hasAccess := fa.clientAccess["10.200.0.9"]
	assert.True(t, hasAccess)
}
