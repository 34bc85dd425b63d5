// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux
// +build !linux

package dataplane

import "skyloom.aero/magic-gateway/internal/errors"

// stubApplier refuses every call on non-Linux targets; the nft/netlink/
// conntrack surfaces this package drives have no portable equivalent.
type stubApplier struct{}

// NewLinuxApplier returns a stub Applier on non-Linux builds so the rest of
// the gateway still links; every call fails with KindUnsupported.
func NewLinuxApplier() Applier { return &stubApplier{} }

func unsupported(op string) error {
	return errors.Errorf(errors.KindUnsupported, "dataplane: %s requires a Linux host", op)
}

func (s *stubApplier) ApplyScript(script string) error                 { return unsupported("nft ApplyScript") }
func (s *stubApplier) AddRouteTable(tableID uint32, iface, gw string) error {
	return unsupported("AddRouteTable")
}
func (s *stubApplier) RemoveRouteTable(tableID uint32) error { return unsupported("RemoveRouteTable") }
func (s *stubApplier) AddBlackholeRoute() error              { return unsupported("AddBlackholeRoute") }
func (s *stubApplier) RemoveBlackholeRoute() error           { return unsupported("RemoveBlackholeRoute") }
func (s *stubApplier) InstallTFTRule(h *tftRuleHandle) (tftHandles, error) {
	return tftHandles{}, unsupported("InstallTFTRule")
}
func (s *stubApplier) SwitchTFTRuleLink(h *tftRuleHandle) (uint64, error) {
	return 0, unsupported("SwitchTFTRuleLink")
}
func (s *stubApplier) RemoveTFTRule(h *tftRuleHandle) error { return unsupported("RemoveTFTRule") }
func (s *stubApplier) InstallClientAccess(clientIP, destCIDR string) (clientAccessHandles, error) {
	return clientAccessHandles{}, unsupported("InstallClientAccess")
}
func (s *stubApplier) RemoveClientAccess(clientIP string, handles clientAccessHandles) error {
	return unsupported("RemoveClientAccess")
}
func (s *stubApplier) InstallClientBlackhole(clientIP string) (clientBlackholeHandles, error) {
	return clientBlackholeHandles{}, unsupported("InstallClientBlackhole")
}
func (s *stubApplier) RemoveClientBlackhole(clientIP string, handles clientBlackholeHandles) error {
	return unsupported("RemoveClientBlackhole")
}
func (s *stubApplier) CountConntrackByClientIP(clientIP string) (int, error) {
	return 0, unsupported("CountConntrackByClientIP")
}
func (s *stubApplier) FlushConntrackByClientIP(clientIP string) error {
	return unsupported("FlushConntrackByClientIP")
}
