// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

// noopApplier accepts every call without touching the host network stack.
// tftRuleHandle is unexported, so no other package can implement Applier
// itself; this is the seam other packages' tests construct a Controller
// through.
type noopApplier struct{}

// NewFakeApplier returns an Applier that records nothing and always
// succeeds, for tests in other packages that need a live Controller
// without a real or stubbed Linux host.
func NewFakeApplier() Applier { return &noopApplier{} }

func (f *noopApplier) ApplyScript(script string) error                     { return nil }
func (f *noopApplier) AddRouteTable(tableID uint32, iface, gw string) error { return nil }
func (f *noopApplier) RemoveRouteTable(tableID uint32) error                { return nil }
func (f *noopApplier) AddBlackholeRoute() error                             { return nil }
func (f *noopApplier) RemoveBlackholeRoute() error                          { return nil }
func (f *noopApplier) InstallTFTRule(h *tftRuleHandle) (tftHandles, error)  { return tftHandles{}, nil }
func (f *noopApplier) SwitchTFTRuleLink(h *tftRuleHandle) (uint64, error)   { return 0, nil }
func (f *noopApplier) RemoveTFTRule(h *tftRuleHandle) error                 { return nil }
func (f *noopApplier) InstallClientAccess(clientIP, destCIDR string) (clientAccessHandles, error) {
	return clientAccessHandles{}, nil
}
func (f *noopApplier) RemoveClientAccess(clientIP string, handles clientAccessHandles) error {
	return nil
}
func (f *noopApplier) InstallClientBlackhole(clientIP string) (clientBlackholeHandles, error) {
	return clientBlackholeHandles{}, nil
}
func (f *noopApplier) RemoveClientBlackhole(clientIP string, handles clientBlackholeHandles) error {
	return nil
}
func (f *noopApplier) CountConntrackByClientIP(clientIP string) (int, error) {
	return 0, nil
}
func (f *noopApplier) FlushConntrackByClientIP(clientIP string) error { return nil }
