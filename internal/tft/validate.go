// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tft

import (
	"go4.org/netipx"
	"skyloom.aero/magic-gateway/internal/errors"
)

// Whitelist is a client's parsed TraffucSecurityConfig.AllowedTFTs, ready for
// repeated containment checks against incoming requests.
type Whitelist struct {
	Entries []*Rule
}

// ParseWhitelist parses every raw packet-filter string in raws, stopping at
// the first malformed entry — a malformed whitelist entry is a configuration
// error, not a per-request one.
func ParseWhitelist(raws []string) (*Whitelist, error) {
	w := &Whitelist{Entries: make([]*Rule, 0, len(raws))}
	for _, raw := range raws {
		r, err := Parse(raw)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "whitelist entry %q", raw)
		}
		w.Entries = append(w.Entries, r)
	}
	return w, nil
}

// Validate reports whether req is range-contained within at least one
// whitelist entry, per spec §4.1: protocol equality (or whitelist "any"),
// src/dst IP range containment, and src/dst port range containment (skipped
// when the whitelist entry spans the full port space).
//
// On rejection the error names the violated constraint and is suitable for
// direct use as a Diameter Failed-AVP cause.
func (w *Whitelist) Validate(req *Rule) error {
	if len(w.Entries) == 0 {
		return errors.New(errors.KindValidation, "tft: whitelist is empty")
	}

	var lastReason string
	for _, entry := range w.Entries {
		ok, reason := entryContains(entry, req)
		if ok {
			return nil
		}
		lastReason = reason
	}

	return errors.Errorf(errors.KindValidation, "tft: request not contained in any whitelist entry: %s", lastReason)
}

func entryContains(entry, req *Rule) (bool, string) {
	if entry.Protocol != nil {
		if req.Protocol == nil || *req.Protocol != *entry.Protocol {
			return false, "protocol mismatch"
		}
	}

	if !rangeContains(entry.SrcIPRange, req.SrcIPRange) {
		return false, "src_ip_range not contained in whitelist src_ip_range"
	}
	if !rangeContains(entry.DstIPRange, req.DstIPRange) {
		return false, "dst_ip_range not contained in whitelist dst_ip_range"
	}
	if !entry.SrcPortRange.IsFull() && !entry.SrcPortRange.Contains(req.SrcPortRange) {
		return false, "src_port_range not contained in whitelist src_port_range"
	}
	if !entry.DstPortRange.IsFull() && !entry.DstPortRange.Contains(req.DstPortRange) {
		return false, "dst_port_range not contained in whitelist dst_port_range"
	}

	return true, ""
}

// rangeContains reports whether inner is fully contained within outer.
func rangeContains(outer, inner netipx.IPRange) bool {
	if !outer.IsValid() || !inner.IsValid() {
		return false
	}
	return outer.Contains(inner.From()) && outer.Contains(inner.To())
}
