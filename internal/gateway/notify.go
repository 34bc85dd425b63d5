// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package gateway

import (
	"context"
	"time"

	"skyloom.aero/magic-gateway/internal/diameter"
	"skyloom.aero/magic-gateway/internal/dlm"
	"skyloom.aero/magic-gateway/internal/policy"
	"skyloom.aero/magic-gateway/internal/session"
)

const statusBroadcastInterval = 30 * time.Second
const heartbeatScanInterval = time.Second

// consumeDLMEvents drains the registry's event channel for the process
// lifetime, reacting to link state transitions: a newly registered link
// gets its Layer A table installed, a lost link triggers re-selection or
// forced release for every session still bound to it.
func (o *Orchestrator) consumeDLMEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.dlmReg.Events():
			if o.metrics != nil {
				o.metrics.RecordLinkEvent(linkEventName(ev.Kind))
			}
			switch ev.Kind {
			case dlm.EventLinkRegistered:
				o.installRegisteredLink(ev.LinkID)
			case dlm.EventLinkDown, dlm.EventLinkGone:
				o.reselectSessionsOnLink(ev.LinkID)
			case dlm.EventLinkUp:
				// A link coming back up doesn't by itself move any session;
				// the next admission or re-selection pass will prefer it.
			}
		}
	}
}

func linkEventName(kind dlm.EventKind) string {
	switch kind {
	case dlm.EventLinkUp:
		return "up"
	case dlm.EventLinkDown:
		return "down"
	case dlm.EventLinkRegistered:
		return "registered"
	case dlm.EventLinkGone:
		return "gone"
	default:
		return "unknown"
	}
}

func (o *Orchestrator) installRegisteredLink(linkID string) {
	profile, ok := o.dlmReg.GetLinkProfile(linkID)
	if !ok {
		return
	}
	if _, err := o.dataplane.InstallLink(linkID, profile.InterfaceName, profile.GatewayIP); err != nil {
		o.log.Error("failed to install dataplane link table", "link_id", linkID, "err", err)
	}
}

// reselectSessionsOnLink re-runs path selection for every ACTIVE session
// bound to a link that just went down or disappeared, switching each
// installed TFT rule to the new path in place, or force-releasing the
// session back to AUTHENTICATED when no alternative path is available.
func (o *Orchestrator) reselectSessionsOnLink(linkID string) {
	for _, sessionID := range o.sessions.SessionsByLink(linkID) {
		cs, ok := o.sessions.Get(sessionID)
		if !ok {
			continue
		}
		profile, ok := o.sessions.Profile(cs.ClientID)
		if !ok {
			continue
		}

		class := policy.TrafficClass(profile.SystemRole)
		if class == "" {
			class = policy.ClassAllTraffic
		}
		links := o.linkSnapshots()
		dec := o.policy.SelectPath(class, links)

		if !dec.IsValid || dec.SelectedLinkID == linkID {
			if err := o.sessions.ForceRelease(sessionID); err != nil {
				o.log.Error("force release failed", "session_id", sessionID, "err", err)
				continue
			}
			if err := o.dataplane.TeardownClientSession(sessionID, cs.ClientIP); err != nil {
				o.log.Error("dataplane teardown failed on forced release", "session_id", sessionID, "err", err)
			}
			o.pushNotification(sessionID, diameter.StatusKindLinkLost, diameter.CommAnswer{SelectedLinkID: linkID})
			continue
		}

		newTableID, ok := o.dataplane.LinkTableID(dec.SelectedLinkID)
		if !ok {
			continue
		}
		switched := o.switchSessionTFTs(cs, dec.SelectedLinkID, newTableID)
		if !switched {
			continue
		}
		if err := o.sessions.GrantBandwidth(sessionID, dec.SelectedLinkID, cs.GrantedBWKbps, cs.GrantedRetBWKbps); err != nil {
			o.log.Error("bandwidth re-grant failed after link switch", "session_id", sessionID, "err", err)
		}
		o.pushNotification(sessionID, diameter.StatusKindLinkSwitch, diameter.CommAnswer{
			GrantedBWKbps:    cs.GrantedBWKbps,
			GrantedRetBWKbps: cs.GrantedRetBWKbps,
			SelectedLinkID:   dec.SelectedLinkID,
		})
	}
}

func (o *Orchestrator) switchSessionTFTs(cs *session.ClientSession, newLinkID string, newTableID uint32) bool {
	updated := make([]session.InstalledTFT, 0, len(cs.InstalledTFTs))
	ok := true
	for _, installed := range cs.InstalledTFTs {
		if err := o.dataplane.SwitchTFTRuleLink(installed.HandleID, newLinkID, newTableID); err != nil {
			o.log.Error("TFT rule link switch failed", "session_id", cs.SessionID, "handle", installed.HandleID, "err", err)
			ok = false
			continue
		}
		installed.LinkID = newLinkID
		updated = append(updated, installed)
	}
	if err := o.sessions.SetInstalledTFTs(cs.SessionID, updated); err != nil {
		o.log.Error("failed to record switched TFT rules", "session_id", cs.SessionID, "err", err)
	}
	return ok
}

func (o *Orchestrator) linkSnapshots() map[string]policy.LinkSnapshot {
	links := make(map[string]policy.LinkSnapshot, 8)
	for id, ls := range o.dlmReg.IterateLinks() {
		links[id] = policy.LinkSnapshot{
			LinkID: ls.LinkID, IsUp: ls.IsUp, AvailableBWKbps: ls.AvailableBWKbps,
			RTTMs: ls.RTTMs, CostIndex: ls.CostIndex, LoadPercent: ls.LoadPercent,
			LossRate: ls.LossRate, Coverage: ls.Coverage,
		}
	}
	return links
}

// pushNotification sends an MNTR to a session's peer connection, if it is
// still registered (the peer may have disconnected between the event
// firing and this call).
func (o *Orchestrator) pushNotification(sessionID string, kind diameter.SubscribeStatusKind, ca diameter.CommAnswer) {
	pc, ok := o.peer(sessionID)
	if !ok {
		return
	}
	hbh, ete := o.nextIDs()
	if err := pc.send(diameter.BuildMNTR(sessionID, hbh, ete, kind, ca)); err != nil {
		o.log.Warn("MNTR push failed", "session_id", sessionID, "err", err)
	}
}

// runHousekeeping drives the two periodic background duties: a 1s
// heartbeat-timeout scan over the DLM registry, and a 30s DLM status
// broadcast to every session subscribed at a level that covers it.
func (o *Orchestrator) runHousekeeping(ctx context.Context) {
	heartbeatTicker := time.NewTicker(heartbeatScanInterval)
	defer heartbeatTicker.Stop()
	statusTicker := time.NewTicker(statusBroadcastInterval)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-heartbeatTicker.C:
			o.dlmReg.ScanHeartbeats(now)
		case <-statusTicker.C:
			o.broadcastStatus()
		}
	}
}

func (o *Orchestrator) broadcastStatus() {
	dlmInfo := o.dlmInfoSnapshot()
	sent := make(map[string]bool)
	for _, level := range []session.SubscribeLevel{session.SubscribeDLM, session.SubscribeDLMLink} {
		for _, sessionID := range o.sessions.SubscribedSessions(level) {
			if sent[sessionID] {
				continue
			}
			pc, ok := o.peer(sessionID)
			if !ok {
				continue
			}
			sent[sessionID] = true
			hbh, ete := o.nextIDs()
			if err := pc.send(diameter.BuildMSCR(hbh, ete, uint32(level), dlmInfo)); err != nil {
				o.log.Warn("MSCR push failed", "session_id", sessionID, "err", err)
			}
		}
	}
}
