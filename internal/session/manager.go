// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package session

import (
	"sync"
	"time"

	"skyloom.aero/magic-gateway/internal/config"
	"skyloom.aero/magic-gateway/internal/errors"
	"skyloom.aero/magic-gateway/internal/logging"
)

// clientUsage tracks one client's aggregate granted bandwidth so
// TotalClientBWKbps is enforced across all of that client's concurrent
// sessions (SPEC_FULL.md supplemented feature: per-client bandwidth
// remainder accounting, present in the original cap enforcement but
// collapsed out of the distilled per-session-only summary).
type clientUsage struct {
	grantedKbps uint32
	sessionIDs  map[string]bool
}

// Manager is the mutex-protected session table (spec §5: "one mutex plus
// per-session pointers; iteration holds the table lock only for
// snapshot-copy").
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*ClientSession
	usage    map[string]*clientUsage // keyed by ClientID

	profiles map[string]config.ClientProfile // read-only after startup

	log *logging.Logger
}

// NewManager constructs a session manager over a fixed, read-only set of
// client profiles.
func NewManager(profiles []config.ClientProfile, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}
	pm := make(map[string]config.ClientProfile, len(profiles))
	for _, p := range profiles {
		pm[p.ClientID] = p
	}
	return &Manager{
		sessions: make(map[string]*ClientSession),
		usage:    make(map[string]*clientUsage),
		profiles: pm,
		log:      log.WithComponent("session"),
	}
}

// Profile looks up a client's static configuration.
func (m *Manager) Profile(clientID string) (config.ClientProfile, bool) {
	p, ok := m.profiles[clientID]
	return p, ok
}

// CreateSession admits a new IDLE session, to be transitioned by
// Authenticate immediately after.
func (m *Manager) CreateSession(sessionID, clientID, clientIP string) (*ClientSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		return nil, errors.Errorf(errors.KindConflict, "session: session_id %q already exists", sessionID)
	}

	cs := &ClientSession{
		SessionID:    sessionID,
		ClientID:     clientID,
		ClientIP:     clientIP,
		State:        StateIdle,
		LastActivity: time.Now(),
	}
	m.sessions[sessionID] = cs
	return cs, nil
}

// Get returns the session by id, or ok=false.
func (m *Manager) Get(sessionID string) (*ClientSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.sessions[sessionID]
	return cs, ok
}

// Authenticate applies the MCAR auth-only or auth+0-RTT transition.
func (m *Manager) Authenticate(sessionID string, zeroRTT bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.sessions[sessionID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "session: unknown session_id %q", sessionID)
	}
	if err := cs.transition(StateAuthenticated); err != nil {
		return err
	}
	if zeroRTT {
		return cs.transition(StateActive)
	}
	return nil
}

// ConcurrentSessionCount returns how many sessions (any state but
// TERMINATING) belong to clientID, for MaxConcurrentSessions enforcement.
func (m *Manager) ConcurrentSessionCount(clientID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, cs := range m.sessions {
		if cs.ClientID == clientID && cs.State != StateTerminating {
			n++
		}
	}
	return n
}

// RemainingClientBandwidth returns how much of a client's
// TotalClientBWKbps cap is unused across its other active sessions.
func (m *Manager) RemainingClientBandwidth(clientID string, capKbps uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usage[clientID]
	if !ok {
		return capKbps
	}
	if u.grantedKbps >= capKbps {
		return 0
	}
	return capKbps - u.grantedKbps
}

// GrantBandwidth records sessionID's newly granted bandwidth against its
// client's running total, replacing any previous grant for that session,
// and transitions the session to ACTIVE with the given link. Bandwidth
// accounting and the FSM edge are applied atomically under the table lock
// so a concurrent MCCR on a sibling session can't observe a torn total.
func (m *Manager) GrantBandwidth(sessionID, linkID string, grantedKbps, grantedRetKbps uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.sessions[sessionID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "session: unknown session_id %q", sessionID)
	}

	u := m.usage[cs.ClientID]
	if u == nil {
		u = &clientUsage{sessionIDs: make(map[string]bool)}
		m.usage[cs.ClientID] = u
	}
	if u.sessionIDs[sessionID] {
		u.grantedKbps -= cs.GrantedBWKbps
	}
	u.grantedKbps += grantedKbps
	u.sessionIDs[sessionID] = true

	cs.GrantedBWKbps = grantedKbps
	cs.GrantedRetBWKbps = grantedRetKbps
	cs.SelectedLinkID = linkID

	if cs.State != StateActive {
		return cs.transition(StateActive)
	}
	cs.LastActivity = time.Now()
	return nil
}

// SetInstalledTFTs replaces a session's dataplane TFT handle list, for
// later precise teardown and DLM-event-driven link-switch retargeting.
func (m *Manager) SetInstalledTFTs(sessionID string, tfts []InstalledTFT) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.sessions[sessionID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "session: unknown session_id %q", sessionID)
	}
	cs.InstalledTFTs = tfts
	return nil
}

// Queue transitions an AUTHENTICATED session to QUEUED (MCCR start, no
// bandwidth available, Keep-Request=1).
func (m *Manager) Queue(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.sessions[sessionID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "session: unknown session_id %q", sessionID)
	}
	return cs.transition(StateQueued)
}

// Stop releases a session's granted bandwidth and TFT rules, returning to
// AUTHENTICATED (MCCR stop: zero requested bandwidth).
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.sessions[sessionID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "session: unknown session_id %q", sessionID)
	}

	m.releaseBandwidthLocked(cs)
	cs.SelectedLinkID = ""
	cs.InstalledTFTs = nil

	return cs.transition(StateAuthenticated)
}

// ForceRelease drops a session back to AUTHENTICATED due to a server-push
// link-lost event, without requiring a client-initiated STR.
func (m *Manager) ForceRelease(sessionID string) error {
	return m.Stop(sessionID)
}

// Terminate moves a session to TERMINATING and removes it from the table,
// releasing its bandwidth accounting.
func (m *Manager) Terminate(sessionID string) (*ClientSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "session: unknown session_id %q", sessionID)
	}
	if err := cs.transition(StateTerminating); err != nil {
		return nil, err
	}
	m.releaseBandwidthLocked(cs)
	delete(m.sessions, sessionID)
	return cs, nil
}

func (m *Manager) releaseBandwidthLocked(cs *ClientSession) {
	u, ok := m.usage[cs.ClientID]
	if !ok {
		return
	}
	if u.sessionIDs[cs.SessionID] {
		if u.grantedKbps >= cs.GrantedBWKbps {
			u.grantedKbps -= cs.GrantedBWKbps
		} else {
			u.grantedKbps = 0
		}
		delete(u.sessionIDs, cs.SessionID)
	}
	cs.GrantedBWKbps = 0
	cs.GrantedRetBWKbps = 0
}

// Snapshot returns a copy of every session currently in the table, for the
// housekeeping ticker's scans.
func (m *Manager) Snapshot() []ClientSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ClientSession, 0, len(m.sessions))
	for _, cs := range m.sessions {
		out = append(out, *cs)
	}
	return out
}

// SessionsByLink returns the session ids currently bound to linkID, for
// DLM-event-driven re-selection.
func (m *Manager) SessionsByLink(linkID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for id, cs := range m.sessions {
		if cs.State == StateActive && cs.SelectedLinkID == linkID {
			out = append(out, id)
		}
	}
	return out
}

// UpdateSubscribeLevel stores lvl as a session's MSCR/MSXR notification
// level. Callers pass the server-authorized level, already downgraded from
// an invalid request (SPEC_FULL.md supplemented feature: the server-chosen
// level persists on the session, not just the answer, so later MSCR
// fan-out reflects it).
func (m *Manager) UpdateSubscribeLevel(sessionID string, lvl SubscribeLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.sessions[sessionID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "session: unknown session_id %q", sessionID)
	}
	cs.SubscribeLevel = lvl
	return nil
}

// AttachCDR records the CDR id that accounts for a session's current data
// connection.
func (m *Manager) AttachCDR(sessionID, cdrID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.sessions[sessionID]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "session: unknown session_id %q", sessionID)
	}
	cs.AccountingCDRID = cdrID
	return nil
}

// SubscribedSessions returns the session ids whose SubscribeLevel covers
// required, for MSCR fan-out.
func (m *Manager) SubscribedSessions(required SubscribeLevel) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for id, cs := range m.sessions {
		if cs.SubscribeLevel.Covers(required) {
			out = append(out, id)
		}
	}
	return out
}
