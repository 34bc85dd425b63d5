// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dlm

import (
	"sync"
	"time"

	"skyloom.aero/magic-gateway/internal/config"
	"skyloom.aero/magic-gateway/internal/errors"
	"skyloom.aero/magic-gateway/internal/logging"
)

// EventKind classifies a LinkEvent delivered on Registry.Events().
type EventKind int

const (
	EventLinkUp EventKind = iota
	EventLinkDown
	EventLinkRegistered
	EventLinkGone // DLM disconnected or heartbeat-timed-out
)

// LinkEvent is pushed to the bounded events channel for the orchestrator's
// status broadcaster and re-selection logic to consume (spec §5: "DLM accept
// loop + per-DLM reader thread feeds link events into a bounded channel").
type LinkEvent struct {
	Kind   EventKind
	LinkID string
}

const eventChannelCapacity = 256

// Registry is the mutex-protected live inventory of registered links. One
// RWMutex: many readers during policy evaluation, one writer per
// register/update/disconnect.
type Registry struct {
	mu      sync.RWMutex
	links   map[string]*Link
	nextID  uint32
	events  chan LinkEvent
	log     *logging.Logger

	heartbeatInterval time.Duration
}

// NewRegistry constructs an empty registry. heartbeatInterval governs the
// 3x-heartbeat-interval timeout a housekeeping scan applies (spec §4.3).
func NewRegistry(heartbeatInterval time.Duration, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}
	return &Registry{
		links:             make(map[string]*Link),
		nextID:            1000, // spec §4.3: assigned_id base 1000
		events:            make(chan LinkEvent, eventChannelCapacity),
		log:               log.WithComponent("dlm"),
		heartbeatInterval: heartbeatInterval,
	}
}

// Events returns the channel of link events for consumption by the status
// broadcaster and re-selection logic. Never closed during normal operation.
func (r *Registry) Events() <-chan LinkEvent {
	return r.events
}

func (r *Registry) publish(ev LinkEvent) {
	select {
	case r.events <- ev:
	default:
		r.log.Warn("link event channel full, dropping event", "kind", ev.Kind, "link_id", ev.LinkID)
	}
}

// RegisterLink admits a new DLM-announced link, assigning a monotonically
// increasing AssignedID. Re-registration of an already-known link_id
// refreshes its profile in place (a DLM process restart without a prior
// clean unregister).
func (r *Registry) RegisterLink(dlmDriverID string, profile config.DatalinkProfile) (*Link, error) {
	if profile.LinkID == "" {
		return nil, errors.New(errors.KindValidation, "dlm: link_id is required")
	}

	r.mu.Lock()
	link, exists := r.links[profile.LinkID]
	if !exists {
		link = &Link{AssignedID: r.nextID}
		r.nextID++
		r.links[profile.LinkID] = link
	}
	link.DLMDriverID = dlmDriverID
	link.Profile = profile
	r.mu.Unlock()

	r.log.Info("link registered", "link_id", profile.LinkID, "assigned_id", link.AssignedID, "dlm_driver_id", dlmDriverID)
	r.publish(LinkEvent{Kind: EventLinkRegistered, LinkID: profile.LinkID})
	return link, nil
}

// UnregisterLink removes a link from the registry, e.g. on clean DLM
// shutdown or an explicit SHUTDOWN IPC message.
func (r *Registry) UnregisterLink(linkID string) {
	r.mu.Lock()
	_, existed := r.links[linkID]
	delete(r.links, linkID)
	r.mu.Unlock()

	if existed {
		r.log.Info("link unregistered", "link_id", linkID)
		r.publish(LinkEvent{Kind: EventLinkGone, LinkID: linkID})
	}
}

// UpdateLinkDynamicState applies a LINK_EVENT's tuple, publishing an
// up/down transition event when IsUp flips.
func (r *Registry) UpdateLinkDynamicState(linkID string, state DynamicState) error {
	r.mu.Lock()
	link, ok := r.links[linkID]
	if !ok {
		r.mu.Unlock()
		return errors.Errorf(errors.KindNotFound, "dlm: unknown link_id %q", linkID)
	}

	wasUp := link.Dynamic.IsUp
	if state.CurrentBWKbps > link.Profile.MaxTxRateKbps {
		state.CurrentBWKbps = link.Profile.MaxTxRateKbps
	}
	link.Dynamic = state
	r.mu.Unlock()

	if wasUp && !state.IsUp {
		r.log.Warn("link down", "link_id", linkID)
		r.publish(LinkEvent{Kind: EventLinkDown, LinkID: linkID})
	} else if !wasUp && state.IsUp {
		r.log.Info("link up", "link_id", linkID)
		r.publish(LinkEvent{Kind: EventLinkUp, LinkID: linkID})
	}
	return nil
}

// RecordHeartbeat stamps a link's liveness timestamp and accounting from a
// HEARTBEAT IPC message.
func (r *Registry) RecordHeartbeat(linkID string, healthy bool, txBytes, rxBytes uint64) error {
	r.mu.Lock()
	link, ok := r.links[linkID]
	if !ok {
		r.mu.Unlock()
		return errors.Errorf(errors.KindNotFound, "dlm: unknown link_id %q", linkID)
	}
	link.Dynamic.LastHeartbeat = time.Now()
	wentDown := !healthy && link.Dynamic.IsUp
	if wentDown {
		link.Dynamic.IsUp = false
	}
	r.mu.Unlock()

	if wentDown {
		r.publish(LinkEvent{Kind: EventLinkDown, LinkID: linkID})
	}
	return nil
}

// GetLinkSnapshot returns a read-only copy of one link's state for the
// policy engine, or ok=false if the link is not registered.
func (r *Registry) GetLinkSnapshot(linkID string) (LinkSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	link, ok := r.links[linkID]
	if !ok {
		return LinkSnapshot{}, false
	}
	return link.snapshot(), true
}

// GetLinkProfile returns a registered link's static capability record, for
// callers that need its interface name or gateway address (the dataplane's
// InstallLink, not the policy engine, which only sees LinkSnapshot).
func (r *Registry) GetLinkProfile(linkID string) (config.DatalinkProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	link, ok := r.links[linkID]
	if !ok {
		return config.DatalinkProfile{}, false
	}
	return link.Profile, true
}

// IterateLinks returns a snapshot-copy map of every registered link's live
// state, suitable for a single SelectPath call (spec §5: "iteration holds
// the table lock only for snapshot-copy").
func (r *Registry) IterateLinks() map[string]LinkSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]LinkSnapshot, len(r.links))
	for id, link := range r.links {
		out[id] = link.snapshot()
	}
	return out
}

// ScanHeartbeats marks any link whose last heartbeat exceeds 3x the
// configured heartbeat interval as down, cascading a link-down event. Meant
// to be called by the housekeeping ticker at 1s granularity.
func (r *Registry) ScanHeartbeats(now time.Time) {
	timeout := 3 * r.heartbeatInterval

	r.mu.Lock()
	var timedOut []string
	for id, link := range r.links {
		if !link.Dynamic.IsUp {
			continue
		}
		if link.Dynamic.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(link.Dynamic.LastHeartbeat) > timeout {
			link.Dynamic.IsUp = false
			timedOut = append(timedOut, id)
		}
	}
	r.mu.Unlock()

	for _, id := range timedOut {
		r.log.Warn("heartbeat timeout, marking link down", "link_id", id, "timeout", timeout)
		r.publish(LinkEvent{Kind: EventLinkDown, LinkID: id})
	}
}
