// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package session tracks per-client ClientSessions, their Diameter-driven
// state machine, bearer<->link bindings, and CDR (accounting) lifecycle.
package session

import (
	"time"

	"skyloom.aero/magic-gateway/internal/errors"
	"skyloom.aero/magic-gateway/internal/tft"
)

// State is one of the six server-side ClientSession states (spec §4.5).
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateAuthenticated
	StateActive
	StateQueued
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateActive:
		return "ACTIVE"
	case StateQueued:
		return "QUEUED"
	case StateTerminating:
		return "TERMINATING"
	default:
		return "UNKNOWN"
	}
}

// SubscribeLevel is the MSCR/MSXR notification level a session is
// subscribed at. 4 and 5 are reserved-invalid (spec §6).
type SubscribeLevel int

const (
	SubscribeNone      SubscribeLevel = 0
	SubscribeMagic     SubscribeLevel = 1
	SubscribeDLM       SubscribeLevel = 2
	SubscribeMagicDLM  SubscribeLevel = 3
	SubscribeDLMLink   SubscribeLevel = 6
	SubscribeAll       SubscribeLevel = 7
)

// ValidSubscribeLevel reports whether lvl is one of the allowed values.
func ValidSubscribeLevel(lvl int) bool {
	switch SubscribeLevel(lvl) {
	case SubscribeNone, SubscribeMagic, SubscribeDLM, SubscribeMagicDLM, SubscribeDLMLink, SubscribeAll:
		return true
	default:
		return false
	}
}

// Covers reports whether this subscription level includes notifications of
// kind required (spec §4.5: 3 = union of 1 and 2, 7 = everything).
func (s SubscribeLevel) Covers(required SubscribeLevel) bool {
	if s == SubscribeAll {
		return true
	}
	if s == SubscribeMagicDLM && (required == SubscribeMagic || required == SubscribeDLM) {
		return true
	}
	return s == required
}

// InstalledTFT is a handle to one TFT rule installed in the dataplane for
// this session, retained so the session can be torn down precisely.
type InstalledTFT struct {
	Rule     *tft.Rule
	LinkID   string
	HandleID string
}

// ClientSession is the server-side record of one Diameter session.
type ClientSession struct {
	SessionID  string // Diameter Session-Id
	ClientID   string
	State      State
	ClientIP   string
	BearerID   string

	GrantedBWKbps    uint32
	GrantedRetBWKbps uint32
	SelectedLinkID   string

	SubscribeLevel SubscribeLevel
	KeepRequest    bool

	LastActivity time.Time

	InstalledTFTs []InstalledTFT

	AccountingCDRID string
}

// validTransitions enumerates the server-side FSM edges from spec §4.5's
// diagram. Force-release (Manager.ForceRelease) is gated by this table
// too: it goes through Stop and uses the ACTIVE -> AUTHENTICATED edge.
var validTransitions = map[State]map[State]bool{
	StateIdle:           {StateAuthenticating: true, StateAuthenticated: true, StateActive: true},
	StateAuthenticating: {StateAuthenticated: true, StateIdle: true},
	StateAuthenticated:  {StateActive: true, StateQueued: true, StateTerminating: true},
	StateActive:         {StateActive: true, StateAuthenticated: true, StateTerminating: true},
	StateQueued:         {StateActive: true, StateTerminating: true},
	StateTerminating:    {},
}

// transition validates and applies a state change, returning an error if
// the edge is not in validTransitions.
func (cs *ClientSession) transition(to State) error {
	if allowed, ok := validTransitions[cs.State]; !ok || !allowed[to] {
		return errors.Errorf(errors.KindConflict, "session: invalid transition %s -> %s", cs.State, to)
	}
	cs.State = to
	cs.LastActivity = time.Now()
	return nil
}
