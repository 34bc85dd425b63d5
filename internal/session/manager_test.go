// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"skyloom.aero/magic-gateway/internal/config"
)

func newManager() *Manager {
	return NewManager([]config.ClientProfile{
		{ClientID: "CLIENT1", Limits: config.ClientLimits{TotalClientBWKbps: 10000, MaxConcurrentSessions: 4}},
	}, nil)
}

func TestCreateSession_DuplicateRejected(t *testing.T) {
	m := newManager()
	_, err := m.CreateSession("SESS1", "CLIENT1", "10.0.0.5")
	require.NoError(t, err)

	_, err = m.CreateSession("SESS1", "CLIENT1", "10.0.0.5")
	assert.Error(t, err)
}

func TestAuthenticate_ZeroRTTGoesStraightToActive(t *testing.T) {
	m := newManager()
	_, err := m.CreateSession("SESS1", "CLIENT1", "10.0.0.5")
	require.NoError(t, err)

	require.NoError(t, m.Authenticate("SESS1", true))

	cs, ok := m.Get("SESS1")
	require.True(t, ok)
	assert.Equal(t, StateActive, cs.State)
}

func TestAuthenticate_AuthOnlyStopsAtAuthenticated(t *testing.T) {
	m := newManager()
	_, err := m.CreateSession("SESS1", "CLIENT1", "10.0.0.5")
	require.NoError(t, err)

	require.NoError(t, m.Authenticate("SESS1", false))

	cs, ok := m.Get("SESS1")
	require.True(t, ok)
	assert.Equal(t, StateAuthenticated, cs.State)
}

func TestGrantBandwidth_AggregatesPerClient(t *testing.T) {
	m := newManager()
	_, _ = m.CreateSession("SESS1", "CLIENT1", "10.0.0.5")
	_, _ = m.CreateSession("SESS2", "CLIENT1", "10.0.0.5")
	require.NoError(t, m.Authenticate("SESS1", false))
	require.NoError(t, m.Authenticate("SESS2", false))

	require.NoError(t, m.GrantBandwidth("SESS1", "LINK_A", 4000, 1000))
	assert.Equal(t, uint32(6000), m.RemainingClientBandwidth("CLIENT1", 10000))

	require.NoError(t, m.GrantBandwidth("SESS2", "LINK_A", 3000, 500))
	assert.Equal(t, uint32(3000), m.RemainingClientBandwidth("CLIENT1", 10000))
}

func TestGrantBandwidth_RegrantReplacesPreviousAmount(t *testing.T) {
	m := newManager()
	_, _ = m.CreateSession("SESS1", "CLIENT1", "10.0.0.5")
	require.NoError(t, m.Authenticate("SESS1", false))

	require.NoError(t, m.GrantBandwidth("SESS1", "LINK_A", 4000, 0))
	require.NoError(t, m.GrantBandwidth("SESS1", "LINK_B", 2000, 0))

	assert.Equal(t, uint32(8000), m.RemainingClientBandwidth("CLIENT1", 10000))
}

func TestStop_ReleasesBandwidthAndReturnsToAuthenticated(t *testing.T) {
	m := newManager()
	_, _ = m.CreateSession("SESS1", "CLIENT1", "10.0.0.5")
	require.NoError(t, m.Authenticate("SESS1", false))
	require.NoError(t, m.GrantBandwidth("SESS1", "LINK_A", 4000, 0))

	require.NoError(t, m.Stop("SESS1"))

	cs, ok := m.Get("SESS1")
	require.True(t, ok)
	assert.Equal(t, StateAuthenticated, cs.State)
	assert.Equal(t, uint32(0), cs.GrantedBWKbps)
	assert.Equal(t, uint32(10000), m.RemainingClientBandwidth("CLIENT1", 10000))
}

func TestTerminate_RemovesFromTable(t *testing.T) {
	m := newManager()
	_, _ = m.CreateSession("SESS1", "CLIENT1", "10.0.0.5")
	require.NoError(t, m.Authenticate("SESS1", false))

	_, err := m.Terminate("SESS1")
	require.NoError(t, err)

	_, ok := m.Get("SESS1")
	assert.False(t, ok)
}

func TestQueue_RequiresAuthenticatedState(t *testing.T) {
	m := newManager()
	_, _ = m.CreateSession("SESS1", "CLIENT1", "10.0.0.5")

	err := m.Queue("SESS1")
	assert.Error(t, err) // still IDLE
}

func TestSubscribedSessions_LevelThreeCoversOneAndTwo(t *testing.T) {
	m := newManager()
	_, _ = m.CreateSession("SESS1", "CLIENT1", "10.0.0.5")
	require.NoError(t, m.UpdateSubscribeLevel("SESS1", SubscribeMagicDLM))

	ids := m.SubscribedSessions(SubscribeMagic)
	assert.Contains(t, ids, "SESS1")

	ids = m.SubscribedSessions(SubscribeDLM)
	assert.Contains(t, ids, "SESS1")

	ids = m.SubscribedSessions(SubscribeDLMLink)
	assert.NotContains(t, ids, "SESS1")
}

func TestSessionsByLink_OnlyActiveSessions(t *testing.T) {
	m := newManager()
	_, _ = m.CreateSession("SESS1", "CLIENT1", "10.0.0.5")
	require.NoError(t, m.Authenticate("SESS1", false))
	require.NoError(t, m.GrantBandwidth("SESS1", "LINK_A", 1000, 0))

	ids := m.SessionsByLink("LINK_A")
	assert.Equal(t, []string{"SESS1"}, ids)
}

func TestValidSubscribeLevel_RejectsReservedValues(t *testing.T) {
	assert.False(t, ValidSubscribeLevel(4))
	assert.False(t, ValidSubscribeLevel(5))
	assert.True(t, ValidSubscribeLevel(7))
}
