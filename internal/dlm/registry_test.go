// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dlm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"skyloom.aero/magic-gateway/internal/config"
)

func TestRegisterLink_AssignsMonotonicIDs(t *testing.T) {
	r := NewRegistry(10*time.Second, nil)

	l1, err := r.RegisterLink("DLM_1", config.DatalinkProfile{LinkID: "LINK_SATCOM", MaxTxRateKbps: 2000})
	require.NoError(t, err)
	l2, err := r.RegisterLink("DLM_2", config.DatalinkProfile{LinkID: "LINK_ATG", MaxTxRateKbps: 8000})
	require.NoError(t, err)

	assert.Equal(t, uint32(1000), l1.AssignedID)
	assert.Equal(t, uint32(1001), l2.AssignedID)
}

func TestRegisterLink_RejectsEmptyID(t *testing.T) {
	r := NewRegistry(10*time.Second, nil)
	_, err := r.RegisterLink("DLM_1", config.DatalinkProfile{})
	assert.Error(t, err)
}

func TestUpdateLinkDynamicState_ClampsToMaxRate(t *testing.T) {
	r := NewRegistry(10*time.Second, nil)
	_, err := r.RegisterLink("DLM_1", config.DatalinkProfile{LinkID: "LINK_SATCOM", MaxTxRateKbps: 1000})
	require.NoError(t, err)

	err = r.UpdateLinkDynamicState("LINK_SATCOM", DynamicState{IsUp: true, CurrentBWKbps: 5000})
	require.NoError(t, err)

	snap, ok := r.GetLinkSnapshot("LINK_SATCOM")
	require.True(t, ok)
	assert.True(t, snap.IsUp)
	assert.Equal(t, uint32(1000), r.links["LINK_SATCOM"].Dynamic.CurrentBWKbps)
}

func TestUpdateLinkDynamicState_PublishesUpDownEvents(t *testing.T) {
	r := NewRegistry(10*time.Second, nil)
	_, err := r.RegisterLink("DLM_1", config.DatalinkProfile{LinkID: "LINK_SATCOM", MaxTxRateKbps: 1000})
	require.NoError(t, err)

	drainEvent(t, r) // EventLinkRegistered

	require.NoError(t, r.UpdateLinkDynamicState("LINK_SATCOM", DynamicState{IsUp: true}))
	ev := drainEvent(t, r)
	assert.Equal(t, EventLinkUp, ev.Kind)

	require.NoError(t, r.UpdateLinkDynamicState("LINK_SATCOM", DynamicState{IsUp: false}))
	ev = drainEvent(t, r)
	assert.Equal(t, EventLinkDown, ev.Kind)
}

func TestGetLinkSnapshot_UnknownLink(t *testing.T) {
	r := NewRegistry(10*time.Second, nil)
	_, ok := r.GetLinkSnapshot("LINK_GHOST")
	assert.False(t, ok)
}

func TestIterateLinks_ReturnsAllRegistered(t *testing.T) {
	r := NewRegistry(10*time.Second, nil)
	_, _ = r.RegisterLink("DLM_1", config.DatalinkProfile{LinkID: "LINK_A", MaxTxRateKbps: 1000})
	_, _ = r.RegisterLink("DLM_2", config.DatalinkProfile{LinkID: "LINK_B", MaxTxRateKbps: 2000})

	snaps := r.IterateLinks()
	assert.Len(t, snaps, 2)
	assert.Contains(t, snaps, "LINK_A")
	assert.Contains(t, snaps, "LINK_B")
}

func TestScanHeartbeats_TimesOutStaleLink(t *testing.T) {
	r := NewRegistry(1*time.Second, nil)
	_, err := r.RegisterLink("DLM_1", config.DatalinkProfile{LinkID: "LINK_SATCOM", MaxTxRateKbps: 1000})
	require.NoError(t, err)
	drainEvent(t, r)

	require.NoError(t, r.UpdateLinkDynamicState("LINK_SATCOM", DynamicState{
		IsUp:          true,
		LastHeartbeat: time.Now().Add(-10 * time.Second),
	}))
	drainEvent(t, r) // EventLinkUp

	r.ScanHeartbeats(time.Now())

	ev := drainEvent(t, r)
	assert.Equal(t, EventLinkDown, ev.Kind)

	snap, ok := r.GetLinkSnapshot("LINK_SATCOM")
	require.True(t, ok)
	assert.False(t, snap.IsUp)
}

func TestRecordHeartbeat_UnhealthyMarksLinkDown(t *testing.T) {
	r := NewRegistry(10*time.Second, nil)
	_, err := r.RegisterLink("DLM_1", config.DatalinkProfile{LinkID: "LINK_SATCOM", MaxTxRateKbps: 1000})
	require.NoError(t, err)
	drainEvent(t, r)

	require.NoError(t, r.UpdateLinkDynamicState("LINK_SATCOM", DynamicState{IsUp: true}))
	drainEvent(t, r)

	require.NoError(t, r.RecordHeartbeat("LINK_SATCOM", false, 0, 0))
	ev := drainEvent(t, r)
	assert.Equal(t, EventLinkDown, ev.Kind)
}

func drainEvent(t *testing.T, r *Registry) LinkEvent {
	t.Helper()
	select {
	case ev := <-r.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for link event")
		return LinkEvent{}
	}
}
