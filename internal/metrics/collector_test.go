// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyloom.aero/magic-gateway/internal/config"
	"skyloom.aero/magic-gateway/internal/dataplane"
	"skyloom.aero/magic-gateway/internal/dlm"
	"skyloom.aero/magic-gateway/internal/session"
)

func TestCollect_ReportsLinkAndSessionGauges(t *testing.T) {
	dlmReg := dlm.NewRegistry(10*time.Second, nil)
	_, err := dlmReg.RegisterLink("DLM_1", config.DatalinkProfile{LinkID: "LINK_SATCOM", MaxTxRateKbps: 2000})
	require.NoError(t, err)
	require.NoError(t, dlmReg.UpdateLinkDynamicState("LINK_SATCOM", dlm.DynamicState{IsUp: true, CurrentBWKbps: 500, RTTMs: 40}))

	sessions := session.NewManager([]config.ClientProfile{
		{ClientID: "CLIENT1", Limits: config.ClientLimits{TotalClientBWKbps: 10000, MaxConcurrentSessions: 4}},
	}, nil)
	_, err = sessions.CreateSession("SESS1", "CLIENT1", "10.0.0.5")
	require.NoError(t, err)
	require.NoError(t, sessions.Authenticate("SESS1", false))

	dp, err := dataplane.New(dataplane.NewFakeApplier(), "10.0.0.0/24", nil)
	require.NoError(t, err)

	m := NewMetrics()
	c := NewCollector(m, sessions, dlmReg, dp, time.Second, nil)
	c.collect()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LinkUp.WithLabelValues("LINK_SATCOM")))
	assert.Equal(t, float64(40), testutil.ToFloat64(m.LinkRTTMs.WithLabelValues("LINK_SATCOM")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.DataplaneClientRules))

	total := 0.0
	for _, state := range []session.State{session.StateAuthenticated, session.StateQueued, session.StateActive} {
		total += testutil.ToFloat64(m.SessionsByState.WithLabelValues(state.String()))
	}
	assert.Equal(t, float64(1), total)
}

func TestStartStop_RunsWithoutBlocking(t *testing.T) {
	dlmReg := dlm.NewRegistry(10*time.Second, nil)
	sessions := session.NewManager(nil, nil)
	dp, err := dataplane.New(dataplane.NewFakeApplier(), "10.0.0.0/24", nil)
	require.NoError(t, err)

	m := NewMetrics()
	c := NewCollector(m, sessions, dlmReg, dp, 5*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		c.Start()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop in time")
	}
}
