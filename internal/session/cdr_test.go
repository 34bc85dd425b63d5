// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCDRLedger_OpenCloseLifecycle(t *testing.T) {
	l := NewCDRLedger()

	cdr := l.Open("SESS1")
	assert.Equal(t, CDRActive, cdr.State)

	require.NoError(t, l.Close(cdr.ID, 1000, 2000))

	got, ok := l.Get(cdr.ID)
	require.True(t, ok)
	assert.Equal(t, CDRFinished, got.State)
	assert.Equal(t, uint64(1000), got.TxBytes)
}

func TestCDRLedger_MarkForwardedRequiresFinished(t *testing.T) {
	l := NewCDRLedger()
	cdr := l.Open("SESS1")

	err := l.MarkForwarded(cdr.ID)
	assert.Error(t, err)

	require.NoError(t, l.Close(cdr.ID, 0, 0))
	require.NoError(t, l.MarkForwarded(cdr.ID))

	got, _ := l.Get(cdr.ID)
	assert.Equal(t, CDRForwarded, got.State)
}

func TestCDRLedger_Restart_ProducesStartStopPair(t *testing.T) {
	l := NewCDRLedger()
	cdr := l.Open("SESS1")

	pair, err := l.Restart("SESS1", cdr.ID, 500, 600)
	require.NoError(t, err)

	assert.Equal(t, CDRFinished, pair.Closed.State)
	assert.Equal(t, CDRActive, pair.Opened.State)
	assert.NotEqual(t, pair.Closed.ID, pair.Opened.ID)
	assert.Equal(t, "SESS1", pair.Opened.SessionID)
}

func TestCDRLedger_RestartRejectsNonActive(t *testing.T) {
	l := NewCDRLedger()
	cdr := l.Open("SESS1")
	require.NoError(t, l.Close(cdr.ID, 0, 0))

	_, err := l.Restart("SESS1", cdr.ID, 0, 0)
	assert.Error(t, err)
}

func TestCDRLedger_ByState(t *testing.T) {
	l := NewCDRLedger()
	a := l.Open("SESS1")
	b := l.Open("SESS2")
	require.NoError(t, l.Close(a.ID, 0, 0))

	active := l.ByState(CDRActive)
	finished := l.ByState(CDRFinished)

	assert.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)
	assert.Len(t, finished, 1)
	assert.Equal(t, a.ID, finished[0].ID)
}
