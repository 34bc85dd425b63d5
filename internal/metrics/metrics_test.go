// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_NoDuplicateCollectors(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
}

func TestRecordCommand_IncrementsBothCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordCommand("MCAR", "0")
	m.RecordCommand("MCAR", "0")
	m.RecordCommand("MCAR", "1001")

	assert.Equal(t, float64(3), testutil.ToFloat64(m.DiameterCommands.WithLabelValues("MCAR")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DiameterResults.WithLabelValues("MCAR", "0")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DiameterResults.WithLabelValues("MCAR", "1001")))
}

func TestRecordLinkEvent_IncrementsByKind(t *testing.T) {
	m := NewMetrics()
	m.RecordLinkEvent("down")
	m.RecordLinkEvent("down")
	m.RecordLinkEvent("up")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.LinkEvents.WithLabelValues("down")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LinkEvents.WithLabelValues("up")))
}
