// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tft

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ToGround(t *testing.T) {
	r, err := Parse("_iTFT=1,1,1,10.0.0.0.255.0.0.0,172.16.0.0.255.255.0.0,6,80.80,1024.65535,,,")
	require.NoError(t, err)

	assert.Equal(t, DirectionToGround, r.Direction)
	assert.Equal(t, 1, r.ContextID)
	require.NotNil(t, r.Protocol)
	assert.Equal(t, uint8(6), *r.Protocol)
	assert.Equal(t, PortRange{Low: 80, High: 80}, r.DstPortRange)
	assert.Equal(t, PortRange{Low: 1024, High: 65535}, r.SrcPortRange)
}

func TestParse_ToAircraft(t *testing.T) {
	r, err := Parse("+CGTFT=2,1,1,,,17,,,,,")
	require.NoError(t, err)

	assert.Equal(t, DirectionToAircraft, r.Direction)
	require.NotNil(t, r.Protocol)
	assert.Equal(t, uint8(17), *r.Protocol)
	assert.True(t, r.SrcIPRange.Contains(netip.MustParseAddr("1.2.3.4")))
	assert.True(t, r.DstPortRange.IsFull())
}

func TestParse_EmptyFieldsAreAny(t *testing.T) {
	r, err := Parse("_iTFT=,,,,,,,,,,")
	require.NoError(t, err)

	assert.True(t, r.SrcPortRange.IsFull())
	assert.True(t, r.DstPortRange.IsFull())
	assert.Nil(t, r.Protocol)
}

func TestParse_WrongFieldCount(t *testing.T) {
	_, err := Parse("_iTFT=1,2,3")
	assert.Error(t, err)
}

func TestParse_UnknownPrefix(t *testing.T) {
	_, err := Parse("TFT=1,2,3")
	assert.Error(t, err)
}

func TestParse_NonContiguousMask(t *testing.T) {
	_, err := Parse("_iTFT=,,,10.0.0.0.255.0.255.0,,,,,,,")
	assert.Error(t, err)
}
