// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package diameter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeAVP_SimpleVendorSpecific(t *testing.T) {
	a := NewSimple(AVPProfileName, Str("IP_DATA"))
	buf := EncodeAVPs([]*AVP{a})

	decoded, err := DecodeAVPs(buf)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, AVPProfileName, decoded[0].Code)
	assert.Equal(t, VendorID, decoded[0].VendorID)
	assert.Equal(t, "IP_DATA", string(decoded[0].Data))
}

func TestEncodeDecodeAVP_PaddingToFourByteBoundary(t *testing.T) {
	a := NewSimple(AVPUserName, Str("ab")) // 2-byte value forces padding
	buf := EncodeAVPs([]*AVP{a})
	assert.Equal(t, 0, len(buf)%4)

	decoded, err := DecodeAVPs(buf)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(decoded[0].Data))
}

func TestEncodeDecodeAVP_GroupedRoundTrip(t *testing.T) {
	g := NewGroup(AVPClientCredentials,
		NewSimple(AVPUserName, Str("EFB_NAV_APP_01")),
		NewSimple(AVPClientPassword, Str("p1")),
	)
	buf := EncodeAVPs([]*AVP{g})

	decoded, err := DecodeAVPs(buf)
	require.NoError(t, err)
	require.Len(t, decoded, 1)

	members, err := LookupGrouped(decoded[0], 0)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "EFB_NAV_APP_01", string(Find(members, AVPUserName).Data))
}

func TestLookupGrouped_RejectsExcessiveNestingDepth(t *testing.T) {
	a := &AVP{Code: AVPDLMInfo}
	_, err := LookupGrouped(a, maxGroupDepth)
	assert.Error(t, err)
}

func TestDecodeAVPs_RejectsTruncatedHeader(t *testing.T) {
	_, err := DecodeAVPs([]byte{0x00, 0x01})
	assert.Error(t, err)
}

func TestDecodeAVPs_RejectsLengthExceedingBuffer(t *testing.T) {
	a := NewSimple(AVPUserName, Str("x"))
	buf := EncodeAVPs([]*AVP{a})
	_, err := DecodeAVPs(buf[:len(buf)-4])
	assert.Error(t, err)
}

func TestFind_ReturnsFirstMatchOnly(t *testing.T) {
	avps := []*AVP{NewSimple(AVPTFTString, Str("a")), NewSimple(AVPTFTString, Str("b"))}
	assert.Equal(t, "a", string(Find(avps, AVPTFTString).Data))
	assert.Len(t, FindAll(avps, AVPTFTString), 2)
}

func TestDecodeU32_RejectsWrongLength(t *testing.T) {
	a := &AVP{Data: []byte{1, 2, 3}}
	_, err := DecodeU32(a)
	assert.Error(t, err)
}
