// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package diameter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_HeaderRoundTrip(t *testing.T) {
	m := NewRequest(CmdMCAR, "SESS1", 42, 43, NewSimple(AVPUserName, Str("u1")))
	buf := Encode(m)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, CmdMCAR, got.Header.CommandCode)
	assert.Equal(t, ApplicationID, got.Header.ApplicationID)
	assert.True(t, got.Header.IsRequest())
	assert.Equal(t, "SESS1", got.SessionID())
}

func TestDecode_RejectsShortHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecode_RejectsUnsupportedVersion(t *testing.T) {
	m := NewRequest(CmdMCAR, "SESS1", 1, 1)
	buf := Encode(m)
	buf[0] = 9 // corrupt version byte
	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestDecode_RejectsLengthExceedingBuffer(t *testing.T) {
	m := NewRequest(CmdMCAR, "SESS1", 1, 1)
	buf := Encode(m)
	buf[3] = 0xFF // corrupt low byte of the 24-bit length field
	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestMessage_AddResultAVPs(t *testing.T) {
	m := NewAnswer(CmdMCCR, "SESS1", 1, 1)
	m.AddResultAVPs(ResultInvalidAVPValue, StatusTFTInvalid)

	rc, err := m.ResultCode()
	require.NoError(t, err)
	assert.Equal(t, ResultInvalidAVPValue, rc)

	status := Find(m.AVPs, AVPMAGICStatusCode)
	require.NotNil(t, status)
	v, err := DecodeU32(status)
	require.NoError(t, err)
	assert.Equal(t, uint32(StatusTFTInvalid), v)
}

func TestMessage_ResultCode_MissingReturnsError(t *testing.T) {
	m := NewAnswer(CmdMCCR, "SESS1", 1, 1)
	_, err := m.ResultCode()
	assert.Error(t, err)
}

func TestReadWriteMessage_RoundTripOverStream(t *testing.T) {
	var buf bytes.Buffer
	want := NewRequest(CmdMCCR, "SESS1", 5, 6, NewSimple(AVPUserName, Str("u1")))
	require.NoError(t, WriteMessage(&buf, want))

	// A second message appended right after, to exercise that ReadMessage
	// only consumes its own declared length, not the rest of the stream.
	second := NewRequest(CmdMACR, "SESS1", 7, 8)
	require.NoError(t, WriteMessage(&buf, second))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, CmdMCCR, got.Header.CommandCode)
	assert.Equal(t, "SESS1", got.SessionID())

	got2, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, CmdMACR, got2.Header.CommandCode)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "MCAR", CommandName(CmdMCAR))
	assert.Equal(t, "MACR", CommandName(CmdMACR))
	assert.Equal(t, "UNKNOWN", CommandName(999999))
}
