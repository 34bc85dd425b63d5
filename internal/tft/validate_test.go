// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cabinWhitelist(t *testing.T) *Whitelist {
	t.Helper()
	w, err := ParseWhitelist([]string{
		"_iTFT=,,,0.0.0.0.0.0.0.0,172.16.0.0.255.255.0.0,6,1.65535,1.65535,,,",
	})
	require.NoError(t, err)
	return w
}

func TestValidate_AcceptsContainedRequest(t *testing.T) {
	w := cabinWhitelist(t)

	req, err := Parse("_iTFT=,,,10.0.1.0.255.255.255.0,172.16.5.0.255.255.255.0,6,443.443,5000.5000,,,")
	require.NoError(t, err)

	assert.NoError(t, w.Validate(req))
}

func TestValidate_RejectsDstOutsideWhitelist(t *testing.T) {
	w := cabinWhitelist(t)

	req, err := Parse("_iTFT=,,,10.0.1.0.255.255.255.0,8.8.8.0.255.255.255.0,6,443.443,5000.5000,,,")
	require.NoError(t, err)

	assert.Error(t, w.Validate(req))
}

func TestValidate_RejectsProtocolMismatch(t *testing.T) {
	w := cabinWhitelist(t)

	req, err := Parse("_iTFT=,,,10.0.1.0.255.255.255.0,172.16.5.0.255.255.255.0,17,443.443,5000.5000,,,")
	require.NoError(t, err)

	assert.Error(t, w.Validate(req))
}

func TestValidate_WhitelistAnyProtocolAcceptsAny(t *testing.T) {
	w, err := ParseWhitelist([]string{
		"_iTFT=,,,0.0.0.0.0.0.0.0,172.16.0.0.255.255.0.0,,,,,,",
	})
	require.NoError(t, err)

	req, err := Parse("_iTFT=,,,10.0.1.0.255.255.255.0,172.16.5.0.255.255.255.0,17,443.443,5000.5000,,,")
	require.NoError(t, err)

	assert.NoError(t, w.Validate(req))
}

func TestValidate_RejectsWhenNoWhitelistEntries(t *testing.T) {
	w := &Whitelist{}
	req, err := Parse("_iTFT=,,,,,,,,,,")
	require.NoError(t, err)

	assert.Error(t, w.Validate(req))
}
