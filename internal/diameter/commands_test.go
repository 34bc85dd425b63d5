// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package diameter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMCAR_ZeroRTT_RoundTrip(t *testing.T) {
	creds := Credentials{UserName: "EFB_NAV_APP_01", ClientPassword: "p1"}
	cr := CommRequest{
		ProfileName:     "IP_DATA",
		RequestedBWKbps: 5000,
		PriorityClass:   2,
		QoSLevel:        1,
		TFTsToGround:    []string{"_iTFT=,,,192.168.0.10.255.255.255.255,10.2.2.0.255.255.255.0,6,80.80,1024.65535"},
	}
	msg := BuildMCAR("SESS1", 1, 1, creds, 3, true, cr)

	buf := Encode(msg)
	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, CmdMCAR, got.Header.CommandCode)
	assert.Equal(t, "SESS1", got.SessionID())

	gotCreds, err := decodeCredentials(Find(got.AVPs, AVPClientCredentials))
	require.NoError(t, err)
	assert.Equal(t, creds, gotCreds)

	level := Find(got.AVPs, AVPReqStatusInfo)
	require.NotNil(t, level)
	v, _ := DecodeU32(level)
	assert.Equal(t, uint32(3), v)

	gotCR, err := decodeCommRequest(Find(got.AVPs, AVPCommunicationRequestParameters))
	require.NoError(t, err)
	assert.Equal(t, "IP_DATA", gotCR.ProfileName)
	assert.Equal(t, uint32(5000), gotCR.RequestedBWKbps)
	require.Len(t, gotCR.TFTsToGround, 1)
	assert.Equal(t, cr.TFTsToGround[0], gotCR.TFTsToGround[0])
}

func TestBuildMCAA_SuccessCarriesAnswerParameters(t *testing.T) {
	ca := CommAnswer{
		ProfileName:      "IP_DATA",
		GrantedBWKbps:    5000000,
		SelectedLinkID:   "LINK_WIFI",
		GatewayIPAddress: "10.2.2.1",
	}
	msg := BuildMCAA("SESS1", 1, 1, 3, true, ca)

	rc, err := msg.ResultCode()
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, rc)

	gotCA, err := decodeCommAnswer(Find(msg.AVPs, AVPCommunicationAnswerParameters))
	require.NoError(t, err)
	assert.Equal(t, "LINK_WIFI", gotCA.SelectedLinkID)
	assert.Equal(t, uint32(5000000), gotCA.GrantedBWKbps)
}

func TestBuildMNTR_LinkSwitchCarriesForcedReroutingStatus(t *testing.T) {
	msg := BuildMNTR("SESS1", 2, 2, StatusKindLinkSwitch, CommAnswer{GrantedBWKbps: 2048, SelectedLinkID: "LINK_SATCOM"})

	status := Find(msg.AVPs, AVPMAGICStatusCode)
	require.NotNil(t, status)
	v, _ := DecodeU32(status)
	assert.Equal(t, uint32(StatusForcedRerouting), v)
}

func TestBuildMACA_CarriesStartStopPair(t *testing.T) {
	msg := BuildMACA("SESS1", 1, 1, "CDR-OLD", "CDR-NEW")

	pair := Find(msg.AVPs, AVPCDRsUpdated)
	require.NotNil(t, pair)
	members, err := LookupGrouped(pair, 0)
	require.NoError(t, err)
	require.Len(t, members, 1)

	innerMembers, err := LookupGrouped(members[0], 1)
	require.NoError(t, err)
	assert.Equal(t, "CDR-OLD", string(Find(innerMembers, AVPCDRID).Data))
}

func TestBuildMADA_GroupsCDRsByState(t *testing.T) {
	active := []CDRInfo{{CDRID: "CDR1"}}
	finished := []CDRInfo{{CDRID: "CDR2"}, {CDRID: "CDR3"}}
	msg := BuildMADA("SESS1", 1, 1, active, finished, nil, nil)

	activeGroup := Find(msg.AVPs, AVPCDRsActive)
	require.NotNil(t, activeGroup)
	members, err := LookupGrouped(activeGroup, 0)
	require.NoError(t, err)
	require.Len(t, members, 1)

	finishedGroup := Find(msg.AVPs, AVPCDRsFinished)
	require.NotNil(t, finishedGroup)
	fmembers, err := LookupGrouped(finishedGroup, 0)
	require.NoError(t, err)
	assert.Len(t, fmembers, 2)
}

func TestBuildMSCR_CarriesLinkStatusGroup(t *testing.T) {
	dlms := []DLMInfo{{
		DLMDriverID: "DLM_1001",
		Links:       []LinkStatusEntry{{LinkID: "LINK_SATCOM", IsUp: false, CurrentBWKbps: 0}},
	}}
	msg := BuildMSCR(1, 1, 6, dlms)

	assert.Equal(t, CmdMSCR, msg.Header.CommandCode)
	group := Find(msg.AVPs, AVPDLMInfo)
	require.NotNil(t, group)
}

func TestStatusKind_Code(t *testing.T) {
	assert.Equal(t, StatusSuccess, StatusKindBandwidthChange.Code())
	assert.Equal(t, StatusNoFreeBandwidth, StatusKindPreemption.Code())
	assert.Equal(t, StatusLinkError, StatusKindLinkLost.Code())
	assert.Equal(t, StatusForcedRerouting, StatusKindLinkSwitch.Code())
}
