// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package diameter

// Command codes for the seven MAGIC command pairs (spec §4.5). Each code
// is shared by the request and answer; the R bit in the header flags
// distinguishes them.
const (
	CmdMCAR uint32 = 100000 // Authentication
	CmdMCCR uint32 = 100001 // Communication-Change
	CmdMNTR uint32 = 100002 // Notification
	CmdMSCR uint32 = 100003 // Status-Change
	CmdMSXR uint32 = 100004 // Status-eXchange
	CmdMADR uint32 = 100005 // Accounting-Data
	CmdMACR uint32 = 100006 // Accounting-Control
)

// CommandName returns the MAGIC command mnemonic for a command code,
// e.g. "MCAR", for logging.
func CommandName(code uint32) string {
	switch code {
	case CmdMCAR:
		return "MCAR"
	case CmdMCCR:
		return "MCCR"
	case CmdMNTR:
		return "MNTR"
	case CmdMSCR:
		return "MSCR"
	case CmdMSXR:
		return "MSXR"
	case CmdMADR:
		return "MADR"
	case CmdMACR:
		return "MACR"
	default:
		return "UNKNOWN"
	}
}

// Base-protocol AVP codes (RFC 6733), used unchanged: Session-Id (263),
// Result-Code (268), Failed-AVP (279), Origin-Host (264).
const (
	AVPSessionID  uint32 = 263
	AVPResultCode uint32 = 268
	AVPFailedAVP  uint32 = 279
	AVPOriginHost uint32 = 264
)

// Simple MAGIC AVP codes, 10001-10054 (spec §6).
const (
	AVPUserName                uint32 = 10001
	AVPReqStatusInfo           uint32 = 10002 // subscribe level on MCAR
	AVPStatusType              uint32 = 10003 // subscribe level on MSXR/MSCR
	AVPClientPassword          uint32 = 10004
	AVPServerPassword          uint32 = 10005
	AVPProfileName             uint32 = 10006
	AVPRequestedBW             uint32 = 10007
	AVPRequestedReturnBW       uint32 = 10008
	AVPRequiredBW              uint32 = 10009
	AVPRequiredReturnBW        uint32 = 10010
	AVPPriorityClass           uint32 = 10011
	AVPQoSLevel                uint32 = 10012
	AVPFlightPhase             uint32 = 10013
	AVPAltitude                uint32 = 10014
	AVPAirport                 uint32 = 10015
	AVPKeepRequest             uint32 = 10016
	AVPAccountingEnabled       uint32 = 10017
	AVPTimeout                 uint32 = 10018
	AVPAutoDetect              uint32 = 10019
	AVPGrantedBandwidth        uint32 = 10020
	AVPGrantedReturnBandwidth  uint32 = 10021
	AVPDLMName                 uint32 = 10022 // selected_link_id carrier
	AVPBearerID                uint32 = 10023
	AVPGatewayIPAddress        uint32 = 10024
	AVPSessionTimeout          uint32 = 10025
	AVPTFTString               uint32 = 10026
	AVPNAPTString              uint32 = 10027
	AVPCDRID                   uint32 = 10028
	AVPCDRContent              uint32 = 10029
	AVPCDRRequestIdentifier    uint32 = 10030
	AVPSessionIDRef            uint32 = 10031 // session_id referenced by MACR/MADR
	AVPDLMDriverID             uint32 = 10032
	AVPIfaceName               uint32 = 10033
	AVPCostIndex               uint32 = 10034
	AVPMaxBandwidthKbps        uint32 = 10035
	AVPTypicalLatencyMs        uint32 = 10036
	AVPPriority                uint32 = 10037
	AVPCoverage                uint32 = 10038
	AVPIsUp                    uint32 = 10039
	AVPCurrentBandwidthKbps    uint32 = 10040
	AVPCurrentLatencyMs        uint32 = 10041
	AVPRTTMs                   uint32 = 10042
	AVPLossRate                uint32 = 10043
	AVPCurrentLoadKbps         uint32 = 10044
	AVPLinkID                  uint32 = 10045
	AVPAssignedID              uint32 = 10046
	AVPSequenceNumber          uint32 = 10047
	AVPTxBytes                 uint32 = 10048
	AVPRxBytes                 uint32 = 10049
	AVPIsHealthy               uint32 = 10050
	AVPStartTimestamp          uint32 = 10051
	AVPStopTimestamp           uint32 = 10052
	AVPMAGICStatusCode         uint32 = 10053
	AVPClientIPAddress         uint32 = 10054
)

// Grouped MAGIC AVP codes, 20001-20019 (spec §6).
const (
	AVPClientCredentials               uint32 = 20001
	AVPCommunicationRequestParameters  uint32 = 20002
	AVPCommunicationAnswerParameters   uint32 = 20003
	AVPCommunicationReportParameters   uint32 = 20004
	AVPTFTtoGroundList                 uint32 = 20005
	AVPTFTtoAircraftList               uint32 = 20006
	AVPNAPTList                        uint32 = 20007
	AVPCDRsActive                      uint32 = 20008
	AVPCDRsFinished                    uint32 = 20009
	AVPCDRsForwarded                   uint32 = 20010
	AVPCDRsUnknown                     uint32 = 20011
	AVPCDRInfo                         uint32 = 20012
	AVPCDRsUpdated                     uint32 = 20013
	AVPStartStopPair                   uint32 = 20014
	AVPDLMInfo                         uint32 = 20015
	AVPLinkEventInfo                   uint32 = 20016
	AVPSubscriptionInfo                uint32 = 20017
	AVPFailedTFTInfo                   uint32 = 20018
	AVPSessionStatusInfo               uint32 = 20019
)

// Diameter base protocol Result-Code values (AVP 268, spec §7).
const (
	ResultSuccess                 uint32 = 2001
	ResultAuthenticationRejected  uint32 = 4001
	ResultUnknownSessionID        uint32 = 5002
	ResultAVPUnsupported          uint32 = 5001
	ResultInvalidAVPValue         uint32 = 5004
	ResultMissingAVP              uint32 = 5005
	ResultUnableToComply          uint32 = 5012
)

// MAGICStatus is the business-layer detail code carried in AVP 10053.
type MAGICStatus uint32

// MAGIC-Status-Code taxonomy (spec §7): parameter errors 1000-1037, info
// codes 1038-1048, system errors 2000-2010, unknown 3000-3001.
const (
	StatusSuccess MAGICStatus = 0

	StatusAuthenticationFailed   MAGICStatus = 1001
	StatusInvalidCredentials     MAGICStatus = 1002
	StatusInvalidSubscribeLevel  MAGICStatus = 1003
	StatusMissingProfileName     MAGICStatus = 1004
	StatusInvalidBandwidth       MAGICStatus = 1005
	StatusInvalidPriorityClass   MAGICStatus = 1006
	StatusMalformedTFTString     MAGICStatus = 1007
	StatusMalformedNAPTString    MAGICStatus = 1008
	StatusInvalidQoSLevel        MAGICStatus = 1009
	StatusInvalidFlightPhase     MAGICStatus = 1010
	StatusUnknownSession         MAGICStatus = 1011
	StatusSessionNotActive       MAGICStatus = 1012
	StatusSessionAlreadyActive   MAGICStatus = 1013
	StatusInvalidBearerID        MAGICStatus = 1014
	StatusInvalidCDRID           MAGICStatus = 1015
	StatusNoFreeBandwidth        MAGICStatus = 1016
	StatusInvalidLinkID          MAGICStatus = 1017
	StatusLinkNotRegistered      MAGICStatus = 1018
	StatusDuplicateRegistration  MAGICStatus = 1019
	StatusInvalidClientIP        MAGICStatus = 1020
	StatusClientLimitExceeded    MAGICStatus = 1033
	StatusProfileDoesNotExist    MAGICStatus = 1035
	StatusTFTInvalid             MAGICStatus = 1036
	StatusNAPTInvalid            MAGICStatus = 1037

	StatusSessionQueued          MAGICStatus = 1038
	StatusSessionPromoted        MAGICStatus = 1039
	StatusBandwidthIncreased     MAGICStatus = 1040
	StatusSubscribeLevelDowngraded MAGICStatus = 1041

	StatusDataplaneError    MAGICStatus = 2000
	StatusDLMUnreachable    MAGICStatus = 2006
	StatusLinkError         MAGICStatus = 2007
	StatusResourceExhausted MAGICStatus = 2008
	StatusMagicFailure      MAGICStatus = 2009
	StatusForcedRerouting   MAGICStatus = 2010

	StatusUnknownCommand MAGICStatus = 3000
	StatusUnknownAVP     MAGICStatus = 3001
)

// SubscribeStatusKind classifies an MNTR/MSCR push so the dispatcher can
// pick the right MAGIC-Status-Code without re-deriving it from context.
type SubscribeStatusKind uint32

const (
	StatusKindBandwidthChange SubscribeStatusKind = iota
	StatusKindPreemption
	StatusKindLinkLost
	StatusKindLinkSwitch
)

func (k SubscribeStatusKind) Code() MAGICStatus {
	switch k {
	case StatusKindPreemption:
		return StatusNoFreeBandwidth
	case StatusKindLinkLost:
		return StatusLinkError
	case StatusKindLinkSwitch:
		return StatusForcedRerouting
	default:
		return StatusSuccess
	}
}
