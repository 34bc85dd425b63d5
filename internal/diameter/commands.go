// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package diameter

// This file builds and reads the grouped-AVP payload shapes for the seven
// MAGIC command pairs (spec §4.5). Each Request/Answer pair mirrors the
// wire grouping so a caller can build with literal field values instead
// of hand-assembling AVP trees.

// Credentials carries an MCAR request's Client-Credentials group.
type Credentials struct {
	UserName       string
	ClientPassword string
	ServerPassword string // optional, empty if absent
}

func (c Credentials) avp() *AVP {
	members := []*AVP{
		NewSimple(AVPUserName, Str(c.UserName)),
		NewSimple(AVPClientPassword, Str(c.ClientPassword)),
	}
	if c.ServerPassword != "" {
		members = append(members, NewSimple(AVPServerPassword, Str(c.ServerPassword)))
	}
	return NewGroup(AVPClientCredentials, members...)
}

func decodeCredentials(a *AVP) (Credentials, error) {
	members, err := LookupGrouped(a, 0)
	if err != nil {
		return Credentials{}, err
	}
	c := Credentials{}
	if u := Find(members, AVPUserName); u != nil {
		c.UserName = string(u.Data)
	}
	if p := Find(members, AVPClientPassword); p != nil {
		c.ClientPassword = string(p.Data)
	}
	if p := Find(members, AVPServerPassword); p != nil {
		c.ServerPassword = string(p.Data)
	}
	return c, nil
}

// CommRequest carries an MCAR or MCCR request's Communication-Request-Parameters group.
type CommRequest struct {
	ProfileName        string
	RequestedBWKbps    uint32
	RequestedRetBWKbps uint32
	RequiredBWKbps     uint32
	RequiredRetBWKbps  uint32
	PriorityClass      uint32
	QoSLevel           uint32
	FlightPhase        string // optional
	Altitude           uint32 // optional
	Airport            string // optional
	TFTsToGround       []string
	TFTsToAircraft     []string
	NAPTs              []string
	KeepRequest        bool
	AccountingEnabled  bool
	TimeoutSeconds     uint32
	AutoDetect         bool
}

func (c CommRequest) avp() *AVP {
	members := []*AVP{
		NewSimple(AVPProfileName, Str(c.ProfileName)),
		NewSimple(AVPRequestedBW, U32(c.RequestedBWKbps)),
		NewSimple(AVPRequestedReturnBW, U32(c.RequestedRetBWKbps)),
		NewSimple(AVPRequiredBW, U32(c.RequiredBWKbps)),
		NewSimple(AVPRequiredReturnBW, U32(c.RequiredRetBWKbps)),
		NewSimple(AVPPriorityClass, U32(c.PriorityClass)),
		NewSimple(AVPQoSLevel, U32(c.QoSLevel)),
		NewSimple(AVPKeepRequest, U32(boolToU32(c.KeepRequest))),
		NewSimple(AVPAccountingEnabled, U32(boolToU32(c.AccountingEnabled))),
		NewSimple(AVPTimeout, U32(c.TimeoutSeconds)),
		NewSimple(AVPAutoDetect, U32(boolToU32(c.AutoDetect))),
	}
	if c.FlightPhase != "" {
		members = append(members, NewSimple(AVPFlightPhase, Str(c.FlightPhase)))
	}
	if c.Altitude != 0 {
		members = append(members, NewSimple(AVPAltitude, U32(c.Altitude)))
	}
	if c.Airport != "" {
		members = append(members, NewSimple(AVPAirport, Str(c.Airport)))
	}
	if len(c.TFTsToGround) > 0 {
		members = append(members, stringListGroup(AVPTFTtoGroundList, AVPTFTString, c.TFTsToGround))
	}
	if len(c.TFTsToAircraft) > 0 {
		members = append(members, stringListGroup(AVPTFTtoAircraftList, AVPTFTString, c.TFTsToAircraft))
	}
	if len(c.NAPTs) > 0 {
		members = append(members, stringListGroup(AVPNAPTList, AVPNAPTString, c.NAPTs))
	}
	return NewGroup(AVPCommunicationRequestParameters, members...)
}

func decodeCommRequest(a *AVP) (CommRequest, error) {
	members, err := LookupGrouped(a, 0)
	if err != nil {
		return CommRequest{}, err
	}
	c := CommRequest{}
	if v := Find(members, AVPProfileName); v != nil {
		c.ProfileName = string(v.Data)
	}
	c.RequestedBWKbps = u32OrZero(Find(members, AVPRequestedBW))
	c.RequestedRetBWKbps = u32OrZero(Find(members, AVPRequestedReturnBW))
	c.RequiredBWKbps = u32OrZero(Find(members, AVPRequiredBW))
	c.RequiredRetBWKbps = u32OrZero(Find(members, AVPRequiredReturnBW))
	c.PriorityClass = u32OrZero(Find(members, AVPPriorityClass))
	c.QoSLevel = u32OrZero(Find(members, AVPQoSLevel))
	c.KeepRequest = u32OrZero(Find(members, AVPKeepRequest)) != 0
	c.AccountingEnabled = u32OrZero(Find(members, AVPAccountingEnabled)) != 0
	c.TimeoutSeconds = u32OrZero(Find(members, AVPTimeout))
	c.AutoDetect = u32OrZero(Find(members, AVPAutoDetect)) != 0
	if v := Find(members, AVPFlightPhase); v != nil {
		c.FlightPhase = string(v.Data)
	}
	c.Altitude = u32OrZero(Find(members, AVPAltitude))
	if v := Find(members, AVPAirport); v != nil {
		c.Airport = string(v.Data)
	}
	if g := Find(members, AVPTFTtoGroundList); g != nil {
		c.TFTsToGround, err = decodeStringListGroup(g, AVPTFTString)
		if err != nil {
			return c, err
		}
	}
	if g := Find(members, AVPTFTtoAircraftList); g != nil {
		c.TFTsToAircraft, err = decodeStringListGroup(g, AVPTFTString)
		if err != nil {
			return c, err
		}
	}
	if g := Find(members, AVPNAPTList); g != nil {
		c.NAPTs, err = decodeStringListGroup(g, AVPNAPTString)
		if err != nil {
			return c, err
		}
	}
	return c, nil
}

// CommAnswer carries an MCAA's Communication-Answer-Parameters group, or
// an MCCA's equivalent, or an MNTR's Communication-Report-Parameters.
type CommAnswer struct {
	ProfileName        string
	GrantedBWKbps      uint32
	GrantedRetBWKbps   uint32
	SelectedLinkID     string
	BearerID           string
	GatewayIPAddress   string
	QoSLevel           uint32
	SessionTimeout     uint32
	TFTsToGround       []string
	TFTsToAircraft     []string
}

func (c CommAnswer) avp(groupCode uint32) *AVP {
	members := []*AVP{
		NewSimple(AVPProfileName, Str(c.ProfileName)),
		NewSimple(AVPGrantedBandwidth, U32(c.GrantedBWKbps)),
		NewSimple(AVPGrantedReturnBandwidth, U32(c.GrantedRetBWKbps)),
		NewSimple(AVPDLMName, Str(c.SelectedLinkID)),
		NewSimple(AVPBearerID, Str(c.BearerID)),
		NewSimple(AVPGatewayIPAddress, Str(c.GatewayIPAddress)),
		NewSimple(AVPQoSLevel, U32(c.QoSLevel)),
		NewSimple(AVPSessionTimeout, U32(c.SessionTimeout)),
	}
	if len(c.TFTsToGround) > 0 {
		members = append(members, stringListGroup(AVPTFTtoGroundList, AVPTFTString, c.TFTsToGround))
	}
	if len(c.TFTsToAircraft) > 0 {
		members = append(members, stringListGroup(AVPTFTtoAircraftList, AVPTFTString, c.TFTsToAircraft))
	}
	return NewGroup(groupCode, members...)
}

func decodeCommAnswer(a *AVP) (CommAnswer, error) {
	members, err := LookupGrouped(a, 0)
	if err != nil {
		return CommAnswer{}, err
	}
	c := CommAnswer{}
	if v := Find(members, AVPProfileName); v != nil {
		c.ProfileName = string(v.Data)
	}
	c.GrantedBWKbps = u32OrZero(Find(members, AVPGrantedBandwidth))
	c.GrantedRetBWKbps = u32OrZero(Find(members, AVPGrantedReturnBandwidth))
	if v := Find(members, AVPDLMName); v != nil {
		c.SelectedLinkID = string(v.Data)
	}
	if v := Find(members, AVPBearerID); v != nil {
		c.BearerID = string(v.Data)
	}
	if v := Find(members, AVPGatewayIPAddress); v != nil {
		c.GatewayIPAddress = string(v.Data)
	}
	c.QoSLevel = u32OrZero(Find(members, AVPQoSLevel))
	c.SessionTimeout = u32OrZero(Find(members, AVPSessionTimeout))
	if g := Find(members, AVPTFTtoGroundList); g != nil {
		c.TFTsToGround, err = decodeStringListGroup(g, AVPTFTString)
		if err != nil {
			return c, err
		}
	}
	if g := Find(members, AVPTFTtoAircraftList); g != nil {
		c.TFTsToAircraft, err = decodeStringListGroup(g, AVPTFTString)
		if err != nil {
			return c, err
		}
	}
	return c, nil
}

// BuildMCAR assembles an MCAR request.
func BuildMCAR(sessionID string, hbh, ete uint32, creds Credentials, subscribeLevel uint32, hasCommReq bool, cr CommRequest) *Message {
	avps := []*AVP{creds.avp(), NewSimple(AVPReqStatusInfo, U32(subscribeLevel))}
	if hasCommReq {
		avps = append(avps, cr.avp())
	}
	return NewRequest(CmdMCAR, sessionID, hbh, ete, avps...)
}

// BuildMCAA assembles a successful MCAA; callers needing an error answer
// use NewAnswer + AddResultAVPs directly.
func BuildMCAA(sessionID string, hbh, ete uint32, grantedSubscribeLevel uint32, hasAnswer bool, ca CommAnswer) *Message {
	m := NewAnswer(CmdMCAR, sessionID, hbh, ete)
	m.AddResultAVPs(ResultSuccess, StatusSuccess)
	m.Add(NewSimple(AVPReqStatusInfo, U32(grantedSubscribeLevel)))
	if hasAnswer {
		m.Add(ca.avp(AVPCommunicationAnswerParameters))
	}
	return m
}

// BuildMCCR assembles an MCCR request.
func BuildMCCR(sessionID string, hbh, ete uint32, cr CommRequest) *Message {
	return NewRequest(CmdMCCR, sessionID, hbh, ete, cr.avp())
}

// BuildMCCA assembles a successful MCCA.
func BuildMCCA(sessionID string, hbh, ete uint32, ca CommAnswer) *Message {
	m := NewAnswer(CmdMCCR, sessionID, hbh, ete)
	m.AddResultAVPs(ResultSuccess, StatusSuccess)
	m.Add(ca.avp(AVPCommunicationAnswerParameters))
	return m
}

// BuildMNTR assembles a server-pushed notification for sessionID.
func BuildMNTR(sessionID string, hbh, ete uint32, kind SubscribeStatusKind, cr CommAnswer) *Message {
	m := NewRequest(CmdMNTR, sessionID, hbh, ete)
	m.Add(&AVP{Code: AVPMAGICStatusCode, VendorID: VendorID, Flags: AVPFlagMandatory | AVPFlagVendor, Data: U32(uint32(kind.Code()))})
	m.Add(cr.avp(AVPCommunicationReportParameters))
	return m
}

// BuildMNTA assembles an MNTA answer (always Result-Code=SUCCESS per spec §4.5).
func BuildMNTA(sessionID string, hbh, ete uint32) *Message {
	m := NewAnswer(CmdMNTR, sessionID, hbh, ete)
	m.AddResultAVPs(ResultSuccess, StatusSuccess)
	return m
}

// LinkStatusEntry is one physical link's row in a DLM-Info's Link-Status-Group.
type LinkStatusEntry struct {
	LinkID           string
	IsUp             bool
	CurrentBWKbps    uint32
	CurrentLoadKbps  uint32
}

// DLMInfo is one DLM's status row in MSCR/MSXR's DLM-List.
type DLMInfo struct {
	DLMDriverID string
	Links       []LinkStatusEntry
}

func (d DLMInfo) avp() *AVP {
	links := make([]*AVP, 0, len(d.Links))
	for _, l := range d.Links {
		links = append(links, NewGroup(AVPLinkEventInfo,
			NewSimple(AVPLinkID, Str(l.LinkID)),
			NewSimple(AVPIsUp, U32(boolToU32(l.IsUp))),
			NewSimple(AVPCurrentBandwidthKbps, U32(l.CurrentBWKbps)),
			NewSimple(AVPCurrentLoadKbps, U32(l.CurrentLoadKbps)),
		))
	}
	members := append([]*AVP{NewSimple(AVPDLMDriverID, Str(d.DLMDriverID))}, links...)
	return NewGroup(AVPDLMInfo, members...)
}

// BuildMSCR assembles a status-change broadcast for level (spec §4.5
// MSCR subscribe levels).
func BuildMSCR(hbh, ete uint32, level uint32, dlms []DLMInfo) *Message {
	m := NewRequest(CmdMSCR, "", hbh, ete)
	m.Add(NewSimple(AVPStatusType, U32(level)))
	group := make([]*AVP, 0, len(dlms))
	for _, d := range dlms {
		group = append(group, d.avp())
	}
	m.Add(NewGroup(AVPDLMInfo, group...))
	return m
}

// BuildMSXR assembles a client-initiated status query.
func BuildMSXR(sessionID string, hbh, ete uint32, level uint32) *Message {
	return NewRequest(CmdMSXR, sessionID, hbh, ete, NewSimple(AVPStatusType, U32(level)))
}

// BuildMSXA assembles an MSXR answer carrying the granted (possibly
// downgraded) level and matching DLM status.
func BuildMSXA(sessionID string, hbh, ete uint32, grantedLevel uint32, dlms []DLMInfo) *Message {
	m := NewAnswer(CmdMSXR, sessionID, hbh, ete)
	m.AddResultAVPs(ResultSuccess, StatusSuccess)
	m.Add(NewSimple(AVPStatusType, U32(grantedLevel)))
	group := make([]*AVP, 0, len(dlms))
	for _, d := range dlms {
		group = append(group, d.avp())
	}
	m.Add(NewGroup(AVPDLMInfo, group...))
	return m
}

// CDRInfo is one record in a MADR CDRs-* list.
type CDRInfo struct {
	CDRID   string
	Content []byte // optional, present only on MADR "data"
}

func (c CDRInfo) avp() *AVP {
	members := []*AVP{NewSimple(AVPCDRID, Str(c.CDRID))}
	if len(c.Content) > 0 {
		members = append(members, NewSimple(AVPCDRContent, c.Content))
	}
	return NewGroup(AVPCDRInfo, members...)
}

// BuildMADRList assembles an MADR "list" request.
func BuildMADRList(sessionID string, hbh, ete uint32) *Message {
	return NewRequest(CmdMADR, sessionID, hbh, ete)
}

// BuildMADRData assembles an MADR "data" request for one CDR.
func BuildMADRData(sessionID string, hbh, ete uint32, cdrRequestID string) *Message {
	return NewRequest(CmdMADR, sessionID, hbh, ete, NewSimple(AVPCDRRequestIdentifier, Str(cdrRequestID)))
}

// BuildMADA assembles a MADR "list" answer.
func BuildMADA(sessionID string, hbh, ete uint32, active, finished, forwarded, unknown []CDRInfo) *Message {
	m := NewAnswer(CmdMADR, sessionID, hbh, ete)
	m.AddResultAVPs(ResultSuccess, StatusSuccess)
	m.Add(cdrListGroup(AVPCDRsActive, active))
	m.Add(cdrListGroup(AVPCDRsFinished, finished))
	m.Add(cdrListGroup(AVPCDRsForwarded, forwarded))
	m.Add(cdrListGroup(AVPCDRsUnknown, unknown))
	return m
}

func cdrListGroup(code uint32, infos []CDRInfo) *AVP {
	members := make([]*AVP, 0, len(infos))
	for _, i := range infos {
		members = append(members, i.avp())
	}
	return NewGroup(code, members...)
}

// BuildMACRRestart assembles a MACR "restart" request.
func BuildMACRRestart(sessionID string, hbh, ete uint32) *Message {
	return NewRequest(CmdMACR, sessionID, hbh, ete, NewSimple(AVPSessionIDRef, Str(sessionID)))
}

// BuildMACA assembles a MACR "restart" answer carrying the resulting
// Start-Stop-Pair.
func BuildMACA(sessionID string, hbh, ete uint32, closedCDRID, openedCDRID string) *Message {
	m := NewAnswer(CmdMACR, sessionID, hbh, ete)
	m.AddResultAVPs(ResultSuccess, StatusSuccess)
	pair := NewGroup(AVPStartStopPair,
		NewSimple(AVPCDRID, Str(closedCDRID)),
		NewSimple(AVPCDRID, Str(openedCDRID)),
	)
	m.Add(NewGroup(AVPCDRsUpdated, pair))
	return m
}

func stringListGroup(listCode, itemCode uint32, items []string) *AVP {
	members := make([]*AVP, 0, len(items))
	for _, s := range items {
		members = append(members, NewSimple(itemCode, Str(s)))
	}
	return NewGroup(listCode, members...)
}

func decodeStringListGroup(a *AVP, itemCode uint32) ([]string, error) {
	members, err := LookupGrouped(a, 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(members))
	for _, m := range FindAll(members, itemCode) {
		out = append(out, string(m.Data))
	}
	return out, nil
}

// DecodeCredentials exposes decodeCredentials to callers outside this
// package that need to read an MCAR's Client-Credentials AVP directly,
// e.g. a dispatcher authenticating against a client profile store.
func DecodeCredentials(a *AVP) (Credentials, error) { return decodeCredentials(a) }

// DecodeCommRequest exposes decodeCommRequest for the same reason, for
// MCAR (0-RTT) and MCCR dispatch.
func DecodeCommRequest(a *AVP) (CommRequest, error) { return decodeCommRequest(a) }

// U32OrZero exposes u32OrZero for callers reading an optional simple AVP.
func U32OrZero(a *AVP) uint32 { return u32OrZero(a) }

// Avp exposes CDRInfo's group encoder for callers outside this package
// building a MADR answer one CDR at a time.
func (c CDRInfo) Avp() *AVP { return c.avp() }

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func u32OrZero(a *AVP) uint32 {
	if a == nil {
		return 0
	}
	v, err := DecodeU32(a)
	if err != nil {
		return 0
	}
	return v
}
