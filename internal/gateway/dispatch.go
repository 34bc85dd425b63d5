// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package gateway

import (
	"context"
	"net"
	"strconv"
	"strings"

	"skyloom.aero/magic-gateway/internal/config"
	"skyloom.aero/magic-gateway/internal/diameter"
	"skyloom.aero/magic-gateway/internal/policy"
	"skyloom.aero/magic-gateway/internal/session"
	"skyloom.aero/magic-gateway/internal/tft"
)

// handleConn drives one client's Diameter connection for its lifetime: the
// initial MCAR, then every subsequent command against the session it
// created, until the peer disconnects or sends an STR-equivalent MCCR stop
// followed by close.
func (o *Orchestrator) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var sessionID, clientID, clientIP string
	clientIP = remoteIP(conn)

	defer func() {
		if sessionID != "" {
			o.unregisterPeer(sessionID)
			if cs, ok := o.sessions.Get(sessionID); ok {
				_ = o.dataplane.TeardownClientSession(sessionID, cs.ClientIP)
				_, _ = o.sessions.Terminate(sessionID)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, err := diameter.ReadMessage(conn)
		if err != nil {
			if sessionID != "" {
				o.log.Debug("diameter peer disconnected", "session_id", sessionID, "err", err)
			}
			return
		}

		var ans *diameter.Message
		cmdName := diameter.CommandName(req.Header.CommandCode)

		switch req.Header.CommandCode {
		case diameter.CmdMCAR:
			var cid, sid string
			ans, cid, sid = o.handleMCAR(req, clientIP)
			if sid != "" {
				sessionID, clientID = sid, cid
				o.registerPeer(sessionID, conn)
			}

		case diameter.CmdMCCR:
			ans = o.handleMCCR(req)

		case diameter.CmdMSXR:
			ans = o.handleMSXR(req)

		case diameter.CmdMADR:
			ans = o.handleMADR(req)

		case diameter.CmdMACR:
			ans = o.handleMACR(req)

		default:
			ans = diameter.NewAnswer(req.Header.CommandCode, req.SessionID(), req.Header.HopByHopID, req.Header.EndToEndID)
			ans.AddResultAVPs(diameter.ResultUnableToComply, diameter.StatusUnknownCommand)
		}

		if o.metrics != nil {
			resultCode := "unknown"
			if rc, err := ans.ResultCode(); err == nil {
				resultCode = strconv.FormatUint(uint64(rc), 10)
			}
			o.metrics.RecordCommand(cmdName, resultCode)
		}
		_ = diameter.WriteMessage(conn, ans)

		_ = clientID // retained on the stack across the loop for authorization checks callers may add
	}
}

// handleMCAR authenticates a client, creates its session, and — if the
// request bundled a 0-RTT Communication-Request-Parameters — runs the same
// admission pipeline MCCR uses, all before answering once with MCAA.
func (o *Orchestrator) handleMCAR(req *diameter.Message, clientIP string) (ans *diameter.Message, clientID, sessionID string) {
	hbh, ete := req.Header.HopByHopID, req.Header.EndToEndID
	sessionID = req.SessionID()

	credAVP := req.Find(diameter.AVPClientCredentials)
	if credAVP == nil {
		ans = diameter.NewAnswer(diameter.CmdMCAR, sessionID, hbh, ete)
		ans.AddResultAVPs(diameter.ResultMissingAVP, diameter.StatusAuthenticationFailed)
		return ans, "", ""
	}
	creds, err := diameter.DecodeCredentials(credAVP)
	if err != nil {
		ans = diameter.NewAnswer(diameter.CmdMCAR, sessionID, hbh, ete)
		ans.AddResultAVPs(diameter.ResultInvalidAVPValue, diameter.StatusInvalidCredentials)
		return ans, "", ""
	}

	profile, ok := o.authenticate(creds)
	if !ok {
		ans = diameter.NewAnswer(diameter.CmdMCAR, sessionID, hbh, ete)
		ans.AddResultAVPs(diameter.ResultAuthenticationRejected, diameter.StatusAuthenticationFailed)
		return ans, "", ""
	}

	if o.sessions.ConcurrentSessionCount(profile.ClientID) >= profile.Limits.MaxConcurrentSessions {
		ans = diameter.NewAnswer(diameter.CmdMCAR, sessionID, hbh, ete)
		ans.AddResultAVPs(diameter.ResultUnableToComply, diameter.StatusClientLimitExceeded)
		return ans, "", ""
	}

	if _, err := o.sessions.CreateSession(sessionID, profile.ClientID, clientIP); err != nil {
		ans = diameter.NewAnswer(diameter.CmdMCAR, sessionID, hbh, ete)
		ans.AddResultAVPs(diameter.ResultUnableToComply, diameter.StatusMagicFailure)
		return ans, "", ""
	}

	reqLevelAVP := req.Find(diameter.AVPReqStatusInfo)
	reqLevel := diameter.U32OrZero(reqLevelAVP)
	grantedLevel := reqLevel
	if !session.ValidSubscribeLevel(int(grantedLevel)) {
		grantedLevel = uint32(session.SubscribeNone)
	}
	_ = o.sessions.UpdateSubscribeLevel(sessionID, session.SubscribeLevel(grantedLevel))

	crAVP := req.Find(diameter.AVPCommunicationRequestParameters)
	zeroRTT := crAVP != nil
	if err := o.sessions.Authenticate(sessionID, zeroRTT); err != nil {
		ans = diameter.NewAnswer(diameter.CmdMCAR, sessionID, hbh, ete)
		ans.AddResultAVPs(diameter.ResultUnableToComply, diameter.StatusMagicFailure)
		return ans, "", ""
	}

	if !zeroRTT {
		return diameter.BuildMCAA(sessionID, hbh, ete, grantedLevel, false, diameter.CommAnswer{}), profile.ClientID, sessionID
	}

	cr, err := diameter.DecodeCommRequest(crAVP)
	if err != nil {
		ans = diameter.NewAnswer(diameter.CmdMCAR, sessionID, hbh, ete)
		ans.AddResultAVPs(diameter.ResultInvalidAVPValue, diameter.StatusMalformedTFTString)
		return ans, profile.ClientID, sessionID
	}

	ca, status, resultCode, failedAVP := o.admitCommRequest(sessionID, profile, cr)
	if resultCode != diameter.ResultSuccess {
		ans = diameter.NewAnswer(diameter.CmdMCAR, sessionID, hbh, ete)
		ans.AddResultAVPs(resultCode, status)
		if failedAVP != nil {
			ans.AddFailedAVP(failedAVP)
		}
		return ans, profile.ClientID, sessionID
	}
	return diameter.BuildMCAA(sessionID, hbh, ete, grantedLevel, true, ca), profile.ClientID, sessionID
}

// handleMCCR runs the admission pipeline (a non-zero request) or the
// release pipeline (a zero-bandwidth stop) against an already-authenticated
// session.
func (o *Orchestrator) handleMCCR(req *diameter.Message) *diameter.Message {
	hbh, ete := req.Header.HopByHopID, req.Header.EndToEndID
	sessionID := req.SessionID()

	cs, ok := o.sessions.Get(sessionID)
	if !ok {
		ans := diameter.NewAnswer(diameter.CmdMCCR, sessionID, hbh, ete)
		ans.AddResultAVPs(diameter.ResultUnknownSessionID, diameter.StatusUnknownSession)
		return ans
	}
	profile, _ := o.sessions.Profile(cs.ClientID)

	crAVP := req.Find(diameter.AVPCommunicationRequestParameters)
	cr, err := diameter.DecodeCommRequest(crAVP)
	if err != nil {
		ans := diameter.NewAnswer(diameter.CmdMCCR, sessionID, hbh, ete)
		ans.AddResultAVPs(diameter.ResultInvalidAVPValue, diameter.StatusMalformedTFTString)
		return ans
	}

	if cr.RequestedBWKbps == 0 && len(cr.TFTsToGround) == 0 && len(cr.TFTsToAircraft) == 0 {
		if err := o.dataplane.TeardownClientSession(sessionID, cs.ClientIP); err != nil {
			o.log.Warn("dataplane teardown failed on MCCR stop", "session_id", sessionID, "err", err)
		}
		if cs.AccountingCDRID != "" {
			_ = o.cdrs.Close(cs.AccountingCDRID, 0, 0)
		}
		if err := o.sessions.Stop(sessionID); err != nil {
			ans := diameter.NewAnswer(diameter.CmdMCCR, sessionID, hbh, ete)
			ans.AddResultAVPs(diameter.ResultUnableToComply, diameter.StatusMagicFailure)
			return ans
		}
		return diameter.BuildMCCA(sessionID, hbh, ete, diameter.CommAnswer{})
	}

	ca, status, resultCode, failedAVP := o.admitCommRequest(sessionID, profile, cr)
	if resultCode != diameter.ResultSuccess {
		ans := diameter.NewAnswer(diameter.CmdMCCR, sessionID, hbh, ete)
		ans.AddResultAVPs(resultCode, status)
		if failedAVP != nil {
			ans.AddFailedAVP(failedAVP)
		}
		return ans
	}
	return diameter.BuildMCCA(sessionID, hbh, ete, ca)
}

// admitCommRequest is the shared MCAR-0RTT/MCCR admission pipeline (spec
// §4.5): select a path (NAPT parsing needs the selected link's gateway
// address), validate every requested TFT and NAPT against the client's
// whitelist before any dataplane mutation — a rejected request leaves the
// kernel state untouched — then enforce bandwidth caps and install Layer
// B/C dataplane state.
func (o *Orchestrator) admitCommRequest(sessionID string, profile config.ClientProfile, cr diameter.CommRequest) (diameter.CommAnswer, diameter.MAGICStatus, uint32, *diameter.AVP) {
	class := policy.TrafficClass(profile.SystemRole)
	if class == "" {
		class = policy.ClassAllTraffic
	}

	links := make(map[string]policy.LinkSnapshot, 8)
	for id, ls := range o.dlmReg.IterateLinks() {
		links[id] = policy.LinkSnapshot{
			LinkID: ls.LinkID, IsUp: ls.IsUp, AvailableBWKbps: ls.AvailableBWKbps,
			RTTMs: ls.RTTMs, CostIndex: ls.CostIndex, LoadPercent: ls.LoadPercent,
			LossRate: ls.LossRate, Coverage: ls.Coverage,
		}
	}
	dec := o.policy.SelectPath(class, links)
	if !dec.IsValid {
		if cr.KeepRequest {
			_ = o.sessions.Queue(sessionID)
			return diameter.CommAnswer{}, diameter.StatusSessionQueued, diameter.ResultUnableToComply, nil
		}
		return diameter.CommAnswer{}, diameter.StatusNoFreeBandwidth, diameter.ResultUnableToComply, nil
	}

	linkTableID, ok := o.dataplane.LinkTableID(dec.SelectedLinkID)
	if !ok {
		return diameter.CommAnswer{}, diameter.StatusLinkError, diameter.ResultUnableToComply, nil
	}

	gateway, ok := o.dataplane.LinkGateway(dec.SelectedLinkID)
	if !ok {
		return diameter.CommAnswer{}, diameter.StatusLinkError, diameter.ResultUnableToComply, nil
	}

	// Step 1 (spec §4.5): validate every TFT and NAPT before any dataplane
	// mutation. %LinkIp% in a NAPT field substitutes the selected link's
	// gateway address, the only per-link address this dataplane tracks.
	wl := o.whitelists[profile.ClientID]
	allTFTStrings := append(append([]string{}, cr.TFTsToGround...), cr.TFTsToAircraft...)
	rules := make([]*tft.Rule, 0, len(allTFTStrings))
	for _, raw := range allTFTStrings {
		rule, err := tft.Parse(raw)
		if err != nil {
			return diameter.CommAnswer{}, diameter.StatusTFTInvalid, diameter.ResultInvalidAVPValue, diameter.NewSimple(diameter.AVPTFTString, diameter.Str(raw))
		}
		if wl != nil {
			if err := wl.Validate(rule); err != nil {
				return diameter.CommAnswer{}, diameter.StatusTFTInvalid, diameter.ResultInvalidAVPValue, diameter.NewSimple(diameter.AVPTFTString, diameter.Str(raw))
			}
		}
		rules = append(rules, rule)
	}

	for _, raw := range cr.NAPTs {
		napt, err := tft.ParseNAPT(raw, gateway)
		if err != nil {
			return diameter.CommAnswer{}, diameter.StatusNAPTInvalid, diameter.ResultInvalidAVPValue, diameter.NewSimple(diameter.AVPNAPTString, diameter.Str(raw))
		}
		if wl != nil {
			if err := wl.ValidateNAPT(napt); err != nil {
				return diameter.CommAnswer{}, diameter.StatusNAPTInvalid, diameter.ResultInvalidAVPValue, diameter.NewSimple(diameter.AVPNAPTString, diameter.Str(raw))
			}
		}
	}

	remaining := o.sessions.RemainingClientBandwidth(profile.ClientID, profile.Limits.TotalClientBWKbps)
	grantedBW := cr.RequestedBWKbps
	if grantedBW > profile.Limits.MaxSessionBWKbps {
		grantedBW = profile.Limits.MaxSessionBWKbps
	}
	if grantedBW > remaining {
		grantedBW = remaining
	}

	if err := o.dataplane.SetupClientLinkAccess(sessionID, mustClientIP(o.sessions, sessionID), gateway); err != nil {
		return diameter.CommAnswer{}, diameter.StatusMagicFailure, diameter.ResultUnableToComply, nil
	}

	installedTFTs := make([]session.InstalledTFT, 0, len(rules))
	for i, rule := range rules {
		handleID, err := o.dataplane.InstallTFTRule(sessionID, strconv.Itoa(i), dec.SelectedLinkID, linkTableID, rule)
		if err != nil {
			return diameter.CommAnswer{}, diameter.StatusMagicFailure, diameter.ResultUnableToComply, nil
		}
		installedTFTs = append(installedTFTs, session.InstalledTFT{Rule: rule, LinkID: dec.SelectedLinkID, HandleID: handleID})
	}

	if err := o.sessions.GrantBandwidth(sessionID, dec.SelectedLinkID, grantedBW, cr.RequestedRetBWKbps); err != nil {
		return diameter.CommAnswer{}, diameter.StatusMagicFailure, diameter.ResultUnableToComply, nil
	}
	_ = o.sessions.SetInstalledTFTs(sessionID, installedTFTs)
	if cs, ok := o.sessions.Get(sessionID); ok && cs.AccountingCDRID == "" {
		cdr := o.cdrs.Open(sessionID)
		_ = o.sessions.AttachCDR(sessionID, cdr.ID)
	}

	ca := diameter.CommAnswer{
		ProfileName:      cr.ProfileName,
		GrantedBWKbps:    grantedBW,
		GrantedRetBWKbps: cr.RequestedRetBWKbps,
		SelectedLinkID:   dec.SelectedLinkID,
		QoSLevel:         cr.QoSLevel,
		TFTsToGround:     cr.TFTsToGround,
		TFTsToAircraft:   cr.TFTsToAircraft,
	}
	return ca, diameter.StatusSuccess, diameter.ResultSuccess, nil
}

func (o *Orchestrator) handleMSXR(req *diameter.Message) *diameter.Message {
	hbh, ete := req.Header.HopByHopID, req.Header.EndToEndID
	sessionID := req.SessionID()
	levelAVP := req.Find(diameter.AVPStatusType)
	level := diameter.U32OrZero(levelAVP)
	if !session.ValidSubscribeLevel(int(level)) {
		level = uint32(session.SubscribeNone)
	}
	_ = o.sessions.UpdateSubscribeLevel(sessionID, session.SubscribeLevel(level))
	return diameter.BuildMSXA(sessionID, hbh, ete, level, o.dlmInfoSnapshot())
}

func (o *Orchestrator) handleMADR(req *diameter.Message) *diameter.Message {
	hbh, ete := req.Header.HopByHopID, req.Header.EndToEndID
	sessionID := req.SessionID()

	if ref := req.Find(diameter.AVPCDRRequestIdentifier); ref != nil {
		cdrID := string(ref.Data)
		cdr, ok := o.cdrs.Get(cdrID)
		if !ok {
			ans := diameter.NewAnswer(diameter.CmdMADR, sessionID, hbh, ete)
			ans.AddResultAVPs(diameter.ResultUnableToComply, diameter.StatusInvalidCDRID)
			return ans
		}
		m := diameter.NewAnswer(diameter.CmdMADR, sessionID, hbh, ete)
		m.AddResultAVPs(diameter.ResultSuccess, diameter.StatusSuccess)
		m.Add(diameter.CDRInfo{CDRID: cdr.ID, Content: cdr.ContentBlob}.Avp())
		return m
	}

	active := cdrInfos(o.cdrs.ByState(session.CDRActive))
	finished := cdrInfos(o.cdrs.ByState(session.CDRFinished))
	forwarded := cdrInfos(o.cdrs.ByState(session.CDRForwarded))
	unknown := cdrInfos(o.cdrs.ByState(session.CDRUnknown))
	return diameter.BuildMADA(sessionID, hbh, ete, active, finished, forwarded, unknown)
}

func (o *Orchestrator) handleMACR(req *diameter.Message) *diameter.Message {
	hbh, ete := req.Header.HopByHopID, req.Header.EndToEndID
	sessionID := req.SessionID()

	cs, ok := o.sessions.Get(sessionID)
	if !ok || cs.AccountingCDRID == "" {
		ans := diameter.NewAnswer(diameter.CmdMACR, sessionID, hbh, ete)
		ans.AddResultAVPs(diameter.ResultUnableToComply, diameter.StatusInvalidCDRID)
		return ans
	}
	pair, err := o.cdrs.Restart(sessionID, cs.AccountingCDRID, 0, 0)
	if err != nil {
		ans := diameter.NewAnswer(diameter.CmdMACR, sessionID, hbh, ete)
		ans.AddResultAVPs(diameter.ResultUnableToComply, diameter.StatusMagicFailure)
		return ans
	}
	_ = o.sessions.AttachCDR(sessionID, pair.Opened.ID)
	return diameter.BuildMACA(sessionID, hbh, ete, pair.Closed.ID, pair.Opened.ID)
}

func (o *Orchestrator) authenticate(creds diameter.Credentials) (config.ClientProfile, bool) {
	for _, c := range o.cfg.Clients {
		if c.Auth.Kind == config.AuthMagicAware && c.Auth.Username == creds.UserName && c.Auth.Password == creds.ClientPassword {
			return c, true
		}
	}
	return config.ClientProfile{}, false
}

func (o *Orchestrator) dlmInfoSnapshot() []diameter.DLMInfo {
	snaps := o.dlmReg.IterateLinks()
	byDriver := make(map[string][]diameter.LinkStatusEntry)
	for _, ls := range snaps {
		byDriver[ls.LinkID] = append(byDriver[ls.LinkID], diameter.LinkStatusEntry{
			LinkID: ls.LinkID, IsUp: ls.IsUp, CurrentBWKbps: ls.AvailableBWKbps,
		})
	}
	out := make([]diameter.DLMInfo, 0, len(byDriver))
	for driver, links := range byDriver {
		out = append(out, diameter.DLMInfo{DLMDriverID: driver, Links: links})
	}
	return out
}

func cdrInfos(cdrs []*session.CDR) []diameter.CDRInfo {
	out := make([]diameter.CDRInfo, 0, len(cdrs))
	for _, c := range cdrs {
		out = append(out, diameter.CDRInfo{CDRID: c.ID})
	}
	return out
}

func mustClientIP(mgr *session.Manager, sessionID string) string {
	if cs, ok := mgr.Get(sessionID); ok {
		return cs.ClientIP
	}
	return ""
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return strings.TrimSpace(conn.RemoteAddr().String())
	}
	return host
}
