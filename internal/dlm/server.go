// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dlm

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"

	"skyloom.aero/magic-gateway/internal/config"
	"skyloom.aero/magic-gateway/internal/logging"
)

// Server accepts DLM connections on a Unix domain socket and drives each
// one's REGISTER/LINK_EVENT/HEARTBEAT/SHUTDOWN frames into the Registry.
type Server struct {
	socketPath string
	registry   *Registry
	log        *logging.Logger

	listener net.Listener
}

// NewServer binds nothing yet; call Serve to start accepting connections.
func NewServer(socketPath string, registry *Registry, log *logging.Logger) *Server {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}
	return &Server{
		socketPath: socketPath,
		registry:   registry,
		log:        log.WithComponent("dlm-server"),
	}
}

// Serve listens on the configured socket path, accepting one goroutine per
// DLM connection, until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("accept failed", "err", err)
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn reads frames from one DLM connection until it disconnects,
// cascading a link-down/gone event for whichever link_id it registered.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var registeredLinkID string
	defer func() {
		if registeredLinkID != "" {
			s.registry.UnregisterLink(registeredLinkID)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		hdr, body, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debug("dlm connection closed", "err", err, "link_id", registeredLinkID)
			}
			return
		}

		switch hdr.Type {
		case MsgRegister:
			reg, err := DecodeRegister(body)
			if err != nil {
				s.log.Warn("malformed REGISTER", "err", err)
				continue
			}
			profile := config.DatalinkProfile{
				LinkID:           registeredLinkIDFromProfile(reg),
				InterfaceName:    reg.InterfaceName,
				MaxTxRateKbps:    reg.MaxBWKbps,
				TypicalLatencyMs: reg.TypicalLatencyMs,
				CostIndex:        int(reg.CostIndex),
				Coverage:         config.Coverage(coverageFromWire(reg.Coverage)),
				Priority:         int(reg.Priority),
			}
			link, err := s.registry.RegisterLink(dlmDriverIDFromProfile(reg), profile)
			if err != nil {
				s.log.Warn("REGISTER rejected", "err", err)
				_ = WriteFrame(conn, MsgRegisterAck, hdr.Sequence, EncodeRegisterAck(RegisterAckBody{Accepted: false}))
				continue
			}
			registeredLinkID = profile.LinkID
			_ = WriteFrame(conn, MsgRegisterAck, hdr.Sequence, EncodeRegisterAck(RegisterAckBody{AssignedID: link.AssignedID, Accepted: true}))

		case MsgLinkEvent:
			ev, err := DecodeLinkEvent(body)
			if err != nil {
				s.log.Warn("malformed LINK_EVENT", "err", err)
				continue
			}
			if registeredLinkID == "" {
				s.log.Warn("LINK_EVENT before REGISTER, ignoring")
				continue
			}
			state := DynamicState{
				IsUp:             ev.IsLinkUp,
				CurrentBWKbps:    ev.CurrentBWKbps,
				CurrentLatencyMs: ev.CurrentLatencyMs,
				IPAddress:        ev.IPAddress,
				Netmask:          ev.Netmask,
			}
			if err := s.registry.UpdateLinkDynamicState(registeredLinkID, state); err != nil {
				s.log.Warn("LINK_EVENT update failed", "err", err)
			}

		case MsgHeartbeat:
			hb, err := DecodeHeartbeat(body)
			if err != nil {
				s.log.Warn("malformed HEARTBEAT", "err", err)
				continue
			}
			if registeredLinkID == "" {
				continue
			}
			if err := s.registry.RecordHeartbeat(registeredLinkID, hb.IsHealthy, hb.TxBytes, hb.RxBytes); err != nil {
				s.log.Warn("HEARTBEAT update failed", "err", err)
			}

		case MsgShutdown:
			s.log.Info("DLM sent SHUTDOWN", "link_id", registeredLinkID)
			return

		default:
			s.log.Debug("unhandled IPC message type", "type", hdr.Type)
		}
	}
}

// registeredLinkIDFromProfile derives the link_id the registry keys links
// under from a REGISTER body. The wire protocol identifies a link only by
// its numeric link_profile_id; external config assigns the same numbering
// to DatalinkProfile.LinkID as "LINK_<profile-id>".
func registeredLinkIDFromProfile(r RegisterBody) string {
	return "LINK_" + strconv.FormatUint(uint64(r.LinkProfileID), 10)
}

func dlmDriverIDFromProfile(r RegisterBody) string {
	return "DLM_" + strconv.FormatUint(uint64(r.DLMID), 10)
}
