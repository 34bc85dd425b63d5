// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dlm

import (
	"encoding/binary"
	"io"
	"net"

	"skyloom.aero/magic-gateway/internal/errors"
)

// MessageType is the IpcHeader.Type discriminant for the DLM IPC protocol.
type MessageType uint8

const (
	MsgRegister    MessageType = 0x01
	MsgRegisterAck MessageType = 0x02
	MsgLinkEvent   MessageType = 0x03
	MsgResourceReq MessageType = 0x04
	MsgResourceResp MessageType = 0x05
	MsgHeartbeat   MessageType = 0x06
	MsgShutdown    MessageType = 0x07
	MsgPolicyReq   MessageType = 0x08
	MsgPolicyResp  MessageType = 0x09
)

const headerSize = 1 + 4 + 4 // type + length + sequence

// IpcHeader is the fixed-layout frame header every IPC message is prefixed
// with. Unlike the original packed-struct/host-byte-order layout, this
// rewrite encodes every field big-endian so the wire format is stable across
// architectures (REDESIGN FLAGS: explicit cross-machine encoding).
type IpcHeader struct {
	Type     MessageType
	Length   uint32 // length of the body that follows, in bytes
	Sequence uint32
}

func (h IpcHeader) encode() []byte {
	buf := make([]byte, headerSize)
	buf[0] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[1:5], h.Length)
	binary.BigEndian.PutUint32(buf[5:9], h.Sequence)
	return buf
}

func decodeHeader(buf []byte) IpcHeader {
	return IpcHeader{
		Type:     MessageType(buf[0]),
		Length:   binary.BigEndian.Uint32(buf[1:5]),
		Sequence: binary.BigEndian.Uint32(buf[5:9]),
	}
}

// maxFrameBody bounds a single IPC message body to guard against a
// misbehaving DLM process claiming an unbounded Length.
const maxFrameBody = 1 << 20

// RegisterBody is the REGISTER message payload: a DLM's identity and static
// capability record.
type RegisterBody struct {
	DLMID           uint32
	LinkProfileID   uint32
	InterfaceName   string
	CostIndex       int32
	MaxBWKbps       uint32
	TypicalLatencyMs uint32
	Priority        int32
	Coverage        uint8 // 0=GLOBAL 1=TERRESTRIAL 2=GATE_ONLY
}

// RegisterAckBody acknowledges a REGISTER, returning the assigned link id.
type RegisterAckBody struct {
	AssignedID uint32
	Accepted   bool
}

// LinkEventBody carries the dynamic state tuple of a LINK_EVENT message.
type LinkEventBody struct {
	DLMID         uint32
	IsLinkUp      bool
	CurrentBWKbps uint32
	CurrentLatencyMs uint32
	IPAddress     net.IP
	Netmask       net.IP
}

// HeartbeatBody carries one DLM's liveness and accounting counters.
type HeartbeatBody struct {
	DLMID     uint32
	IsHealthy bool
	TxBytes   uint64
	RxBytes   uint64
}

// ShutdownBody announces a clean DLM shutdown.
type ShutdownBody struct {
	DLMID uint32
}

// WriteFrame encodes header+body and writes it to w as a single write.
func WriteFrame(w io.Writer, t MessageType, seq uint32, body []byte) error {
	if len(body) > maxFrameBody {
		return errors.Errorf(errors.KindValidation, "dlm ipc: body too large (%d bytes)", len(body))
	}
	h := IpcHeader{Type: t, Length: uint32(len(body)), Sequence: seq}
	frame := append(h.encode(), body...)
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one IpcHeader plus its body from r.
func ReadFrame(r io.Reader) (IpcHeader, []byte, error) {
	hbuf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hbuf); err != nil {
		return IpcHeader{}, nil, err
	}
	h := decodeHeader(hbuf)
	if h.Length > maxFrameBody {
		return h, nil, errors.Errorf(errors.KindValidation, "dlm ipc: declared body length %d exceeds max", h.Length)
	}
	body := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return h, nil, err
		}
	}
	return h, body, nil
}

func putString16(buf []byte, s string) []byte {
	b := []byte(s)
	if len(b) > 0xFFFF {
		b = b[:0xFFFF]
	}
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(b)))
	buf = append(buf, lenBuf...)
	return append(buf, b...)
}

func getString16(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, errors.New(errors.KindValidation, "dlm ipc: truncated string length")
	}
	n := int(binary.BigEndian.Uint16(buf[0:2]))
	buf = buf[2:]
	if len(buf) < n {
		return "", nil, errors.New(errors.KindValidation, "dlm ipc: truncated string body")
	}
	return string(buf[:n]), buf[n:], nil
}

// EncodeRegister serializes a RegisterBody.
func EncodeRegister(b RegisterBody) []byte {
	buf := make([]byte, 0, 32+len(b.InterfaceName))
	tmp := make([]byte, 4)

	binary.BigEndian.PutUint32(tmp, b.DLMID)
	buf = append(buf, tmp...)
	binary.BigEndian.PutUint32(tmp, b.LinkProfileID)
	buf = append(buf, tmp...)
	buf = putString16(buf, b.InterfaceName)
	binary.BigEndian.PutUint32(tmp, uint32(b.CostIndex))
	buf = append(buf, tmp...)
	binary.BigEndian.PutUint32(tmp, b.MaxBWKbps)
	buf = append(buf, tmp...)
	binary.BigEndian.PutUint32(tmp, b.TypicalLatencyMs)
	buf = append(buf, tmp...)
	binary.BigEndian.PutUint32(tmp, uint32(b.Priority))
	buf = append(buf, tmp...)
	buf = append(buf, b.Coverage)

	return buf
}

// DecodeRegister parses a RegisterBody.
func DecodeRegister(buf []byte) (RegisterBody, error) {
	var b RegisterBody
	if len(buf) < 8 {
		return b, errors.New(errors.KindValidation, "dlm ipc: REGISTER body too short")
	}
	b.DLMID = binary.BigEndian.Uint32(buf[0:4])
	b.LinkProfileID = binary.BigEndian.Uint32(buf[4:8])

	iface, rest, err := getString16(buf[8:])
	if err != nil {
		return b, err
	}
	b.InterfaceName = iface

	if len(rest) < 17 {
		return b, errors.New(errors.KindValidation, "dlm ipc: REGISTER body truncated after interface name")
	}
	b.CostIndex = int32(binary.BigEndian.Uint32(rest[0:4]))
	b.MaxBWKbps = binary.BigEndian.Uint32(rest[4:8])
	b.TypicalLatencyMs = binary.BigEndian.Uint32(rest[8:12])
	b.Priority = int32(binary.BigEndian.Uint32(rest[12:16]))
	b.Coverage = rest[16]

	return b, nil
}

// EncodeRegisterAck serializes a RegisterAckBody.
func EncodeRegisterAck(b RegisterAckBody) []byte {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint32(buf[0:4], b.AssignedID)
	if b.Accepted {
		buf[4] = 1
	}
	return buf
}

// DecodeRegisterAck parses a RegisterAckBody.
func DecodeRegisterAck(buf []byte) (RegisterAckBody, error) {
	if len(buf) < 5 {
		return RegisterAckBody{}, errors.New(errors.KindValidation, "dlm ipc: REGISTER_ACK body too short")
	}
	return RegisterAckBody{
		AssignedID: binary.BigEndian.Uint32(buf[0:4]),
		Accepted:   buf[4] != 0,
	}, nil
}

// EncodeLinkEvent serializes a LinkEventBody. IP fields are encoded as
// 4-byte IPv4 addresses, matching the dataplane's IPv4-only scope.
func EncodeLinkEvent(b LinkEventBody) []byte {
	buf := make([]byte, 0, 18)
	tmp := make([]byte, 4)

	binary.BigEndian.PutUint32(tmp, b.DLMID)
	buf = append(buf, tmp...)
	if b.IsLinkUp {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	binary.BigEndian.PutUint32(tmp, b.CurrentBWKbps)
	buf = append(buf, tmp...)
	binary.BigEndian.PutUint32(tmp, b.CurrentLatencyMs)
	buf = append(buf, tmp...)
	buf = append(buf, ipv4Bytes(b.IPAddress)...)
	buf = append(buf, ipv4Bytes(b.Netmask)...)

	return buf
}

// DecodeLinkEvent parses a LinkEventBody.
func DecodeLinkEvent(buf []byte) (LinkEventBody, error) {
	if len(buf) < 21 {
		return LinkEventBody{}, errors.New(errors.KindValidation, "dlm ipc: LINK_EVENT body too short")
	}
	return LinkEventBody{
		DLMID:            binary.BigEndian.Uint32(buf[0:4]),
		IsLinkUp:         buf[4] != 0,
		CurrentBWKbps:    binary.BigEndian.Uint32(buf[5:9]),
		CurrentLatencyMs: binary.BigEndian.Uint32(buf[9:13]),
		IPAddress:        net.IPv4(buf[13], buf[14], buf[15], buf[16]),
		Netmask:          net.IPv4(buf[17], buf[18], buf[19], buf[20]),
	}, nil
}

// EncodeHeartbeat serializes a HeartbeatBody.
func EncodeHeartbeat(b HeartbeatBody) []byte {
	buf := make([]byte, 21)
	binary.BigEndian.PutUint32(buf[0:4], b.DLMID)
	if b.IsHealthy {
		buf[4] = 1
	}
	binary.BigEndian.PutUint64(buf[5:13], b.TxBytes)
	binary.BigEndian.PutUint64(buf[13:21], b.RxBytes)
	return buf
}

// DecodeHeartbeat parses a HeartbeatBody.
func DecodeHeartbeat(buf []byte) (HeartbeatBody, error) {
	if len(buf) < 21 {
		return HeartbeatBody{}, errors.New(errors.KindValidation, "dlm ipc: HEARTBEAT body too short")
	}
	return HeartbeatBody{
		DLMID:     binary.BigEndian.Uint32(buf[0:4]),
		IsHealthy: buf[4] != 0,
		TxBytes:   binary.BigEndian.Uint64(buf[5:13]),
		RxBytes:   binary.BigEndian.Uint64(buf[13:21]),
	}, nil
}

// EncodeShutdown serializes a ShutdownBody.
func EncodeShutdown(b ShutdownBody) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, b.DLMID)
	return buf
}

// DecodeShutdown parses a ShutdownBody.
func DecodeShutdown(buf []byte) (ShutdownBody, error) {
	if len(buf) < 4 {
		return ShutdownBody{}, errors.New(errors.KindValidation, "dlm ipc: SHUTDOWN body too short")
	}
	return ShutdownBody{DLMID: binary.BigEndian.Uint32(buf[0:4])}, nil
}

func ipv4Bytes(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return []byte(v4)
	}
	return []byte{0, 0, 0, 0}
}

func coverageFromWire(b uint8) string {
	switch b {
	case 1:
		return "TERRESTRIAL"
	case 2:
		return "GATE_ONLY"
	default:
		return "GLOBAL"
	}
}
