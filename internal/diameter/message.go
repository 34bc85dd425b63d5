// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package diameter

import (
	"encoding/binary"
	"io"

	"skyloom.aero/magic-gateway/internal/errors"
)

// Message is a full Diameter message: header plus a flat top-level AVP
// list. Session-Id, when present, is always AVPs[0] (spec §6).
type Message struct {
	Header Header
	AVPs   []*AVP
}

// NewRequest builds a request message shell for commandCode, with
// Session-Id as the first AVP.
func NewRequest(commandCode uint32, sessionID string, hopByHopID, endToEndID uint32, avps ...*AVP) *Message {
	return newMessage(commandCode, FlagRequest|FlagProxiable, sessionID, hopByHopID, endToEndID, avps)
}

// NewAnswer builds an answer message shell for commandCode, echoing the
// request's hop-by-hop/end-to-end ids per RFC 6733 §5.3.
func NewAnswer(commandCode uint32, sessionID string, hopByHopID, endToEndID uint32, avps ...*AVP) *Message {
	return newMessage(commandCode, FlagProxiable, sessionID, hopByHopID, endToEndID, avps)
}

func newMessage(commandCode uint32, flags uint8, sessionID string, hopByHopID, endToEndID uint32, avps []*AVP) *Message {
	all := make([]*AVP, 0, len(avps)+1)
	if sessionID != "" {
		all = append(all, &AVP{Code: AVPSessionID, Flags: AVPFlagMandatory, Data: Str(sessionID)})
	}
	all = append(all, avps...)
	return &Message{
		Header: Header{
			Version:       diameterVersion,
			Flags:         flags,
			CommandCode:   commandCode,
			ApplicationID: ApplicationID,
			HopByHopID:    hopByHopID,
			EndToEndID:    endToEndID,
		},
		AVPs: all,
	}
}

// SessionID returns the message's Session-Id AVP value, or "" if absent.
func (m *Message) SessionID() string {
	a := Find(m.AVPs, AVPSessionID)
	if a == nil {
		return ""
	}
	return string(a.Data)
}

// Find returns the first top-level AVP matching code, or nil.
func (m *Message) Find(code uint32) *AVP { return Find(m.AVPs, code) }

// Add appends an AVP to the message.
func (m *Message) Add(a *AVP) { m.AVPs = append(m.AVPs, a) }

// AddResultAVPs appends Result-Code and MAGIC-Status-Code to an answer
// being built; both are added for every outcome, success included.
func (m *Message) AddResultAVPs(resultCode uint32, status MAGICStatus) {
	m.Add(NewSimple(AVPResultCode, U32(resultCode)))
	m.Add(&AVP{Code: AVPMAGICStatusCode, VendorID: VendorID, Flags: AVPFlagMandatory | AVPFlagVendor, Data: U32(uint32(status))})
}

// AddFailedAVP appends a Failed-AVP (RFC 6733 §7.5) wrapping the offending
// AVP, so a TFT/NAPT rejection names the exact string that failed.
func (m *Message) AddFailedAVP(offending *AVP) {
	m.Add(&AVP{Code: AVPFailedAVP, Flags: AVPFlagMandatory, Group: []*AVP{offending}})
}

// ResultCode returns the message's Result-Code AVP value, or an error if
// absent or malformed.
func (m *Message) ResultCode() (uint32, error) {
	a := Find(m.AVPs, AVPResultCode)
	if a == nil {
		return 0, errors.New(errors.KindValidation, "diameter: message missing Result-Code AVP")
	}
	return DecodeU32(a)
}

// Encode serializes the full message (header + AVPs), filling in Length.
func Encode(m *Message) []byte {
	body := EncodeAVPs(m.AVPs)
	h := m.Header
	h.Length = uint32(headerLength + len(body))
	return append(encodeHeader(h), body...)
}

// Decode parses a full wire message.
func Decode(buf []byte) (*Message, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if int(h.Length) > len(buf) {
		return nil, errors.Errorf(errors.KindValidation, "diameter: header length %d exceeds buffer of %d bytes", h.Length, len(buf))
	}
	avps, err := DecodeAVPs(buf[headerLength:h.Length])
	if err != nil {
		return nil, err
	}
	return &Message{Header: h, AVPs: avps}, nil
}

// WriteMessage encodes and writes a full message to w, for a peer
// connection carrying one Diameter message per write.
func WriteMessage(w io.Writer, m *Message) error {
	_, err := w.Write(Encode(m))
	return err
}

// ReadMessage reads one full message off r: the fixed 20-byte header
// first to learn the total length, then the remainder it declares.
func ReadMessage(r io.Reader) (*Message, error) {
	hdrBuf := make([]byte, headerLength)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdrBuf[0:4]) & 0x00FFFFFF
	if length < headerLength {
		return nil, errors.Errorf(errors.KindValidation, "diameter: declared length %d shorter than header", length)
	}
	rest := make([]byte, length-headerLength)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	return Decode(append(hdrBuf, rest...))
}
