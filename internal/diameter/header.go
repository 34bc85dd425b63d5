// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package diameter implements the MAGIC Diameter application (ARINC 839
// Application-Id 1094202169, Vendor-Id 13712): wire-format header/AVP
// codec, the AVP dictionary, the seven command pairs' message shapes, and
// the MAGIC error taxonomy. Base-protocol concerns RFC 6733 already defines
// (CER/CEA, DWR/DWA, transport, routing) are out of scope (spec §1
// Non-goals) and assumed provided by the underlying Diameter stack.
package diameter

import (
	"encoding/binary"

	"skyloom.aero/magic-gateway/internal/errors"
)

const (
	// ApplicationID is the ARINC 839 MAGIC Diameter application identifier.
	ApplicationID uint32 = 1094202169
	// VendorID is AEEC's IANA enterprise number.
	VendorID uint32 = 13712

	diameterVersion uint8 = 1
	headerLength           = 20
)

// Header flag bits (RFC 6733 §3).
const (
	FlagRequest   uint8 = 0x80
	FlagProxiable uint8 = 0x40
	FlagError     uint8 = 0x20
)

// Header is the fixed 20-byte Diameter message header.
type Header struct {
	Version       uint8
	Length        uint32 // total message length including this header
	Flags         uint8
	CommandCode   uint32 // 24 bits on the wire
	ApplicationID uint32
	HopByHopID    uint32
	EndToEndID    uint32
}

// IsRequest reports whether the Request flag is set.
func (h Header) IsRequest() bool { return h.Flags&FlagRequest != 0 }

func encodeHeader(h Header) []byte {
	buf := make([]byte, headerLength)
	binary.BigEndian.PutUint32(buf[0:4], uint32(diameterVersion)<<24|(h.Length&0x00FFFFFF))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Flags)<<24|(h.CommandCode&0x00FFFFFF))
	binary.BigEndian.PutUint32(buf[8:12], h.ApplicationID)
	binary.BigEndian.PutUint32(buf[12:16], h.HopByHopID)
	binary.BigEndian.PutUint32(buf[16:20], h.EndToEndID)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerLength {
		return Header{}, errors.New(errors.KindValidation, "diameter: header shorter than 20 bytes")
	}
	w0 := binary.BigEndian.Uint32(buf[0:4])
	w1 := binary.BigEndian.Uint32(buf[4:8])
	h := Header{
		Version:       uint8(w0 >> 24),
		Length:        w0 & 0x00FFFFFF,
		Flags:         uint8(w1 >> 24),
		CommandCode:   w1 & 0x00FFFFFF,
		ApplicationID: binary.BigEndian.Uint32(buf[8:12]),
		HopByHopID:    binary.BigEndian.Uint32(buf[12:16]),
		EndToEndID:    binary.BigEndian.Uint32(buf[16:20]),
	}
	if h.Version != diameterVersion {
		return h, errors.Errorf(errors.KindValidation, "diameter: unsupported version %d", h.Version)
	}
	return h, nil
}
