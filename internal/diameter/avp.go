// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package diameter

import (
	"encoding/binary"

	"skyloom.aero/magic-gateway/internal/errors"
)

// AVP flag bits (RFC 6733 §4.1).
const (
	AVPFlagVendor   uint8 = 0x80
	AVPFlagMandatory uint8 = 0x40
)

// maxGroupDepth bounds recursive grouped-AVP nesting; spec §6 calls out
// grouped AVPs nested up to 4 levels deep.
const maxGroupDepth = 4

const avpHeaderLenNoVendor = 8
const avpHeaderLenVendor = 12

// AVP is one attribute-value pair, simple or grouped. A grouped AVP built
// with NewGroup keeps its nested AVPs in Group and leaves Data empty; an AVP
// returned by DecodeAVPs has a nil Group and keeps any nested AVPs encoded
// in Data (see LookupGrouped).
type AVP struct {
	Code     uint32
	VendorID uint32 // 0 if the Vendor flag is unset
	Flags    uint8
	Data     []byte
	Group    []*AVP
}

// IsVendorSpecific reports whether the Vendor bit is set.
func (a *AVP) IsVendorSpecific() bool { return a.Flags&AVPFlagVendor != 0 }

// NewSimple builds a mandatory, vendor-specific (MAGIC's AVP space is
// entirely AEEC vendor AVPs per spec §6) simple AVP.
func NewSimple(code uint32, data []byte) *AVP {
	return &AVP{Code: code, VendorID: VendorID, Flags: AVPFlagMandatory | AVPFlagVendor, Data: data}
}

// NewGroup builds a mandatory, vendor-specific grouped AVP.
func NewGroup(code uint32, members ...*AVP) *AVP {
	return &AVP{Code: code, VendorID: VendorID, Flags: AVPFlagMandatory | AVPFlagVendor, Group: members}
}

// U32 encodes a uint32 as Data, the Unsigned32 AVP data type.
func U32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// DecodeU32 reads an Unsigned32 AVP's data.
func DecodeU32(a *AVP) (uint32, error) {
	if len(a.Data) != 4 {
		return 0, errors.Errorf(errors.KindValidation, "diameter: AVP %d is not 4 bytes (Unsigned32)", a.Code)
	}
	return binary.BigEndian.Uint32(a.Data), nil
}

// Str encodes a UTF8String/OctetString AVP's data.
func Str(s string) []byte { return []byte(s) }

// Bytes returns an AVP's raw OctetString data.
func Bytes(a *AVP) []byte { return a.Data }

func encodedAVPLen(a *AVP) int {
	headerLen := avpHeaderLenNoVendor
	if a.IsVendorSpecific() {
		headerLen = avpHeaderLenVendor
	}
	if a.Group != nil {
		sum := headerLen
		for _, m := range a.Group {
			sum += padded(encodedAVPLen(m))
		}
		return sum
	}
	return headerLen + len(a.Data)
}

func padded(n int) int {
	return n + (4-(n%4))%4
}

// encodeAVP appends a's wire encoding (header, value or nested group,
// 4-byte alignment padding) to buf.
func encodeAVP(buf []byte, a *AVP) []byte {
	l := encodedAVPLen(a)

	tmp := make([]byte, 4)
	binary.BigEndian.PutUint32(tmp, a.Code)
	buf = append(buf, tmp...)

	flagsAndLen := uint32(a.Flags)<<24 | (uint32(l) & 0x00FFFFFF)
	binary.BigEndian.PutUint32(tmp, flagsAndLen)
	buf = append(buf, tmp...)

	if a.IsVendorSpecific() {
		binary.BigEndian.PutUint32(tmp, a.VendorID)
		buf = append(buf, tmp...)
	}

	if a.Group != nil {
		for _, m := range a.Group {
			buf = encodeAVP(buf, m)
		}
	} else {
		buf = append(buf, a.Data...)
	}

	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// EncodeAVPs serializes an ordered AVP list.
func EncodeAVPs(avps []*AVP) []byte {
	var buf []byte
	for _, a := range avps {
		buf = encodeAVP(buf, a)
	}
	return buf
}

// DecodeAVPs parses buf into a flat ordered AVP list; it does not descend
// into grouped AVPs.
//
// A grouped AVP is distinguished from a simple one only by context (the
// dictionary), not by a wire marker; callers that need nested access use
// LookupGrouped, which re-parses a known-grouped AVP's Data on demand.
func DecodeAVPs(buf []byte) ([]*AVP, error) {
	var out []*AVP
	for len(buf) > 0 {
		a, consumed, err := decodeOneAVP(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
		buf = buf[consumed:]
	}
	return out, nil
}

func decodeOneAVP(buf []byte) (*AVP, int, error) {
	if len(buf) < avpHeaderLenNoVendor {
		return nil, 0, errors.New(errors.KindValidation, "diameter: truncated AVP header")
	}

	code := binary.BigEndian.Uint32(buf[0:4])
	w1 := binary.BigEndian.Uint32(buf[4:8])
	flags := uint8(w1 >> 24)
	length := int(w1 & 0x00FFFFFF)

	if length < avpHeaderLenNoVendor || length > len(buf) {
		return nil, 0, errors.Errorf(errors.KindValidation, "diameter: AVP %d has invalid length %d", code, length)
	}

	headerLen := avpHeaderLenNoVendor
	var vendorID uint32
	if flags&AVPFlagVendor != 0 {
		if length < avpHeaderLenVendor {
			return nil, 0, errors.Errorf(errors.KindValidation, "diameter: vendor AVP %d shorter than header", code)
		}
		vendorID = binary.BigEndian.Uint32(buf[8:12])
		headerLen = avpHeaderLenVendor
	}

	data := make([]byte, length-headerLen)
	copy(data, buf[headerLen:length])

	consumed := padded(length)
	if consumed > len(buf) {
		return nil, 0, errors.Errorf(errors.KindValidation, "diameter: AVP %d padded length exceeds buffer", code)
	}

	return &AVP{Code: code, VendorID: vendorID, Flags: flags, Data: data}, consumed, nil
}

// LookupGrouped re-parses a's Data as a nested AVP list, one recursion
// level. Returns an error past maxGroupDepth to guard against a malicious
// deeply-nested message.
func LookupGrouped(a *AVP, depth int) ([]*AVP, error) {
	if depth >= maxGroupDepth {
		return nil, errors.Errorf(errors.KindValidation, "diameter: grouped AVP %d exceeds max nesting depth %d", a.Code, maxGroupDepth)
	}
	return DecodeAVPs(a.Data)
}

// Find returns the first AVP in avps matching code, or nil.
func Find(avps []*AVP, code uint32) *AVP {
	for _, a := range avps {
		if a.Code == code {
			return a
		}
	}
	return nil
}

// FindAll returns every AVP in avps matching code, in order.
func FindAll(avps []*AVP, code uint32) []*AVP {
	var out []*AVP
	for _, a := range avps {
		if a.Code == code {
			out = append(out, a)
		}
	}
	return out
}
