// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tft

import (
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"
	"skyloom.aero/magic-gateway/internal/errors"
)

const (
	prefixToGround   = "_iTFT="
	prefixToAircraft = "+CGTFT="

	fieldCount = 11
)

// Parse decodes one packet-filter string in either surface syntax. Fields
// are comma-separated and positional; an empty field means "any" and is
// preserved as such rather than defaulted during parsing (spec §4.1).
func Parse(s string) (*Rule, error) {
	var dir Direction
	var body string

	switch {
	case strings.HasPrefix(s, prefixToGround):
		dir = DirectionToGround
		body = s[len(prefixToGround):]
	case strings.HasPrefix(s, prefixToAircraft):
		dir = DirectionToAircraft
		body = s[len(prefixToAircraft):]
	default:
		return nil, errors.Errorf(errors.KindValidation, "tft: unrecognized packet filter prefix in %q", s)
	}

	fields := strings.Split(body, ",")
	if len(fields) != fieldCount {
		return nil, errors.Errorf(errors.KindValidation, "tft: expected %d fields, got %d in %q", fieldCount, len(fields), s)
	}

	r := &Rule{Direction: dir, raw: s}

	if fields[0] != "" {
		v, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "tft: context id %q", fields[0])
		}
		r.ContextID = v
	}
	if fields[1] != "" {
		v, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "tft: packet filter id %q", fields[1])
		}
		r.FilterID = v
	}
	if fields[2] != "" {
		v, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "tft: precedence %q", fields[2])
		}
		r.Precedence = v
	}

	srcRange, err := parseAddrMask(fields[3])
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "tft: src_ip_and_mask %q", fields[3])
	}
	r.SrcIPRange = srcRange

	dstRange, err := parseAddrMask(fields[4])
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "tft: dst_ip_and_mask %q", fields[4])
	}
	r.DstIPRange = dstRange

	if fields[5] != "" {
		v, err := strconv.ParseUint(fields[5], 10, 8)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "tft: protocol %q", fields[5])
		}
		p := uint8(v)
		r.Protocol = &p
	}

	dstPorts, err := parsePortRange(fields[6])
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "tft: dst_port_range %q", fields[6])
	}
	r.DstPortRange = dstPorts

	srcPorts, err := parsePortRange(fields[7])
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "tft: src_port_range %q", fields[7])
	}
	r.SrcPortRange = srcPorts

	if fields[8] != "" {
		v, err := strconv.ParseUint(fields[8], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "tft: ipsec_spi %q", fields[8])
		}
		spi := uint32(v)
		r.IPSecSPI = &spi
	}
	if fields[9] != "" {
		v, err := strconv.ParseUint(fields[9], 10, 8)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "tft: tos %q", fields[9])
		}
		tos := uint8(v)
		r.TOS = &tos
	}
	if fields[10] != "" {
		v, err := strconv.ParseUint(fields[10], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "tft: flow_label %q", fields[10])
		}
		fl := uint32(v)
		r.FlowLabel = &fl
	}

	return r, nil
}

// parseAddrMask parses the eight dot-separated octet form "a.b.c.d.m1.m2.m3.m4"
// into a CIDR-derived IPRange. An empty field means "any address".
func parseAddrMask(s string) (netipx.IPRange, error) {
	if s == "" {
		return FullIPRange(), nil
	}

	octets := strings.Split(s, ".")
	if len(octets) != 8 {
		return netipx.IPRange{}, errors.Errorf(errors.KindValidation, "expected 8 octets (addr.mask), got %d", len(octets))
	}

	addrStr := strings.Join(octets[0:4], ".")
	maskStr := strings.Join(octets[4:8], ".")

	addr, err := netip.ParseAddr(addrStr)
	if err != nil {
		return netipx.IPRange{}, errors.Wrapf(err, errors.KindValidation, "address %q", addrStr)
	}
	mask, err := netip.ParseAddr(maskStr)
	if err != nil {
		return netipx.IPRange{}, errors.Wrapf(err, errors.KindValidation, "mask %q", maskStr)
	}

	ones, ok := maskBitLen(mask)
	if !ok {
		return netipx.IPRange{}, errors.Errorf(errors.KindValidation, "mask %q is not a contiguous netmask", maskStr)
	}

	prefix := netip.PrefixFrom(addr, ones).Masked()
	return netipx.RangeOfPrefix(prefix), nil
}

// maskBitLen converts a dotted-decimal netmask into a CIDR prefix length,
// reporting false if the mask bits are not a contiguous left-aligned run.
func maskBitLen(mask netip.Addr) (int, bool) {
	bytes := mask.As4()
	ones := 0
	seenZero := false
	for _, b := range bytes {
		for bit := 7; bit >= 0; bit-- {
			set := b&(1<<uint(bit)) != 0
			if set {
				if seenZero {
					return 0, false
				}
				ones++
			} else {
				seenZero = true
			}
		}
	}
	return ones, true
}

// parsePortRange parses the "low.high" inclusive form. An empty field means
// "any port".
func parsePortRange(s string) (PortRange, error) {
	if s == "" {
		return FullPortRange(), nil
	}

	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return PortRange{}, errors.Errorf(errors.KindValidation, "expected low.high, got %q", s)
	}

	low, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return PortRange{}, errors.Wrapf(err, errors.KindValidation, "low port %q", parts[0])
	}
	high, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return PortRange{}, errors.Wrapf(err, errors.KindValidation, "high port %q", parts[1])
	}
	if low > high {
		return PortRange{}, errors.Errorf(errors.KindValidation, "low port %d exceeds high port %d", low, high)
	}

	return PortRange{Low: uint16(low), High: uint16(high)}, nil
}
