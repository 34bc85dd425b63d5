// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tft

import (
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"
	"skyloom.aero/magic-gateway/internal/errors"
)

// NATType distinguishes source vs. destination address translation.
type NATType int

const (
	NATUnknown NATType = iota
	NATSource          // SNAT
	NATDestination     // DNAT
)

const naptFieldCount = 8

// linkIPPlaceholder is substituted with the owning link's live address
// before a NAPTRule's IP fields are parsed, since the original string is
// authored before the link is up.
const linkIPPlaceholder = "%LinkIp%"

// NAPTRule is a parsed 8-field NAPT string:
// <NAT-Type>,<Source-IP>,<Destination-IP>,<IP-Protocol>,<Destination-Port>,<Source-Port>,<to-IP>,<to-Port>
type NAPTRule struct {
	Type NATType

	SrcIPRange   netipx.IPRange
	DstIPRange   netipx.IPRange
	Protocol     uint8
	DstPortRange PortRange
	SrcPortRange PortRange

	// ToIPRange/ToPortRange are the post-translation address/port: the
	// link-facing address for SNAT, the real server address for DNAT.
	ToIPRange   netipx.IPRange
	ToPortRange PortRange

	raw string
}

// Raw returns the original NAPT string the rule was parsed from.
func (r *NAPTRule) Raw() string { return r.raw }

// ParseNAPT decodes one NAPT string, substituting linkIP for any
// "%LinkIp%" placeholder field. linkIP may be the zero string if the owning
// link is not yet up; placeholder fields then parse to the full "any" range.
func ParseNAPT(s, linkIP string) (*NAPTRule, error) {
	fields := strings.Split(s, ",")
	if len(fields) != naptFieldCount {
		return nil, errors.Errorf(errors.KindValidation, "napt: expected %d fields, got %d in %q", naptFieldCount, len(fields), s)
	}

	r := &NAPTRule{raw: s}

	switch strings.ToUpper(fields[0]) {
	case "SNAT":
		r.Type = NATSource
	case "DNAT":
		r.Type = NATDestination
	default:
		r.Type = NATUnknown
	}

	var err error
	if r.SrcIPRange, err = parseNAPTAddr(fields[1], linkIP); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "napt: source-ip %q", fields[1])
	}
	if r.DstIPRange, err = parseNAPTAddr(fields[2], linkIP); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "napt: destination-ip %q", fields[2])
	}

	if fields[3] != "" {
		v, err := strconv.ParseUint(fields[3], 10, 8)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "napt: ip-protocol %q", fields[3])
		}
		r.Protocol = uint8(v)
	}

	if r.DstPortRange, err = parseNAPTPortRange(fields[4]); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "napt: destination-port %q", fields[4])
	}
	if r.SrcPortRange, err = parseNAPTPortRange(fields[5]); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "napt: source-port %q", fields[5])
	}
	if r.ToIPRange, err = parseNAPTAddr(fields[6], linkIP); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "napt: to-ip %q", fields[6])
	}
	if r.ToPortRange, err = parseNAPTPortRange(fields[7]); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "napt: to-port %q", fields[7])
	}

	return r, nil
}

// parseNAPTAddr parses an "ip" or "ip.mask" NAPT address field (dotted
// decimal mask only, matching the ARINC 839 wire format), substituting
// linkIP for the %LinkIp% placeholder.
func parseNAPTAddr(field, linkIP string) (netipx.IPRange, error) {
	if field == "" {
		return FullIPRange(), nil
	}

	if field == linkIPPlaceholder {
		if linkIP == "" {
			return FullIPRange(), nil
		}
		field = linkIP
	}

	// A dotted-decimal "ip.mask" field has 8 dot-separated octets; a bare
	// IPv4 address has 4. Distinguish by octet count, not a trailing split,
	// since the octets themselves contain dots.
	octets := strings.Split(field, ".")
	switch len(octets) {
	case 4:
		addr, err := netip.ParseAddr(field)
		if err != nil {
			return netipx.IPRange{}, errors.Wrapf(err, errors.KindValidation, "address %q", field)
		}
		return netipx.IPRangeFrom(addr, addr), nil
	case 8:
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
	default:
		return netipx.IPRange{}, errors.Errorf(errors.KindValidation, "expected ip or ip.mask, got %d octets in %q", len(octets), field)
	}
}

// parseNAPTPortRange parses a bare port ("80") or a "low.high" range.
func parseNAPTPortRange(field string) (PortRange, error) {
	if field == "" {
		return FullPortRange(), nil
	}

	if dot := strings.Index(field, "."); dot >= 0 {
		low, err := strconv.ParseUint(field[:dot], 10, 16)
		if err != nil {
			return PortRange{}, errors.Wrapf(err, errors.KindValidation, "low port %q", field[:dot])
		}
		high, err := strconv.ParseUint(field[dot+1:], 10, 16)
		if err != nil {
			return PortRange{}, errors.Wrapf(err, errors.KindValidation, "high port %q", field[dot+1:])
		}
		if low > high {
			return PortRange{}, errors.Errorf(errors.KindValidation, "low port %d exceeds high port %d", low, high)
		}
		return PortRange{Low: uint16(low), High: uint16(high)}, nil
	}

	v, err := strconv.ParseUint(field, 10, 16)
	if err != nil {
		return PortRange{}, errors.Wrapf(err, errors.KindValidation, "port %q", field)
	}
	return PortRange{Low: uint16(v), High: uint16(v)}, nil
}

// ValidateNAPT checks the transformed (post-translation) 5-tuple against the
// whitelist — spec §4.1: "NAPT validation is structurally the same on the
// transformed 5-tuple (dst_ip/port after NAT is the value checked)".
func (w *Whitelist) ValidateNAPT(r *NAPTRule) error {
	transformed := &Rule{
		SrcIPRange:   r.SrcIPRange,
		DstIPRange:   r.ToIPRange,
		Protocol:     &r.Protocol,
		DstPortRange: r.ToPortRange,
		SrcPortRange: r.SrcPortRange,
		raw:          r.raw,
	}
	return w.Validate(transformed)
}
