package targets

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"
)

// MaxRangeSize caps how many addresses a single expression may expand to.
const MaxRangeSize = 1 << 20

// ParseExpression expands a literal target expression. Supported forms:
//   - 10.0.0.1, fe80::1, dc01.corp.local
//   - 10.0.0.0/24 (network and broadcast excluded for IPv4 prefixes up to /30)
//   - 10.0.0.1-10.0.0.20
//   - 10.0.0.1-20
//
// Anything that is not an address form is kept verbatim as a hostname.
func ParseExpression(expr string) ([]Target, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	if strings.Contains(expr, "/") {
		prefix, err := netip.ParsePrefix(expr)
		if err != nil {
			return []Target{{Addr: expr}}, nil
		}
		return expandPrefix(prefix.Masked())
	}

	if strings.Contains(expr, "-") {
		if r, ok := parseRange(expr); ok {
			return expandRange(r, expr)
		}
		return []Target{{Addr: expr}}, nil
	}

	if addr, err := netip.ParseAddr(expr); err == nil {
		return []Target{{Addr: addr.Unmap().String()}}, nil
	}
	return []Target{{Addr: expr}}, nil
}

func parseRange(expr string) (netipx.IPRange, bool) {
	if r, err := netipx.ParseIPRange(expr); err == nil {
		return r, true
	}

	// short form: 10.0.0.1-20 replaces the last octet
	idx := strings.LastIndex(expr, "-")
	start, err := netip.ParseAddr(expr[:idx])
	if err != nil || !start.Is4() {
		return netipx.IPRange{}, false
	}
	last, err := strconv.Atoi(expr[idx+1:])
	if err != nil || last < 0 || last > 255 {
		return netipx.IPRange{}, false
	}
	octets := start.As4()
	octets[3] = byte(last)
	r := netipx.IPRangeFrom(start, netip.AddrFrom4(octets))
	return r, true
}

func expandPrefix(prefix netip.Prefix) ([]Target, error) {
	r := netipx.RangeOfPrefix(prefix)
	if prefix.Addr().Is4() && prefix.Bits() < 31 {
		r = netipx.IPRangeFrom(r.From().Next(), r.To().Prev())
	}
	return expandRange(r, prefix.String())
}

func expandRange(r netipx.IPRange, expr string) ([]Target, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("invalid address range %q", expr)
	}
	var out []Target
	for addr := r.From(); ; addr = addr.Next() {
		if len(out) >= MaxRangeSize {
			return nil, fmt.Errorf("address range %q exceeds %d hosts", expr, MaxRangeSize)
		}
		out = append(out, Target{Addr: addr.String()})
		if addr == r.To() {
			break
		}
	}
	return out, nil
}
