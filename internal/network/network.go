// Package network decides whether a client address belongs to a trusted network.
package network

import (
	"fmt"
	"net/netip"
)

// TrustList is an immutable set of trusted prefixes.
type TrustList struct {
	prefixes []netip.Prefix
}

// NewTrustList parses CIDR strings. A bare address is treated as a single-host prefix.
func NewTrustList(cidrs []string) (*TrustList, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			addr, aerr := netip.ParseAddr(c)
			if aerr != nil {
				return nil, fmt.Errorf("network: invalid trusted cidr %q: %w", c, err)
			}
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		out = append(out, p.Masked())
	}
	return &TrustList{prefixes: out}, nil
}

// Trusted reports whether ip falls within any trusted prefix.
func (t *TrustList) Trusted(ip string) bool {
	if t == nil || ip == "" {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
