// Package privacy keeps client identifiers out of logs, traces and events.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
)

// AnonymizeIP truncates an address to its network prefix: /24 for IPv4
// (including IPv4-mapped IPv6), /48 for IPv6.
// Returns "unknown" for empty input and "invalid" for unparseable input.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// HashIdentifier returns a short SHA-256 digest of an opaque identifier (user id,
// guild id) so records can be correlated without carrying the raw value.
func HashIdentifier(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:8])
}
