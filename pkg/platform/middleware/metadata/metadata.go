package metadata

import (
	"net/http"
	"net/netip"
	"strings"

	"gatekeeper/pkg/requestcontext"
)

// MaxForwardedHeaderLength bounds forwarding headers to prevent header injection.
const MaxForwardedHeaderLength = 500

// Header sources in precedence order.
const (
	SourceCloudflare   = "cf-connecting-ip"
	SourceForwardedFor = "x-forwarded-for"
	SourceRealIP       = "x-real-ip"
	SourceRemoteAddr   = "remote-addr"
	SourceUnknown      = "unknown"
)

// Config decides which peers may set forwarding headers.
type Config struct {
	// TrustedProxies is a list of prefixes allowed to set forwarding headers.
	TrustedProxies []netip.Prefix
	// TrustAllProxies accepts forwarding headers from any peer. Use only when the
	// relay is reachable exclusively through a CDN or platform edge.
	TrustAllProxies bool
}

// ParseTrustedProxies turns a comma-separated CIDR list into a Config.
// "*" trusts every peer; invalid entries are skipped.
func ParseTrustedProxies(raw string) *Config {
	cfg := &Config{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case part == "*":
			cfg.TrustAllProxies = true
		default:
			if prefix, err := netip.ParsePrefix(part); err == nil {
				cfg.TrustedProxies = append(cfg.TrustedProxies, prefix)
			}
		}
	}
	return cfg
}

// Middleware attaches the client address and user agent to the request context.
type Middleware struct {
	config *Config
}

func NewMiddleware(cfg *Config) *Middleware {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Middleware{config: cfg}
}

// Handler stores ClientIP and the User-Agent in the request context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, source := m.ClientIP(r)
		ctx := requestcontext.WithClientMetadata(r.Context(), ip, source, r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// forwardedHeaders lists the forwarding headers in precedence order. Only the
// first entry of X-Forwarded-For names the client; later entries are proxies.
var forwardedHeaders = []struct {
	name   string
	source string
	list   bool
}{
	{"CF-Connecting-IP", SourceCloudflare, false},
	{"X-Forwarded-For", SourceForwardedFor, true},
	{"X-Real-IP", SourceRealIP, false},
}

// ClientIP resolves the client address from the forwarding headers when the
// direct peer is trusted, falling back to RemoteAddr. An IPv4-mapped IPv6
// prefix is stripped.
func (m *Middleware) ClientIP(r *http.Request) (ip string, source string) {
	remoteIP := parseRemoteAddr(r.RemoteAddr)

	if m.isTrustedProxy(remoteIP) {
		for _, h := range forwardedHeaders {
			v := r.Header.Get(h.name)
			if len(v) > MaxForwardedHeaderLength {
				continue
			}
			if h.list {
				v, _, _ = strings.Cut(v, ",")
			}
			if v = headerIP(v); v != "" {
				return v, h.source
			}
		}
	}

	if remoteIP == "" {
		return "unknown", SourceUnknown
	}
	return StripMappedPrefix(remoteIP), SourceRemoteAddr
}

// StripMappedPrefix removes the "::ffff:" prefix of an IPv4-mapped IPv6 address.
func StripMappedPrefix(ip string) string {
	if rest, ok := strings.CutPrefix(strings.ToLower(ip), "::ffff:"); ok {
		if addr, err := netip.ParseAddr(rest); err == nil && addr.Is4() {
			return rest
		}
	}
	return ip
}

func headerIP(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	v = StripMappedPrefix(v)
	if _, err := netip.ParseAddr(v); err != nil {
		return ""
	}
	return v
}

func (m *Middleware) isTrustedProxy(ip string) bool {
	if m.config.TrustAllProxies {
		return true
	}
	if len(m.config.TrustedProxies) == 0 || ip == "" {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range m.config.TrustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseRemoteAddr(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if addrPort, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return addrPort.Addr().String()
	}
	if addr, err := netip.ParseAddr(strings.Trim(remoteAddr, "[]")); err == nil {
		return addr.String()
	}
	return ""
}
