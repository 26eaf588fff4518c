// Package publicip discovers the caller's public address through an ordered
// list of echo services, falling back to the relay's header-inspection endpoint.
package publicip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"gatekeeper/internal/resolver"
)

// SourceUnknown marks an address that could not be discovered.
const SourceUnknown = "unknown"

// Address is a discovered public address and where it came from.
type Address struct {
	IP     string `json:"ip"`
	Source string `json:"source"`
}

// Known reports whether discovery produced an address.
func (a Address) Known() bool {
	return a.IP != ""
}

// DefaultProviders is the built-in ordered list of client-side echo services.
var DefaultProviders = []resolver.Descriptor{
	{ID: "ipify", URL: "https://api.ipify.org?format=json", Adapter: "json-ip"},
	{ID: "ident.me", URL: "https://ident.me/json", Adapter: "ident"},
	{ID: "icanhazip", URL: "https://icanhazip.com", Adapter: "text"},
	{ID: "seeip", URL: "https://api.seeip.org/jsonip", Adapter: "json-ip"},
}

// Adapters maps adapter names to response-shape adapters.
var Adapters = map[string]resolver.Adapter[Address]{
	"json-ip": adaptJSONIP,
	"ident":   adaptIdent,
	"text":    adaptText,
	"relay":   adaptRelay,
}

// RelayDescriptor describes the relay's header-inspection endpoint, tried last.
func RelayDescriptor(baseURL string) resolver.Descriptor {
	return resolver.Descriptor{
		ID:      "relay",
		URL:     strings.TrimRight(baseURL, "/") + "/api/ip",
		Adapter: "relay",
	}
}

func normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty ip field")
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", fmt.Errorf("invalid ip %q: %w", raw, err)
	}
	return addr.Unmap().String(), nil
}

type ipResponse struct {
	IP string `json:"ip"`
}

func adaptJSONIP(body []byte) (Address, error) {
	var r ipResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Address{}, err
	}
	ip, err := normalize(r.IP)
	if err != nil {
		return Address{}, err
	}
	return Address{IP: ip}, nil
}

// adaptIdent tolerates ident.me's loose JSON shape and plain-text replies.
func adaptIdent(body []byte) (Address, error) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return adaptText(body)
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return Address{}, err
	}
	ip, err := normalize(pickString(raw, "ip", "ip_address", "address", "query"))
	if err != nil {
		return Address{}, err
	}
	return Address{IP: ip}, nil
}

func adaptText(body []byte) (Address, error) {
	ip, err := normalize(string(body))
	if err != nil {
		return Address{}, err
	}
	return Address{IP: ip}, nil
}

type relayResponse struct {
	IP     string `json:"ip"`
	Source string `json:"source"`
}

func adaptRelay(body []byte) (Address, error) {
	var r relayResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Address{}, err
	}
	ip, err := normalize(r.IP)
	if err != nil {
		return Address{}, err
	}
	return Address{IP: ip, Source: r.Source}, nil
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// Discoverer runs public IP discovery.
type Discoverer struct {
	resolver  *resolver.Resolver[Address]
	providers []resolver.Provider[Address]
}

// Config configures a Discoverer.
type Config struct {
	Providers []resolver.Descriptor // DefaultProviders when empty
	RelayURL  string                // appends the relay endpoint when set
	Client    resolver.HTTPDoer
	UserAgent string
	Logger    *slog.Logger
	Resolver  resolver.Config
}

// New builds a Discoverer.
func New(cfg Config) (*Discoverer, error) {
	descs := cfg.Providers
	if len(descs) == 0 {
		descs = DefaultProviders
	}
	if cfg.RelayURL != "" {
		descs = append(append([]resolver.Descriptor(nil), descs...), RelayDescriptor(cfg.RelayURL))
	}
	providers, err := resolver.BuildHTTP(descs, Adapters, resolver.BuildOptions{
		Client:    cfg.Client,
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Resolver.Name == "" {
		cfg.Resolver.Name = "publicip"
	}
	if cfg.Resolver.Logger == nil {
		cfg.Resolver.Logger = cfg.Logger
	}
	return &Discoverer{
		resolver: resolver.New(cfg.Resolver, func() Address {
			return Address{Source: SourceUnknown}
		}),
		providers: providers,
	}, nil
}

// Discover returns the first address any provider reports. It never fails;
// exhaustion yields an empty address with source "unknown".
func (d *Discoverer) Discover(ctx context.Context) Address {
	res := d.resolver.Resolve(ctx, d.providers)
	if res.Resolved && res.Value.Source == "" {
		res.Value.Source = res.ProviderID
	}
	return res.Value
}
