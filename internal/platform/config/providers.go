package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gatekeeper/internal/resolver"
)

//go:embed providers.yaml
var defaultProviders []byte

// Providers lists the ordered external providers for each resolver.
type Providers struct {
	Geolocation []resolver.Descriptor `yaml:"geolocation"`
	PublicIP    []resolver.Descriptor `yaml:"publicip"`
	Breaker     Breaker               `yaml:"breaker"`
}

// Breaker configures per-provider circuit breakers. Threshold 0 disables them.
type Breaker struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// LoadProviders reads path, or the embedded defaults when path is empty.
func LoadProviders(path string) (Providers, error) {
	raw := defaultProviders
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Providers{}, fmt.Errorf("read providers file: %w", err)
		}
		raw = b
	}
	return ParseProviders(raw)
}

// ParseProviders decodes a provider document. Unknown keys are rejected.
func ParseProviders(raw []byte) (Providers, error) {
	var p Providers
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Providers{}, fmt.Errorf("parse providers: %w", err)
	}
	for _, list := range [][]resolver.Descriptor{p.Geolocation, p.PublicIP} {
		seen := make(map[string]bool, len(list))
		for _, d := range list {
			if d.ID == "" || d.URL == "" || d.Adapter == "" {
				return Providers{}, fmt.Errorf("parse providers: entry %q needs id, url and adapter", d.ID)
			}
			if seen[d.ID] {
				return Providers{}, fmt.Errorf("parse providers: duplicate id %q", d.ID)
			}
			seen[d.ID] = true
		}
	}
	return p, nil
}
