package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"gatekeeper/internal/platform/config"
	"gatekeeper/internal/platform/logger"
	"gatekeeper/internal/publicip"
	"gatekeeper/internal/resolver"
)

var ipCmd = &cobra.Command{
	Use:   "ip",
	Short: "Discover the public address",
	Long: `Query the public address providers in order, falling back to the
relay's /api/ip endpoint. Prints {"ip":"","source":"unknown"} when every
provider fails.`,
	RunE: runIP,
}

var ipRelayOnly bool

func init() {
	ipCmd.Flags().BoolVar(&ipRelayOnly, "relay-only", false, "skip third-party providers and ask the relay only")
}

func runIP(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	providers, err := config.LoadProviders(providersFile)
	if err != nil {
		return err
	}
	d, err := newDiscoverer(providers, ipRelayOnly)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(d.Discover(ctx))
}

func newDiscoverer(providers config.Providers, relayOnly bool) (*publicip.Discoverer, error) {
	cfg := publicip.Config{
		Providers: providers.PublicIP,
		RelayURL:  relayURL,
		Logger:    logger.NewWithWriter(os.Stderr, logLevel),
		Resolver:  breakerConfig("publicip", providers.Breaker),
	}
	if relayOnly {
		cfg.Providers = []resolver.Descriptor{publicip.RelayDescriptor(relayURL)}
		cfg.RelayURL = ""
	}
	return publicip.New(cfg)
}

func breakerConfig(name string, b config.Breaker) resolver.Config {
	return resolver.Config{
		Name:             name,
		BreakerThreshold: b.Threshold,
		BreakerCooldown:  b.Cooldown,
	}
}
