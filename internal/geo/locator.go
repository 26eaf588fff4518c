package geo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"gatekeeper/internal/resolver"
)

// Locator resolves geolocation for an address. It never fails: total provider
// exhaustion yields Unknown decorated with the caller's timezone.
type Locator struct {
	resolver  *resolver.Resolver[Location]
	providers []resolver.Descriptor
	opts      resolver.BuildOptions
	cache     Cache
	logger    *slog.Logger
	group     singleflight.Group
	sweep     time.Duration
}

// LocatorConfig configures a Locator.
type LocatorConfig struct {
	Providers []resolver.Descriptor // DefaultProviders when empty
	Client    resolver.HTTPDoer
	UserAgent string
	Cache     Cache // optional
	Logger    *slog.Logger
	Resolver  resolver.Config
}

// NewLocator validates the provider list and builds a Locator.
func NewLocator(cfg LocatorConfig) (*Locator, error) {
	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders
	}
	if err := resolver.ValidateDescriptors(cfg.Providers, Adapters); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Resolver.Name == "" {
		cfg.Resolver.Name = "geolocation"
	}
	if cfg.Resolver.Logger == nil {
		cfg.Resolver.Logger = cfg.Logger
	}
	perProvider := cfg.Resolver.Timeout
	if perProvider <= 0 {
		perProvider = resolver.DefaultTimeout
	}
	return &Locator{
		// Exhaustion is mapped to Unknown by Locate, which knows the timezone.
		resolver:  resolver.New[Location](cfg.Resolver, nil),
		providers: cfg.Providers,
		opts:      resolver.BuildOptions{Client: cfg.Client, UserAgent: cfg.UserAgent},
		cache:     cfg.Cache,
		logger:    cfg.Logger,
		sweep:     perProvider * time.Duration(len(cfg.Providers)),
	}, nil
}

// Locate resolves ip ("" for the caller's own address). timezone decorates the
// Unknown result and fills in a missing provider timezone.
func (l *Locator) Locate(ctx context.Context, ip, timezone string) Result {
	if ip != "" && l.cache != nil {
		loc, err := l.cache.Get(ctx, ip)
		if err == nil {
			return Result{Status: StatusResolved, Location: loc}
		}
		if !errors.Is(err, ErrCacheMiss) {
			l.logger.WarnContext(ctx, "geo cache read failed", "error", err)
		}
	}

	// Empty ip is never shared: each caller asks about its own address.
	if ip == "" {
		return l.finish(l.resolve(ctx, ""), timezone)
	}

	// The shared sweep belongs to no single caller: it runs on a detached
	// context bounded by the full sweep budget, and each caller stops waiting
	// when its own context ends.
	ch := l.group.DoChan(ip, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.sweep)
		defer cancel()
		res := l.resolve(sctx, ip)
		if res.Resolved && l.cache != nil {
			if err := l.cache.Set(sctx, ip, res.Value); err != nil {
				l.logger.WarnContext(sctx, "geo cache write failed", "error", err)
			}
		}
		return res, nil
	})
	select {
	case r := <-ch:
		return l.finish(r.Val.(resolver.Result[Location]), timezone)
	case <-ctx.Done():
		return Unknown(timezone)
	}
}

func (l *Locator) resolve(ctx context.Context, ip string) resolver.Result[Location] {
	opts := l.opts
	opts.ExpandURL = func(u string) string { return ExpandURL(u, ip) }
	providers, err := resolver.BuildHTTP(l.providers, Adapters, opts)
	if err != nil {
		// Descriptors are validated in NewLocator.
		l.logger.ErrorContext(ctx, "geo providers invalid", "error", err)
		return resolver.Result[Location]{}
	}
	res := l.resolver.Resolve(ctx, providers)
	if res.Resolved {
		res.Value.Source = res.ProviderID
		if res.Value.IP == "" {
			res.Value.IP = ip
		}
	}
	return res
}

func (l *Locator) finish(res resolver.Result[Location], timezone string) Result {
	if !res.Resolved {
		return Unknown(timezone)
	}
	loc := res.Value
	if loc.Timezone == "" {
		loc.Timezone = timezone
	}
	return Result{Status: StatusResolved, Location: loc}
}
