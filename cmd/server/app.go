package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatekeeper/internal/geo"
	"gatekeeper/internal/platform/config"
	"gatekeeper/internal/platform/health"
	"gatekeeper/internal/platform/kafka"
	"gatekeeper/internal/platform/kafka/producer"
	"gatekeeper/internal/platform/metrics"
	redisclient "gatekeeper/internal/platform/redis"
	"gatekeeper/internal/relay/clients/authority"
	"gatekeeper/internal/relay/clients/siteverify"
	"gatekeeper/internal/relay/clients/webhook"
	"gatekeeper/internal/relay/events"
	"gatekeeper/internal/relay/handler"
	"gatekeeper/internal/relay/service"
	"gatekeeper/internal/resolver"
	"gatekeeper/pkg/platform/middleware/metadata"
	"gatekeeper/pkg/platform/middleware/request"
	"gatekeeper/pkg/platform/tracer"
)

const maxBodyBytes = 64 << 10

type app struct {
	router   http.Handler
	relay    *service.Service
	redis    *redisclient.Client
	producer *producer.Producer
	log      *slog.Logger
}

// newApp builds the relay. Optional backends (Redis, Kafka, webhook) are
// skipped when unconfigured; Redis failing at startup degrades to an
// in-process geolocation cache.
func newApp(ctx context.Context, cfg config.Server, log *slog.Logger) (*app, error) {
	providers, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	m.SetBuildInfo(health.Version, cfg.Environment)
	m.SetProviders("geolocation", len(providers.Geolocation))
	m.SetConfigured(map[string]bool{
		"site_key":      cfg.Relay.SiteKey != "",
		"secret_key":    cfg.Relay.SecretKey != "",
		"shared_secret": cfg.Relay.SharedSecret != "",
		"authority_url": cfg.Relay.AuthorityURL != "",
		"webhook":       cfg.Relay.WebhookURL != "",
	})

	a := &app{log: log}
	checks := health.New(cfg.Environment)

	var cache geo.Cache = geo.NewMemoryCache(cfg.Redis.GeoCacheTTL)
	if rc, err := redisclient.New(ctx, cfg.Redis); err != nil {
		log.Warn("redis unavailable, using in-process geolocation cache", "error", err)
	} else if rc != nil {
		a.redis = rc
		cache = geo.NewRedisCache(rc, cfg.Redis.GeoCacheTTL)
		checks.RegisterCheck("redis", rc.Health)
	}

	locator, err := geo.NewLocator(geo.LocatorConfig{
		Providers: providers.Geolocation,
		Cache:     cache,
		Logger:    log,
		Resolver: resolver.Config{
			Name:             "geolocation",
			Timeout:          cfg.ProviderTimeout,
			Logger:           log,
			Metrics:          resolver.NewMetrics(),
			BreakerThreshold: providers.Breaker.Threshold,
			BreakerCooldown:  providers.Breaker.Cooldown,
		},
	})
	if err != nil {
		return nil, err
	}

	opts := []service.Option{
		service.WithLocator(locator),
		service.WithTracer(tracer.NewOTel()),
		service.WithMetrics(service.NewMetrics()),
		service.WithLogger(log),
	}
	if cfg.Relay.WebhookURL != "" && cfg.Relay.WebhookSigningKey != "" {
		opts = append(opts, service.WithNotifier(webhook.New(cfg.Relay.WebhookURL, []byte(cfg.Relay.WebhookSigningKey))))
	}
	if cfg.Kafka.Brokers != "" {
		pcfg := kafka.DefaultProducerConfig(cfg.Kafka.Brokers)
		if cfg.Kafka.Topic != "" {
			pcfg.Topic = cfg.Kafka.Topic
		}
		p, err := producer.New(pcfg, log)
		if err != nil {
			return nil, err
		}
		a.producer = p
		opts = append(opts, service.WithEventPublisher(events.NewPublisher(p, pcfg.Topic)))
		checks.RegisterCheck("kafka", p.Ping)
	}

	var verifierOpts []siteverify.Option
	if cfg.Relay.SiteVerifyURL != "" {
		verifierOpts = append(verifierOpts, siteverify.WithURL(cfg.Relay.SiteVerifyURL))
	}

	svc := service.New(service.Config{
		SiteKey:        cfg.Relay.SiteKey,
		SecretKey:      cfg.Relay.SecretKey,
		SharedSecret:   cfg.Relay.SharedSecret,
		AuthorityURL:   cfg.Relay.AuthorityURL,
		ScoreThreshold: cfg.Relay.ScoreThreshold,
	},
		siteverify.New(cfg.Relay.SecretKey, verifierOpts...),
		authority.New(cfg.Relay.AuthorityURL, cfg.Relay.SharedSecret),
		opts...,
	)

	a.relay = svc
	ips := metadata.NewMiddleware(metadata.ParseTrustedProxies(cfg.TrustedProxies))
	a.router = newRouter(cfg, log, ips, checks, handler.New(svc, ips, log))
	return a, nil
}

func newRouter(cfg config.Server, log *slog.Logger, ips *metadata.Middleware, checks *health.Handler, relay *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(ips.Handler)
	r.Use(request.Logger(log))
	r.Use(request.LatencyMiddleware(request.NewMetrics()))

	checks.Register(r)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(cfg.RequestTimeout))
		r.Use(request.ContentTypeJSON)
		r.Use(request.BodyLimit(maxBodyBytes))
		relay.Register(r)
	})
	return r
}

func (a *app) close(ctx context.Context) {
	if a.relay != nil {
		if err := a.relay.Wait(ctx); err != nil {
			a.log.Warn("pending notifications abandoned", "error", err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(ctx); err != nil {
			a.log.Warn("kafka producer close", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close", "error", err)
		}
	}
}
