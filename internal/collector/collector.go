// Package collector assembles the environment snapshot attached to a
// verification attempt: agent traits, display and network traits, a stability
// fingerprint and a best-effort geolocation.
package collector

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"gatekeeper/internal/geo"
	"gatekeeper/pkg/platform/clock"
)

// Identity carries the opaque identity hints passed in with an attempt.
type Identity struct {
	ID        string `json:"id"`
	Guild     string `json:"guild,omitempty"`
	GuildName string `json:"guildName,omitempty"`
}

// Screen is the observed display geometry.
type Screen struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AvailWidth  int     `json:"availWidth"`
	AvailHeight int     `json:"availHeight"`
	ColorDepth  int     `json:"colorDepth"`
	PixelRatio  float64 `json:"pixelRatio"`
}

// Connection is the observed network information.
type Connection struct {
	EffectiveType string  `json:"effectiveType,omitempty"`
	DownlinkMbps  float64 `json:"downlink,omitempty"`
	RTTMillis     int     `json:"rtt,omitempty"`
	SaveData      bool    `json:"saveData"`
}

// Signals are the raw client-observable inputs.
type Signals struct {
	UserAgent           string     `json:"userAgent"`
	Language            string     `json:"language"`
	Languages           []string   `json:"languages,omitempty"`
	Screen              Screen     `json:"screen"`
	Timezone            string     `json:"timezone"`
	TimezoneOffset      int        `json:"timezoneOffset"` // minutes, positive west of UTC
	Platform            string     `json:"platform"`
	CookiesEnabled      bool       `json:"cookiesEnabled"`
	MaxTouchPoints      int        `json:"maxTouchPoints"`
	HardwareConcurrency int        `json:"hardwareConcurrency,omitempty"`
	DeviceMemoryGB      float64    `json:"deviceMemory,omitempty"`
	Connection          Connection `json:"connection"`
	CanvasDigest        string     `json:"canvasDigest,omitempty"`
	PublicIP            string     `json:"publicIp,omitempty"`
}

// Snapshot is the immutable per-attempt environment record. It is a value
// type; slices are copied on construction and never shared with Signals.
type Snapshot struct {
	Identity            Identity   `json:"identity"`
	Agent               Agent      `json:"agent"`
	UserAgent           string     `json:"userAgent"`
	Language            string     `json:"language"`
	Languages           []string   `json:"languages,omitempty"`
	Screen              Screen     `json:"screen"`
	Timezone            string     `json:"timezone"`
	TimezoneOffset      int        `json:"timezoneOffset"`
	Platform            string     `json:"platform"`
	CookiesEnabled      bool       `json:"cookiesEnabled"`
	TouchCapable        bool       `json:"touchCapable"`
	MaxTouchPoints      int        `json:"maxTouchPoints"`
	HardwareConcurrency int        `json:"hardwareConcurrency,omitempty"`
	DeviceMemoryGB      float64    `json:"deviceMemory,omitempty"`
	Connection          Connection `json:"connection"`
	Fingerprint         string     `json:"fingerprint"`
	Geo                 geo.Result `json:"geo"`
	CapturedAt          time.Time  `json:"capturedAt"`
}

// Locator resolves geolocation; it must never fail.
type Locator interface {
	Locate(ctx context.Context, ip, timezone string) geo.Result
}

// Collector builds snapshots.
type Collector struct {
	locator Locator
	clock   clock.Clock
	logger  *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

func WithClock(c clock.Clock) Option {
	return func(col *Collector) { col.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(col *Collector) { col.logger = l }
}

// New creates a Collector. A nil locator always yields the Unknown geolocation.
func New(locator Locator, opts ...Option) *Collector {
	c := &Collector{
		locator: locator,
		clock:   clock.Real(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect builds the snapshot. Only the geolocation lookup blocks.
func (c *Collector) Collect(ctx context.Context, identity Identity, s Signals) Snapshot {
	snap := Snapshot{
		Identity:            identity,
		Agent:               ClassifyAgent(s.UserAgent),
		UserAgent:           s.UserAgent,
		Language:            s.Language,
		Languages:           slices.Clone(s.Languages),
		Screen:              s.Screen,
		Timezone:            s.Timezone,
		TimezoneOffset:      s.TimezoneOffset,
		Platform:            s.Platform,
		CookiesEnabled:      s.CookiesEnabled,
		TouchCapable:        s.MaxTouchPoints > 0,
		MaxTouchPoints:      s.MaxTouchPoints,
		HardwareConcurrency: s.HardwareConcurrency,
		DeviceMemoryGB:      s.DeviceMemoryGB,
		Connection:          s.Connection,
		Fingerprint:         Fingerprint(s),
	}
	snap.Geo = c.locate(ctx, s)
	snap.CapturedAt = c.clock.Now().UTC()

	c.logger.DebugContext(ctx, "environment collected",
		"browser", snap.Agent.Browser,
		"device", snap.Agent.Device,
		"geo_status", snap.Geo.Status,
	)
	return snap
}

func (c *Collector) locate(ctx context.Context, s Signals) (res geo.Result) {
	if c.locator == nil {
		return geo.Unknown(s.Timezone)
	}
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.ErrorContext(ctx, "geolocation panicked", "panic", rec)
			res = geo.Unknown(s.Timezone)
		}
	}()
	return c.locator.Locate(ctx, s.PublicIP, s.Timezone)
}
