package collector

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/geo"
	"gatekeeper/pkg/platform/clock"
)

const (
	uaChromeMac   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaEdgeWin     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91"
	uaOpera       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 OPR/105.0.0.0"
	uaSamsung     = "Mozilla/5.0 (Linux; Android 13; SM-S901B) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/23.0 Chrome/115.0.0.0 Mobile Safari/537.36"
	uaSafariPhone = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaChromeIOS   = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/120.0.6099.119 Mobile/15E148 Safari/604.1"
	uaFirefoxIOS  = "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) FxiOS/121.0 Mobile/15E148 Safari/605.1.15"
	uaFirefoxLnx  = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaAndroidTab  = "Mozilla/5.0 (Linux; Android 13; SM-X710) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaYandex      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 YaBrowser/23.11.0.0 Safari/537.36"
)

func TestHashString(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "0"},
		{"a", "61"},
		{"ab", "c21"},
		{"hello", "5e918d2"},
		{"é", "e9"},
		{"😀", "1b0d63"}, // surrogate pair hashed as two code units
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, HashString(tt.input))
		})
	}
}

func TestFingerprint(t *testing.T) {
	s := Signals{
		UserAgent:      "Mozilla/5.0",
		Language:       "en-US",
		Screen:         Screen{Width: 1920, Height: 1080, ColorDepth: 24},
		TimezoneOffset: -60,
		Platform:       "MacIntel",
		CookiesEnabled: true,
		CanvasDigest:   "abc",
	}

	t.Run("known vector", func(t *testing.T) {
		assert.Equal(t, "53b05b0b", Fingerprint(s))
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Fingerprint(s), Fingerprint(s))
	})

	t.Run("sensitive to every component", func(t *testing.T) {
		changed := s
		changed.CanvasDigest = "abd"
		assert.NotEqual(t, Fingerprint(s), Fingerprint(changed))
	})

	t.Run("components are ordered and delimited", func(t *testing.T) {
		want := []string{"Mozilla/5.0", "en-US", "1920x1080", "24", "-60", "MacIntel", "true", "abc"}
		assert.Empty(t, cmp.Diff(want, FingerprintComponents(s)))
	})
}

func TestClassifyAgent(t *testing.T) {
	tests := []struct {
		name        string
		ua          string
		wantBrowser string
		wantVersion string
		wantDevice  DeviceClass
	}{
		{"chrome desktop", uaChromeMac, "Chrome", "120.0.0.0", DeviceDesktop},
		{"edge beats chrome", uaEdgeWin, "Edge", "120.0.2210.91", DeviceDesktop},
		{"opera beats chrome", uaOpera, "Opera", "105.0.0.0", DeviceDesktop},
		{"samsung beats chrome", uaSamsung, "Samsung Internet", "23.0", DeviceMobile},
		{"yandex beats chrome", uaYandex, "Yandex", "23.11.0.0", DeviceDesktop},
		{"safari iphone", uaSafariPhone, "Safari", "17.0", DeviceMobile},
		{"chrome ios beats safari", uaChromeIOS, "Chrome", "120.0.6099.119", DeviceMobile},
		{"firefox ios on ipad", uaFirefoxIOS, "Firefox", "121.0", DeviceTablet},
		{"firefox linux", uaFirefoxLnx, "Firefox", "121.0", DeviceDesktop},
		{"android without Mobile is tablet", uaAndroidTab, "Chrome", "120.0.0.0", DeviceTablet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyAgent(tt.ua)
			assert.Equal(t, tt.wantBrowser, got.Browser)
			assert.Equal(t, tt.wantVersion, got.BrowserVersion)
			assert.Equal(t, tt.wantDevice, got.Device)
		})
	}

	t.Run("empty agent", func(t *testing.T) {
		got := ClassifyAgent("")
		assert.Equal(t, "Unknown", got.Browser)
		assert.Equal(t, "Unknown", got.OS)
		assert.Equal(t, DeviceDesktop, got.Device)
	})

	t.Run("os parsed by useragent", func(t *testing.T) {
		got := ClassifyAgent(uaFirefoxLnx)
		assert.Contains(t, got.OS, "Linux")
	})
}

type stubLocator struct {
	result  geo.Result
	gotIP   string
	gotTZ   string
	panicky bool
}

func (s *stubLocator) Locate(_ context.Context, ip, tz string) geo.Result {
	s.gotIP, s.gotTZ = ip, tz
	if s.panicky {
		panic("provider adapter bug")
	}
	return s.result
}

func TestCollect(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signals := Signals{
		UserAgent:      uaSafariPhone,
		Language:       "fr-FR",
		Languages:      []string{"fr-FR", "en"},
		Screen:         Screen{Width: 390, Height: 844, ColorDepth: 32, PixelRatio: 3},
		Timezone:       "Europe/Paris",
		TimezoneOffset: -60,
		Platform:       "iPhone",
		CookiesEnabled: true,
		MaxTouchPoints: 5,
		PublicIP:       "203.0.113.7",
	}

	t.Run("builds a complete snapshot", func(t *testing.T) {
		loc := &stubLocator{result: geo.Result{Status: geo.StatusResolved, Location: geo.Location{Country: "France", Timezone: "Europe/Paris"}}}
		c := New(loc, WithClock(clock.NewFake(at)))

		snap := c.Collect(context.Background(), Identity{ID: "42", Guild: "7"}, signals)

		assert.Equal(t, "203.0.113.7", loc.gotIP)
		assert.Equal(t, "Europe/Paris", loc.gotTZ)
		assert.Equal(t, "42", snap.Identity.ID)
		assert.Equal(t, "Safari", snap.Agent.Browser)
		assert.Equal(t, DeviceMobile, snap.Agent.Device)
		assert.True(t, snap.TouchCapable)
		assert.Equal(t, Fingerprint(signals), snap.Fingerprint)
		assert.Equal(t, "France", snap.Geo.Location.Country)
		assert.Equal(t, at, snap.CapturedAt)
	})

	t.Run("snapshot does not share slices with signals", func(t *testing.T) {
		in := signals
		in.Languages = []string{"fr-FR", "en"}
		snap := New(nil).Collect(context.Background(), Identity{ID: "42"}, in)

		in.Languages[0] = "de-DE"

		assert.Equal(t, "fr-FR", snap.Languages[0])
	})

	t.Run("missing locator degrades to unknown", func(t *testing.T) {
		snap := New(nil).Collect(context.Background(), Identity{ID: "42"}, signals)
		assert.Empty(t, cmp.Diff(geo.Unknown("Europe/Paris"), snap.Geo))
	})

	t.Run("locator panic degrades to unknown", func(t *testing.T) {
		snap := New(&stubLocator{panicky: true}).Collect(context.Background(), Identity{ID: "42"}, signals)
		require.False(t, snap.Geo.Resolved())
		assert.Equal(t, "Europe/Paris", snap.Geo.Location.Timezone)
	})

	t.Run("touch recorded independently of device class", func(t *testing.T) {
		desktopTouch := signals
		desktopTouch.UserAgent = uaChromeMac
		snap := New(nil).Collect(context.Background(), Identity{}, desktopTouch)
		assert.Equal(t, DeviceDesktop, snap.Agent.Device)
		assert.True(t, snap.TouchCapable)
	})
}
