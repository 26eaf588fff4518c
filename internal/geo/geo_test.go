package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/resolver"
)

func TestAdapters(t *testing.T) {
	tests := []struct {
		adapter string
		body    string
		want    Location
		wantErr bool
	}{
		{
			adapter: "ipapi.co",
			body:    `{"ip":"203.0.113.7","city":"Lyon","region":"Auvergne-Rhone-Alpes","country_name":"France","country_code":"FR","timezone":"Europe/Paris","latitude":45.75,"longitude":4.85}`,
			want:    Location{IP: "203.0.113.7", Country: "France", CountryCode: "FR", Region: "Auvergne-Rhone-Alpes", City: "Lyon", Timezone: "Europe/Paris", Latitude: 45.75, Longitude: 4.85},
		},
		{adapter: "ipapi.co", body: `{"error":true,"reason":"RateLimited"}`, wantErr: true},
		{
			adapter: "ipwho.is",
			body:    `{"ip":"203.0.113.7","success":true,"country":"Japan","country_code":"JP","region":"Tokyo","city":"Tokyo","latitude":35.6,"longitude":139.7,"timezone":{"id":"Asia/Tokyo"}}`,
			want:    Location{IP: "203.0.113.7", Country: "Japan", CountryCode: "JP", Region: "Tokyo", City: "Tokyo", Timezone: "Asia/Tokyo", Latitude: 35.6, Longitude: 139.7},
		},
		{adapter: "ipwho.is", body: `{"success":false,"message":"Invalid IP address"}`, wantErr: true},
		{
			adapter: "freeipapi",
			body:    `{"ipAddress":"203.0.113.7","countryName":"Brazil","countryCode":"BR","regionName":"Sao Paulo","cityName":"Sao Paulo","timeZone":"-03:00","latitude":-23.5,"longitude":-46.6}`,
			want:    Location{IP: "203.0.113.7", Country: "Brazil", CountryCode: "BR", Region: "Sao Paulo", City: "Sao Paulo", Timezone: "-03:00", Latitude: -23.5, Longitude: -46.6},
		},
		{adapter: "freeipapi", body: `{"ipAddress":"10.0.0.1","countryName":"-"}`, wantErr: true},
		{
			adapter: "ip-api.com",
			body:    `{"status":"success","query":"203.0.113.7","country":"Canada","countryCode":"CA","regionName":"Quebec","city":"Montreal","timezone":"America/Toronto","lat":45.5,"lon":-73.6}`,
			want:    Location{IP: "203.0.113.7", Country: "Canada", CountryCode: "CA", Region: "Quebec", City: "Montreal", Timezone: "America/Toronto", Latitude: 45.5, Longitude: -73.6},
		},
		{adapter: "ip-api.com", body: `{"status":"fail","message":"private range"}`, wantErr: true},
		{adapter: "ip-api.com", body: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.adapter, func(t *testing.T) {
			got, err := Adapters[tt.adapter]([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandURL(t *testing.T) {
	assert.Equal(t, "https://ipapi.co/203.0.113.7/json/", ExpandURL("https://ipapi.co/{ip}/json/", "203.0.113.7"))
	assert.Equal(t, "https://ipapi.co/json/", ExpandURL("https://ipapi.co/{ip}/json/", ""))
	assert.Equal(t, "https://ipwho.is/", ExpandURL("https://ipwho.is/{ip}", ""))
	assert.Equal(t, "https://ipwho.is/2001:db8::1", ExpandURL("https://ipwho.is/{ip}", "2001:db8::1"))
}

func TestUnknown(t *testing.T) {
	r := Unknown("Europe/Berlin")
	assert.False(t, r.Resolved())
	assert.Equal(t, UnknownValue, r.Location.Country)
	assert.Equal(t, UnknownValue, r.Location.Region)
	assert.Equal(t, UnknownValue, r.Location.City)
	assert.Equal(t, "Europe/Berlin", r.Location.Timezone)

	assert.Equal(t, "UTC", Unknown("").Location.Timezone)
}

func newLocator(t *testing.T, cache Cache, urls ...string) *Locator {
	t.Helper()
	descs := make([]resolver.Descriptor, 0, len(urls))
	for i, u := range urls {
		descs = append(descs, resolver.Descriptor{ID: []string{"first", "second", "third"}[i], URL: u + "/{ip}", Adapter: "ip-api.com"})
	}
	l, err := NewLocator(LocatorConfig{
		Providers: descs,
		Cache:     cache,
		Resolver:  resolver.Config{Timeout: time.Second},
	})
	require.NoError(t, err)
	return l
}

func TestLocator(t *testing.T) {
	t.Run("falls back to the next provider and records the source", func(t *testing.T) {
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer down.Close()
		up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/198.51.100.4", r.URL.Path)
			_, _ = w.Write([]byte(`{"status":"success","country":"Chile","regionName":"RM","city":"Santiago"}`))
		}))
		defer up.Close()

		res := newLocator(t, nil, down.URL, up.URL).Locate(context.Background(), "198.51.100.4", "America/Santiago")

		require.True(t, res.Resolved())
		assert.Equal(t, "Chile", res.Location.Country)
		assert.Equal(t, "second", res.Location.Source)
		assert.Equal(t, "198.51.100.4", res.Location.IP)
		// provider gave no timezone: the local one fills in
		assert.Equal(t, "America/Santiago", res.Location.Timezone)
	})

	t.Run("exhaustion degrades to Unknown with local timezone", func(t *testing.T) {
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer down.Close()
		cache := NewMemoryCache(time.Minute)

		res := newLocator(t, cache, down.URL, down.URL).Locate(context.Background(), "198.51.100.4", "Asia/Kolkata")

		assert.Equal(t, Unknown("Asia/Kolkata"), res)
		_, err := cache.Get(context.Background(), "198.51.100.4")
		assert.ErrorIs(t, err, ErrCacheMiss, "unknown results are not cached")
	})

	t.Run("cached location skips providers", func(t *testing.T) {
		var calls atomic.Int32
		up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte(`{"status":"success","country":"Chile","timezone":"America/Santiago"}`))
		}))
		defer up.Close()
		l := newLocator(t, NewMemoryCache(time.Minute), up.URL)

		first := l.Locate(context.Background(), "198.51.100.4", "")
		second := l.Locate(context.Background(), "198.51.100.4", "")

		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("caller leaving early does not cancel the shared lookup", func(t *testing.T) {
		var calls atomic.Int32
		gate := make(chan struct{})
		var release sync.Once
		up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
			_, _ = w.Write([]byte(`{"status":"success","country":"Chile","timezone":"America/Santiago"}`))
		}))
		defer up.Close()
		defer release.Do(func() { close(gate) })
		cache := NewMemoryCache(time.Minute)
		l := newLocator(t, cache, up.URL)

		impatient := make(chan Result, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			impatient <- l.Locate(ctx, "198.51.100.4", "UTC")
		}()
		require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

		patient := make(chan Result, 1)
		go func() { patient <- l.Locate(context.Background(), "198.51.100.4", "UTC") }()

		assert.Equal(t, Unknown("UTC"), <-impatient)
		release.Do(func() { close(gate) })
		res := <-patient
		require.True(t, res.Resolved())
		assert.Equal(t, "Chile", res.Location.Country)
		assert.Equal(t, int32(1), calls.Load())
		_, err := cache.Get(context.Background(), "198.51.100.4")
		assert.NoError(t, err)
	})

	t.Run("unknown adapter is rejected at construction", func(t *testing.T) {
		_, err := NewLocator(LocatorConfig{Providers: []resolver.Descriptor{{ID: "x", URL: "http://x", Adapter: "nope"}}})
		assert.Error(t, err)
	})
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(context.Background(), "203.0.113.7", Location{Country: "France"}))
	loc, err := c.Get(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "France", loc.Country)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(context.Background(), "203.0.113.7")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
