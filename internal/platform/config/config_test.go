package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/geo"
	"gatekeeper/internal/publicip"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"GATEKEEPER_ADDR", "SCORE_THRESHOLD", "PROVIDER_TIMEOUT", "REDIS_URL", "KAFKA_BROKERS", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0.5, cfg.Relay.ScoreThreshold)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, time.Hour, cfg.Redis.GeoCacheTTL)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GATEKEEPER_ADDR", ":9090")
	t.Setenv("RECAPTCHA_SITE_KEY", "site")
	t.Setenv("RECAPTCHA_SECRET_KEY", "secret")
	t.Setenv("RELAY_SHARED_SECRET", "shared")
	t.Setenv("AUTHORITY_URL", "http://authority")
	t.Setenv("SCORE_THRESHOLD", "0.7")
	t.Setenv("PROVIDER_TIMEOUT", "2s")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, Relay{
		SiteKey:        "site",
		SecretKey:      "secret",
		SharedSecret:   "shared",
		AuthorityURL:   "http://authority",
		ScoreThreshold: 0.7,
	}, cfg.Relay)
	assert.Equal(t, 2*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "a:9092,b:9092", cfg.Kafka.Brokers)
}

func TestFromEnvRejectsOutOfRangeThreshold(t *testing.T) {
	for _, v := range []string{"1.5", "-0.1", "abc", "0"} {
		t.Setenv("SCORE_THRESHOLD", v)
		assert.Equal(t, DefaultScoreThreshold, FromEnv().Relay.ScoreThreshold, v)
	}
}

func TestEmbeddedProvidersMatchBuiltins(t *testing.T) {
	p, err := LoadProviders("")
	require.NoError(t, err)

	assert.Equal(t, geo.DefaultProviders, p.Geolocation)
	assert.Equal(t, publicip.DefaultProviders, p.PublicIP)
	assert.Equal(t, 3, p.Breaker.Threshold)
	assert.Equal(t, time.Minute, p.Breaker.Cooldown)
}

func TestLoadProvidersFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
geolocation:
  - id: only
    url: https://geo.example/{ip}
    adapter: ipwho.is
`), 0o600))

	p, err := LoadProviders(path)

	require.NoError(t, err)
	require.Len(t, p.Geolocation, 1)
	assert.Equal(t, "only", p.Geolocation[0].ID)
	assert.Empty(t, p.PublicIP)
}

func TestParseProvidersErrors(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "geolocation: []\nextra: true\n",
		"missing url":   "publicip:\n  - id: a\n    adapter: text\n",
		"duplicate id":  "publicip:\n  - {id: a, url: u, adapter: text}\n  - {id: a, url: v, adapter: text}\n",
		"not a mapping": "- a\n- b\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProviders([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := LoadProviders(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read providers file")
}
