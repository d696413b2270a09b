package config

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViperFromYAML(t *testing.T, raw string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetupViper(v, "")
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(raw)))
	return v
}

func TestFullConfig(t *testing.T) {
	v := newViperFromYAML(t, `
host: 0.0.0.0
port: 9000
partners:
  blocking:
    - name: consent
      active: true
      timeout_ms: 500
    - name: identity
      active: true
      timeout_ms: 300
      depends_on: consent
  independent:
    - name: moat
      active: true
  non_core:
    - name: heatmap
      active: false
  defaults:
    universal_timeout_ms: 4000
    min_timeout_ms: 250
adapters:
  pubkit:
    enabled: true
auction:
  base_timeout_ms: 1200
  fallback_buffer_ms: 300
  dimensions: [device, pageType]
  timeout_rules:
    - include:
        device: [mobile]
      modifier_ms: 400
archive:
  ttl_seconds: 600
`)
	cfg, err := New(v)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	require.Len(t, cfg.Partners.Blocking, 2)
	assert.Equal(t, "consent", cfg.Partners.Blocking[1].DependsOn)
	assert.Equal(t, 4000, cfg.Partners.Defaults.UniversalTimeoutMs)
	assert.Equal(t, 250, cfg.Partners.Defaults.MinTimeoutMs)
	assert.True(t, cfg.Adapters["pubkit"].Enabled)
	assert.Equal(t, 1200, cfg.Auction.BaseTimeoutMs)
	require.Len(t, cfg.Auction.TimeoutRules, 1)
	assert.Equal(t, []string{"mobile"}, cfg.Auction.TimeoutRules[0].Include["device"])
	assert.Equal(t, 400, cfg.Auction.TimeoutRules[0].ModifierMs)
	assert.Equal(t, 600, cfg.Archive.TTLSeconds)
}

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetupViper(v, "")
	cfg, err := New(v)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 3000, cfg.Partners.Defaults.UniversalTimeoutMs)
	assert.Equal(t, 2500, cfg.Partners.Defaults.IndependentTimeoutMs)
	assert.Equal(t, 5000, cfg.Partners.Defaults.NonCoreTimeoutMs)
	assert.Equal(t, 500, cfg.Partners.Defaults.MinTimeoutMs)
	assert.Equal(t, 1500, cfg.Auction.BaseTimeoutMs)
	assert.Equal(t, 400, cfg.Auction.FallbackBufferMs)
	assert.Equal(t, 900, cfg.Archive.TTLSeconds)
	assert.Equal(t, 60, cfg.Archive.PruneIntervalSeconds)
}

func TestValidationRejectsNegativeBudgets(t *testing.T) {
	testCases := []struct {
		description string
		yaml        string
	}{
		{
			description: "negative base timeout",
			yaml:        "auction:\n  base_timeout_ms: -1\n",
		},
		{
			description: "negative fallback buffer",
			yaml:        "auction:\n  fallback_buffer_ms: -50\n",
		},
		{
			description: "negative minimum timeout",
			yaml:        "partners:\n  defaults:\n    min_timeout_ms: -1\n",
		},
		{
			description: "negative partner timeout",
			yaml:        "partners:\n  blocking:\n    - name: consent\n      timeout_ms: -200\n",
		},
		{
			description: "nameless blocking partner",
			yaml:        "partners:\n  blocking:\n    - active: true\n      timeout_ms: 100\n",
		},
	}

	for _, test := range testCases {
		v := newViperFromYAML(t, test.yaml)
		_, err := New(v)
		assert.Error(t, err, test.description)
	}
}

func TestDanglingDependencyIsTolerated(t *testing.T) {
	v := newViperFromYAML(t, `
partners:
  blocking:
    - name: identity
      active: true
      timeout_ms: 300
      depends_on: missing
`)
	cfg, err := New(v)
	require.NoError(t, err, "a broken edge is a warning, not a startup failure")
	assert.Equal(t, "missing", cfg.Partners.Blocking[0].DependsOn)
}

func TestPartnerByNameSearchesAllTiers(t *testing.T) {
	cfg := Partners{
		Blocking:    []Partner{{Name: "consent"}},
		Independent: []Partner{{Name: "moat"}},
		NonCore:     []Partner{{Name: "heatmap"}},
	}

	for _, name := range []string{"consent", "moat", "heatmap"} {
		p, found := cfg.PartnerByName(name)
		require.True(t, found, name)
		assert.Equal(t, name, p.Name)
	}
	_, found := cfg.PartnerByName("nope")
	assert.False(t, found)
}
