package config

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/viper"
)

// Configuration
type Configuration struct {
	Host     string             `mapstructure:"host"`
	Port     int                `mapstructure:"port"`
	Partners Partners           `mapstructure:"partners"`
	Adapters map[string]Adapter `mapstructure:"adapters"`
	Auction  Auction            `mapstructure:"auction"`
	Archive  Archive            `mapstructure:"archive"`
}

// Partners holds the three partner tiers plus the timeout defaults. Tier
// membership is structural: a partner belongs to whichever list it appears in.
type Partners struct {
	Blocking    []Partner `mapstructure:"blocking"`
	Independent []Partner `mapstructure:"independent"`
	NonCore     []Partner `mapstructure:"non_core"`
	Defaults    Defaults  `mapstructure:"defaults"`
}

// Partner is defined once at configuration load and is immutable for the
// process lifetime. TimeoutMs and DependsOn are only meaningful for the
// blocking tier.
type Partner struct {
	Name      string `mapstructure:"name"`
	Active    bool   `mapstructure:"active"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
	DependsOn string `mapstructure:"depends_on"`
}

type Defaults struct {
	UniversalTimeoutMs   int `mapstructure:"universal_timeout_ms"`
	IndependentTimeoutMs int `mapstructure:"independent_timeout_ms"`
	NonCoreTimeoutMs     int `mapstructure:"non_core_timeout_ms"`
	MinTimeoutMs         int `mapstructure:"min_timeout_ms"`
}

// Adapter holds per-adapter host configuration, keyed by adapter name.
type Adapter struct {
	Enabled bool `mapstructure:"enabled"`
}

// Auction configures per-unit auction budgets. The effective timeout for a
// unit is BaseTimeoutMs plus the sum of every TimeoutRule whose include and
// exclude sets match the request context; the fallback timer for each adapter
// is armed at effective timeout plus FallbackBufferMs.
type Auction struct {
	BaseTimeoutMs    int           `mapstructure:"base_timeout_ms"`
	FallbackBufferMs int           `mapstructure:"fallback_buffer_ms"`
	TimeoutRules     []TimeoutRule `mapstructure:"timeout_rules"`
	Dimensions       []string      `mapstructure:"dimensions"`
}

// TimeoutRule adds ModifierMs to the unit timeout when the rule matches the
// request's dimension context. Modifiers are additive across matching rules.
type TimeoutRule struct {
	Include    map[string][]string `mapstructure:"include"`
	Exclude    map[string][]string `mapstructure:"exclude"`
	ModifierMs int                 `mapstructure:"modifier_ms"`
}

// Archive configures retention of cleared per-unit auction state.
type Archive struct {
	TTLSeconds           int `mapstructure:"ttl_seconds"`
	PruneIntervalSeconds int `mapstructure:"prune_interval_seconds"`
}

// New uses viper to build and validate our configuration.
func New(v *viper.Viper) (*Configuration, error) {
	var c Configuration
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("viper failed to unmarshal app config: %v", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (cfg *Configuration) validate() error {
	if cfg.Auction.BaseTimeoutMs < 0 {
		return fmt.Errorf("auction.base_timeout_ms must be non-negative. Got %d", cfg.Auction.BaseTimeoutMs)
	}
	if cfg.Auction.FallbackBufferMs < 0 {
		return fmt.Errorf("auction.fallback_buffer_ms must be non-negative. Got %d", cfg.Auction.FallbackBufferMs)
	}
	if cfg.Partners.Defaults.MinTimeoutMs < 0 {
		return fmt.Errorf("partners.defaults.min_timeout_ms must be non-negative. Got %d", cfg.Partners.Defaults.MinTimeoutMs)
	}

	blocking := make(map[string]bool, len(cfg.Partners.Blocking))
	for _, p := range cfg.Partners.Blocking {
		if p.Name == "" {
			return fmt.Errorf("partners.blocking entries require a name")
		}
		if p.TimeoutMs < 0 {
			return fmt.Errorf("partner %q timeout_ms must be non-negative. Got %d", p.Name, p.TimeoutMs)
		}
		blocking[p.Name] = true
	}

	// A dangling depends_on degrades the computed budget, it must never block
	// ad delivery. Warn and keep going.
	for _, p := range cfg.Partners.Blocking {
		if p.DependsOn != "" && !blocking[p.DependsOn] {
			glog.Warningf("partner %q depends_on %q, which is not a blocking partner; the edge will be ignored", p.Name, p.DependsOn)
		}
	}
	return nil
}

// PartnerByName finds a partner across all three tiers. The bool reports
// whether the name was found at all.
func (cfg *Partners) PartnerByName(name string) (Partner, bool) {
	for _, tier := range [][]Partner{cfg.Blocking, cfg.Independent, cfg.NonCore} {
		for _, p := range tier {
			if p.Name == name {
				return p, true
			}
		}
	}
	return Partner{}, false
}

// SetupViper registers defaults and environment overrides. If filename is
// non-empty, a config file by that name is merged in when present.
func SetupViper(v *viper.Viper, filename string) {
	if filename != "" {
		v.SetConfigName(filename)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/config")
	}

	v.SetDefault("host", "")
	v.SetDefault("port", 8000)
	v.SetDefault("partners.defaults.universal_timeout_ms", 3000)
	v.SetDefault("partners.defaults.independent_timeout_ms", 2500)
	v.SetDefault("partners.defaults.non_core_timeout_ms", 5000)
	v.SetDefault("partners.defaults.min_timeout_ms", 500)
	v.SetDefault("auction.base_timeout_ms", 1500)
	v.SetDefault("auction.fallback_buffer_ms", 400)
	v.SetDefault("archive.ttl_seconds", 900)
	v.SetDefault("archive.prune_interval_seconds", 60)

	v.SetEnvPrefix("ADCOORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.ReadInConfig()
}
