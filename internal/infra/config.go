package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"stealth_twap/internal/adaptive"
	"stealth_twap/internal/analytics"
	"stealth_twap/internal/domain"
	"stealth_twap/internal/engine"
	"stealth_twap/internal/orders"
	"stealth_twap/internal/privacy"
	"stealth_twap/internal/venue"
	"stealth_twap/pkg/quant"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	VenueModePaper = "paper"
	VenueModeREST  = "rest"
)

// Config holds every setting of the application.
// LoadConfig reads the YAML file, then environment variables override secrets.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Engine struct {
		MEVWindow        time.Duration `yaml:"mev_window"`
		JitterMax        time.Duration `yaml:"jitter_max"`
		TimeInForce      uint8         `yaml:"time_in_force"`
		BatchConcurrency int           `yaml:"batch_concurrency"`
	} `yaml:"engine"`

	Orders struct {
		MinInterval time.Duration `yaml:"min_interval"`
		MaxSlices   int64         `yaml:"max_slices"`
	} `yaml:"orders"`

	Privacy struct {
		MinCommitDelay time.Duration `yaml:"min_commit_delay"`
		RevealWindow   time.Duration `yaml:"reveal_window"`
	} `yaml:"privacy"`

	Adaptive struct {
		HighVolatility          int64         `yaml:"high_volatility"`
		LiquidityThreshold      int64         `yaml:"liquidity_threshold"`
		SpreadThresholdBps      int64         `yaml:"spread_threshold_bps"`
		MinSizeFactorPct        int64         `yaml:"min_size_factor_pct"`
		MaxSizeFactorPct        int64         `yaml:"max_size_factor_pct"`
		LowLiquidityIntervalPct int64         `yaml:"low_liquidity_interval_pct"`
		LowActivityStartHour    int           `yaml:"low_activity_start_hour"`
		LowActivityEndHour      int           `yaml:"low_activity_end_hour"`
		MinInterval             time.Duration `yaml:"min_interval"`
		MinSpreadFloorBps       int64         `yaml:"min_spread_floor_bps"`
		MaxImpactBps            int64         `yaml:"max_impact_bps"`
	} `yaml:"adaptive"`

	Analytics struct {
		SlippageAlertBps         int64         `yaml:"slippage_alert_bps"`
		CostCeilingBps           int64         `yaml:"cost_ceiling_bps"`
		ElapsedCeiling           time.Duration `yaml:"elapsed_ceiling"`
		ExpectedIntervalPerSlice time.Duration `yaml:"expected_interval_per_slice"`
		VolatilityWindow         int           `yaml:"volatility_window"`
	} `yaml:"analytics"`

	Venue struct {
		Mode              string        `yaml:"mode"`
		RestURL           string        `yaml:"rest_url"`
		AccessKey         string        `yaml:"access_key"`
		SecretKey         string        `yaml:"secret_key"`
		Passphrase        string        `yaml:"passphrase"`
		Timeout           time.Duration `yaml:"timeout"`
		PaperAccountValue int64         `yaml:"paper_account_value"`
	} `yaml:"venue"`

	Feed struct {
		WSURL      string            `yaml:"ws_url"`
		Assets     map[string]uint32 `yaml:"assets"`
		StaleAfter time.Duration     `yaml:"stale_after"`
	} `yaml:"feed"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Debug struct {
		Addr string `yaml:"addr"`
	} `yaml:"debug"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns the built-in settings; LoadConfig starts from it.
func DefaultConfig() *Config {
	var c Config
	c.App.Name = "stealth-twap"

	ec := engine.DefaultConfig()
	c.Engine.MEVWindow = ec.MEVWindow
	c.Engine.JitterMax = ec.JitterMax
	c.Engine.TimeInForce = uint8(ec.TimeInForce)
	c.Engine.BatchConcurrency = 8

	ol := orders.DefaultLimits()
	c.Orders.MinInterval = ol.MinInterval
	c.Orders.MaxSlices = ol.MaxSlices

	pc := privacy.DefaultConfig()
	c.Privacy.MinCommitDelay = pc.MinCommitDelay
	c.Privacy.RevealWindow = pc.RevealWindow

	ac := adaptive.DefaultConfig()
	c.Adaptive.HighVolatility = ac.HighVolatility
	c.Adaptive.LiquidityThreshold = ac.LiquidityThreshold
	c.Adaptive.SpreadThresholdBps = ac.SpreadThresholdBps
	c.Adaptive.MinSizeFactorPct = ac.MinSizeFactorPct
	c.Adaptive.MaxSizeFactorPct = ac.MaxSizeFactorPct
	c.Adaptive.LowLiquidityIntervalPct = ac.LowLiquidityIntervalPct
	c.Adaptive.LowActivityStartHour = ac.LowActivityStartHour
	c.Adaptive.LowActivityEndHour = ac.LowActivityEndHour
	c.Adaptive.MinInterval = ac.MinInterval
	c.Adaptive.MinSpreadFloorBps = ac.MinSpreadFloorBps
	c.Adaptive.MaxImpactBps = ac.MaxImpactBps

	tc := analytics.DefaultConfig()
	c.Analytics.SlippageAlertBps = int64(tc.SlippageAlertBps)
	c.Analytics.CostCeilingBps = int64(tc.CostCeilingBps)
	c.Analytics.ElapsedCeiling = tc.ElapsedCeiling
	c.Analytics.ExpectedIntervalPerSlice = tc.ExpectedIntervalPerSlice
	c.Analytics.VolatilityWindow = 30

	c.Feed.StaleAfter = 30 * time.Second
	c.Venue.Mode = VenueModePaper
	c.Venue.Timeout = 10 * time.Second
	c.Storage.Path = "data/journal.db"
	c.Debug.Addr = "localhost:6060"
	c.Logging.Level = "info"
	return &c
}

// LoadConfig reads the YAML file at path over the defaults.
// A .env file next to the binary is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity. Errors are *domain.ConfigError.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
	}

	if c.Orders.MinInterval <= 0 {
		return invalid("orders.min_interval", "must be positive")
	}
	if c.Orders.MaxSlices <= 0 {
		return invalid("orders.max_slices", "must be positive")
	}
	if c.Privacy.MinCommitDelay < 0 || c.Privacy.RevealWindow <= c.Privacy.MinCommitDelay {
		return invalid("privacy.reveal_window", "must exceed min_commit_delay")
	}
	if c.Engine.MEVWindow < 0 || c.Engine.JitterMax < 0 {
		return invalid("engine", "windows must not be negative")
	}
	switch venue.TimeInForce(c.Engine.TimeInForce) {
	case venue.TIFAddLiquidityOnly, venue.TIFGoodTillCancel, venue.TIFImmediateOrCancel:
	default:
		return invalid("engine.time_in_force", "unknown value %d", c.Engine.TimeInForce)
	}
	if c.Adaptive.MinSizeFactorPct <= 0 || c.Adaptive.MinSizeFactorPct > c.Adaptive.MaxSizeFactorPct {
		return invalid("adaptive.min_size_factor_pct", "must be in (0, max_size_factor_pct]")
	}
	if c.Adaptive.LowActivityStartHour < 0 || c.Adaptive.LowActivityStartHour > 23 ||
		c.Adaptive.LowActivityEndHour < 0 || c.Adaptive.LowActivityEndHour > 23 {
		return invalid("adaptive.low_activity", "hours must be in [0, 23]")
	}
	if c.Analytics.VolatilityWindow < 2 {
		return invalid("analytics.volatility_window", "must be at least 2")
	}

	switch c.Venue.Mode {
	case VenueModePaper:
	case VenueModeREST:
		if !strings.HasPrefix(c.Venue.RestURL, "http://") && !strings.HasPrefix(c.Venue.RestURL, "https://") {
			return invalid("venue.rest_url", "invalid URL: %s", c.Venue.RestURL)
		}
		if c.Venue.AccessKey == "" || c.Venue.SecretKey == "" {
			return invalid("venue.access_key", "credentials required in rest mode")
		}
	default:
		return invalid("venue.mode", "unknown mode %q", c.Venue.Mode)
	}

	if c.Feed.WSURL != "" && !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return invalid("feed.ws_url", "invalid URL: %s", c.Feed.WSURL)
	}
	if c.Feed.StaleAfter <= 0 {
		return invalid("feed.stale_after", "must be positive")
	}
	if c.Feed.WSURL != "" && len(c.Feed.Assets) == 0 {
		return invalid("feed.assets", "at least one asset is required")
	}
	return nil
}

// overrideWithEnv overwrites secrets and endpoints from STWAP_* variables.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("STWAP_VENUE_KEY"); v != "" {
		cfg.Venue.AccessKey = v
	}
	if v := os.Getenv("STWAP_VENUE_SECRET"); v != "" {
		cfg.Venue.SecretKey = v
	}
	if v := os.Getenv("STWAP_VENUE_PASSPHRASE"); v != "" {
		cfg.Venue.Passphrase = v
	}
	if v := os.Getenv("STWAP_VENUE_URL"); v != "" {
		cfg.Venue.RestURL = v
	}
	if v := os.Getenv("STWAP_FEED_URL"); v != "" {
		cfg.Feed.WSURL = v
	}
	if v := os.Getenv("STWAP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ======================================================================================
// Component projections
// ======================================================================================

func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MEVWindow:   c.Engine.MEVWindow,
		JitterMax:   c.Engine.JitterMax,
		TimeInForce: venue.TimeInForce(c.Engine.TimeInForce),
	}
}

func (c *Config) OrderLimits() orders.Limits {
	return orders.Limits{MinInterval: c.Orders.MinInterval, MaxSlices: c.Orders.MaxSlices}
}

func (c *Config) PrivacyConfig() privacy.Config {
	return privacy.Config{MinCommitDelay: c.Privacy.MinCommitDelay, RevealWindow: c.Privacy.RevealWindow}
}

func (c *Config) AdaptiveConfig() adaptive.Config {
	a := c.Adaptive
	return adaptive.Config{
		HighVolatility:          a.HighVolatility,
		LiquidityThreshold:      a.LiquidityThreshold,
		SpreadThresholdBps:      a.SpreadThresholdBps,
		MinSizeFactorPct:        a.MinSizeFactorPct,
		MaxSizeFactorPct:        a.MaxSizeFactorPct,
		LowLiquidityIntervalPct: a.LowLiquidityIntervalPct,
		LowActivityStartHour:    a.LowActivityStartHour,
		LowActivityEndHour:      a.LowActivityEndHour,
		MinInterval:             a.MinInterval,
		MinSpreadFloorBps:       a.MinSpreadFloorBps,
		MaxImpactBps:            a.MaxImpactBps,
	}
}

func (c *Config) AnalyticsConfig() analytics.Config {
	return analytics.Config{
		SlippageAlertBps:         quant.Bps(c.Analytics.SlippageAlertBps),
		CostCeilingBps:           quant.Bps(c.Analytics.CostCeilingBps),
		ElapsedCeiling:           c.Analytics.ElapsedCeiling,
		ExpectedIntervalPerSlice: c.Analytics.ExpectedIntervalPerSlice,
	}
}

func (c *Config) RESTConfig() venue.RESTConfig {
	return venue.RESTConfig{
		BaseURL:    c.Venue.RestURL,
		AccessKey:  c.Venue.AccessKey,
		SecretKey:  c.Venue.SecretKey,
		Passphrase: c.Venue.Passphrase,
		Timeout:    c.Venue.Timeout,
	}
}
