// Package config provides configuration management for the grid bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalize when a field is left empty.
const (
	defaultTimezone          = "Asia/Shanghai"
	defaultRunCycle          = "1m"
	defaultFillPollInterval  = "3s"
	defaultSpacingMode       = "atr"
	defaultATRPeriod         = 14
	defaultMaxDeviation      = 0.10
	defaultFillCooldown      = "60s"
	defaultOrderDebounce     = "30s"
	defaultDuplicateFillWait = "5s"
	defaultProtectTickSize   = 0.001
	defaultProtectTicks      = 2
	defaultStateDir          = "state"
	defaultSymbolsFile       = "symbols.json"
	defaultReportsDir        = "reports"
	defaultHTMLInterval      = "5m"
	defaultStatusInterval    = "30m"
	defaultSpacingInterval   = "30m"
	defaultReloadInterval    = "5m"
	defaultBrokerTimeout     = "10s"
	defaultDashboardPort     = 8080
	defaultRedisPrefix       = "vagrid:"
	defaultPaperVolatility   = 0.002
)

// Config represents the complete application configuration.
type Config struct {
	Environment    EnvironmentConfig    `yaml:"environment"`
	Broker         BrokerConfig         `yaml:"broker"`
	Schedule       ScheduleConfig       `yaml:"schedule"`
	Grid           GridConfig           `yaml:"grid"`
	MarketFallback MarketFallbackConfig `yaml:"market_fallback"`
	Storage        StorageConfig        `yaml:"storage"`
	ParamStore     ParamStoreConfig     `yaml:"param_store"`
	Reports        ReportsConfig        `yaml:"reports"`
	Logging        LoggingConfig        `yaml:"logging"`
	Dashboard      DashboardConfig      `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	Provider       string      `yaml:"provider"` // bridge | paper
	APIKey         string      `yaml:"api_key"`
	APIEndpoint    string      `yaml:"api_endpoint"`
	Timeout        string      `yaml:"timeout"`
	CircuitBreaker bool        `yaml:"circuit_breaker"`
	Paper          PaperConfig `yaml:"paper"`
}

// PaperConfig tunes the in-process simulated broker.
type PaperConfig struct {
	// Volatility is the per-tick standard deviation of the simulated price walk.
	Volatility float64 `yaml:"volatility"`
	// SeedPositions starts each symbol holding its initial_base_position.
	SeedPositions bool `yaml:"seed_positions"`
}

// ScheduleConfig defines the A-share session clock. All times are "HH:MM" in Timezone.
type ScheduleConfig struct {
	Timezone         string `yaml:"timezone"`
	RunCycle         string `yaml:"run_cycle"`
	FillPollInterval string `yaml:"fill_poll_interval"`
	ReloadInterval   string `yaml:"reload_interval"`
	SpacingInterval  string `yaml:"spacing_interval"`
	StatusInterval   string `yaml:"status_interval"`

	AuctionStart   string `yaml:"auction_start"`
	AuctionEnd     string `yaml:"auction_end"`
	MorningOpen    string `yaml:"morning_open"`
	MorningClose   string `yaml:"morning_close"`
	AfternoonOpen  string `yaml:"afternoon_open"`
	AfternoonClose string `yaml:"afternoon_close"`
	OrderCutoff    string `yaml:"order_cutoff"`
	FallbackStart  string `yaml:"fallback_start"`
	FallbackEnd    string `yaml:"fallback_end"`
	EndOfDay       string `yaml:"end_of_day"`
}

// GridConfig defines grid placement behaviour.
type GridConfig struct {
	SpacingMode         string  `yaml:"spacing_mode"` // atr | hybrid
	ATRPeriod           int     `yaml:"atr_period"`
	MaxDeviation        float64 `yaml:"max_deviation"`
	FillCooldown        string  `yaml:"fill_cooldown"`
	OrderDebounce       string  `yaml:"order_debounce"`
	DuplicateFillWindow string  `yaml:"duplicate_fill_window"`
}

// MarketFallbackConfig controls the pre-close market order fallback.
type MarketFallbackConfig struct {
	Enabled         bool               `yaml:"enabled"`
	ProtectTickSize float64            `yaml:"protect_tick_size"`
	ProtectTicks    int                `yaml:"protect_ticks"`
	RetryEnabled    bool               `yaml:"retry_enabled"`
	TickSizes       map[string]float64 `yaml:"tick_sizes"` // per-symbol override
}

// StorageConfig defines where per-symbol state and the symbol list live.
type StorageConfig struct {
	StateDir    string `yaml:"state_dir"`
	SymbolsFile string `yaml:"symbols_file"`
}

// ParamStoreConfig selects the key/value mirror for symbol state.
type ParamStoreConfig struct {
	Provider string      `yaml:"provider"` // memory | redis | none
	Redis    RedisConfig `yaml:"redis"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ReportsConfig defines report output.
type ReportsConfig struct {
	Dir          string `yaml:"dir"`
	HTMLInterval string `yaml:"html_interval"`
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	File   string `yaml:"file"`   // empty logs to stdout only
	Format string `yaml:"format"` // text | json
}

// DashboardConfig defines the live HTTP dashboard.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate normalizes defaults and checks that all configuration values are valid.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}

	switch c.Broker.Provider {
	case "bridge":
		if c.Broker.APIEndpoint == "" {
			return fmt.Errorf("broker.api_endpoint is required for the bridge provider")
		}
	case "paper":
		if !c.IsPaperTrading() {
			return fmt.Errorf("broker.provider 'paper' requires environment.mode 'paper'")
		}
		if c.Broker.Paper.Volatility < 0 || c.Broker.Paper.Volatility > 0.1 {
			return fmt.Errorf("broker.paper.volatility must be between 0 and 0.1")
		}
	default:
		return fmt.Errorf("broker.provider must be 'bridge' or 'paper'")
	}
	if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
		return fmt.Errorf("broker.timeout invalid: %w", err)
	}

	if err := c.validateSchedule(); err != nil {
		return err
	}

	switch c.Grid.SpacingMode {
	case "atr", "hybrid":
	default:
		return fmt.Errorf("grid.spacing_mode must be 'atr' or 'hybrid'")
	}
	if c.Grid.ATRPeriod <= 0 {
		return fmt.Errorf("grid.atr_period must be > 0")
	}
	if c.Grid.MaxDeviation <= 0 || c.Grid.MaxDeviation >= 1 {
		return fmt.Errorf("grid.max_deviation must be in (0,1)")
	}
	for name, v := range map[string]string{
		"grid.fill_cooldown":         c.Grid.FillCooldown,
		"grid.order_debounce":        c.Grid.OrderDebounce,
		"grid.duplicate_fill_window": c.Grid.DuplicateFillWindow,
	} {
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			return fmt.Errorf("%s must be a non-negative duration", name)
		}
	}

	if c.MarketFallback.ProtectTickSize <= 0 {
		return fmt.Errorf("market_fallback.protect_tick_size must be > 0")
	}
	if c.MarketFallback.ProtectTicks < 0 {
		return fmt.Errorf("market_fallback.protect_ticks must be >= 0")
	}
	for sym, tick := range c.MarketFallback.TickSizes {
		if tick <= 0 {
			return fmt.Errorf("market_fallback.tick_sizes[%s] must be > 0", sym)
		}
	}

	switch c.ParamStore.Provider {
	case "memory", "none":
	case "redis":
		if c.ParamStore.Redis.Address == "" {
			return fmt.Errorf("param_store.redis.address is required for the redis provider")
		}
	default:
		return fmt.Errorf("param_store.provider must be 'memory', 'redis' or 'none'")
	}

	if _, err := time.ParseDuration(c.Reports.HTMLInterval); err != nil {
		return fmt.Errorf("reports.html_interval invalid: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json'")
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	return nil
}

func (c *Config) validateSchedule() error {
	s := c.Schedule
	for name, v := range map[string]string{
		"schedule.run_cycle":          s.RunCycle,
		"schedule.fill_poll_interval": s.FillPollInterval,
		"schedule.reload_interval":    s.ReloadInterval,
		"schedule.spacing_interval":   s.SpacingInterval,
		"schedule.status_interval":    s.StatusInterval,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	clocks := []struct {
		name, value string
	}{
		{"auction_start", s.AuctionStart},
		{"auction_end", s.AuctionEnd},
		{"morning_open", s.MorningOpen},
		{"morning_close", s.MorningClose},
		{"afternoon_open", s.AfternoonOpen},
		{"order_cutoff", s.OrderCutoff},
		{"fallback_start", s.FallbackStart},
		{"fallback_end", s.FallbackEnd},
		{"afternoon_close", s.AfternoonClose},
	}
	prev := -1
	for _, ck := range clocks {
		m, err := ParseClock(ck.value)
		if err != nil {
			return fmt.Errorf("schedule.%s invalid: %w", ck.name, err)
		}
		if m < prev {
			return fmt.Errorf("schedule.%s (%s) is out of order", ck.name, ck.value)
		}
		prev = m
	}
	if _, err := ParseClock(s.EndOfDay); err != nil {
		return fmt.Errorf("schedule.end_of_day invalid: %w", err)
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the exchange time zone, falling back to a fixed UTC+8 zone on
// minimal containers without tzdata.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

// GetRunCycle returns how often the trading cycle runs.
func (c *Config) GetRunCycle() time.Duration {
	return parseDurationOr(c.Schedule.RunCycle, time.Minute)
}

// GetFillPollInterval returns how often broker fills are polled.
func (c *Config) GetFillPollInterval() time.Duration {
	return parseDurationOr(c.Schedule.FillPollInterval, 3*time.Second)
}

// GetReloadInterval returns how often symbols.json is checked for changes.
func (c *Config) GetReloadInterval() time.Duration {
	return parseDurationOr(c.Schedule.ReloadInterval, 5*time.Minute)
}

// GetSpacingInterval returns how often grid spacing is recomputed.
func (c *Config) GetSpacingInterval() time.Duration {
	return parseDurationOr(c.Schedule.SpacingInterval, 30*time.Minute)
}

// GetStatusInterval returns how often the status report is logged.
func (c *Config) GetStatusInterval() time.Duration {
	return parseDurationOr(c.Schedule.StatusInterval, 30*time.Minute)
}

// GetHTMLInterval returns how often the HTML dashboard file is regenerated.
func (c *Config) GetHTMLInterval() time.Duration {
	return parseDurationOr(c.Reports.HTMLInterval, 5*time.Minute)
}

// GetBrokerTimeout returns the HTTP timeout for broker calls.
func (c *Config) GetBrokerTimeout() time.Duration {
	return parseDurationOr(c.Broker.Timeout, 10*time.Second)
}

// GetFillCooldown returns the quiet period after a fill during which the periodic
// cycle does not re-place the grid.
func (c *Config) GetFillCooldown() time.Duration {
	return parseDurationOr(c.Grid.FillCooldown, 60*time.Second)
}

// GetOrderDebounce returns the minimum gap between non-ratchet grid placements.
func (c *Config) GetOrderDebounce() time.Duration {
	return parseDurationOr(c.Grid.OrderDebounce, 30*time.Second)
}

// GetDuplicateFillWindow returns how long a same-price fill is treated as a duplicate.
func (c *Config) GetDuplicateFillWindow() time.Duration {
	return parseDurationOr(c.Grid.DuplicateFillWindow, 5*time.Second)
}

// TickSize returns the protect tick size for symbol.
func (c *Config) TickSize(symbol string) float64 {
	if v, ok := c.MarketFallback.TickSizes[symbol]; ok && v > 0 {
		return v
	}
	if c.MarketFallback.ProtectTickSize > 0 {
		return c.MarketFallback.ProtectTickSize
	}
	return defaultProtectTickSize
}

func parseDurationOr(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// normalize sets default values for empty fields.
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = "bridge"
	}
	if c.Broker.Timeout == "" {
		c.Broker.Timeout = defaultBrokerTimeout
	}
	if c.Broker.Paper.Volatility == 0 {
		c.Broker.Paper.Volatility = defaultPaperVolatility
	}
	c.normalizeSchedule()

	g := &c.Grid
	if g.SpacingMode == "" {
		g.SpacingMode = defaultSpacingMode
	}
	if g.ATRPeriod == 0 {
		g.ATRPeriod = defaultATRPeriod
	}
	if g.MaxDeviation == 0 {
		g.MaxDeviation = defaultMaxDeviation
	}
	if g.FillCooldown == "" {
		g.FillCooldown = defaultFillCooldown
	}
	if g.OrderDebounce == "" {
		g.OrderDebounce = defaultOrderDebounce
	}
	if g.DuplicateFillWindow == "" {
		g.DuplicateFillWindow = defaultDuplicateFillWait
	}

	if c.MarketFallback.ProtectTickSize == 0 {
		c.MarketFallback.ProtectTickSize = defaultProtectTickSize
	}
	if c.MarketFallback.ProtectTicks == 0 {
		c.MarketFallback.ProtectTicks = defaultProtectTicks
	}

	if c.Storage.StateDir == "" {
		c.Storage.StateDir = defaultStateDir
	}
	if c.Storage.SymbolsFile == "" {
		c.Storage.SymbolsFile = defaultSymbolsFile
	}
	if c.ParamStore.Provider == "" {
		c.ParamStore.Provider = "memory"
	}
	if c.ParamStore.Redis.KeyPrefix == "" {
		c.ParamStore.Redis.KeyPrefix = defaultRedisPrefix
	}
	if c.Reports.Dir == "" {
		c.Reports.Dir = defaultReportsDir
	}
	if c.Reports.HTMLInterval == "" {
		c.Reports.HTMLInterval = defaultHTMLInterval
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
}

func (c *Config) normalizeSchedule() {
	s := &c.Schedule
	set := func(field *string, v string) {
		if *field == "" {
			*field = v
		}
	}
	set(&s.Timezone, defaultTimezone)
	set(&s.RunCycle, defaultRunCycle)
	set(&s.FillPollInterval, defaultFillPollInterval)
	set(&s.ReloadInterval, defaultReloadInterval)
	set(&s.SpacingInterval, defaultSpacingInterval)
	set(&s.StatusInterval, defaultStatusInterval)
	set(&s.AuctionStart, "09:15")
	set(&s.AuctionEnd, "09:25")
	set(&s.MorningOpen, "09:30")
	set(&s.MorningClose, "11:30")
	set(&s.AfternoonOpen, "13:00")
	set(&s.AfternoonClose, "15:00")
	set(&s.OrderCutoff, "14:50")
	set(&s.FallbackStart, "14:55")
	set(&s.FallbackEnd, "14:57")
	set(&s.EndOfDay, "14:55")
}
