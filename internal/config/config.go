package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // market time zones on hosts without zoneinfo

	"gopkg.in/yaml.v3"

	"marketsync/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the sync tool.
type Config struct {
	Logging Logging `yaml:"logging"`
	// Source selects the market data provider: "cn" or "us".
	Source string `yaml:"source"`
	CN     CN     `yaml:"cn"`
	Alpaca Alpaca `yaml:"alpaca"`
	Sync   Sync   `yaml:"sync"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// CN holds endpoints for the A-share quote and data-center APIs.
type CN struct {
	KlineURL        string        `yaml:"kline_url"`
	DataCenterURL   string        `yaml:"datacenter_url"`
	ListURL         string        `yaml:"list_url"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`

	// SymbolsFile is an optional symbol,name CSV used instead of the
	// assets endpoint for stock_info.
	SymbolsFile string `yaml:"symbols_file"`
}

// Sync controls one sync pass.
type Sync struct {
	Dest          []string `yaml:"dest"`
	Kinds         []string `yaml:"kinds"`
	TaskN         int      `yaml:"task_n"`
	StartDate     string   `yaml:"start_date"`
	Symbols       []string `yaml:"symbols"`
	Indexes       []string `yaml:"indexes"`
	CalendarIndex string   `yaml:"calendar_index"`
	ChannelSize   int      `yaml:"channel_size"`
	Timezone      string   `yaml:"timezone"`
	CloseTime     string   `yaml:"close_time"`
	Retry         Retry    `yaml:"retry"`
}

// Retry configures the fetch retry policy.
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// Default values applied to unset fields.
const (
	DefaultStartDate     = "2010-01-01"
	DefaultTaskN         = 4
	DefaultChannelSize   = 64
	DefaultCalendarIndex = "sh000001"
	DefaultCloseTime     = "15:30"
	DefaultTimezone      = "Asia/Shanghai"
)

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", domain.ErrConfig, path, err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MARKETSYNC_SOURCE"); v != "" {
		cfg.Source = v
	}
	// Comma separated, replaces the configured list.
	if v := os.Getenv("MARKETSYNC_DEST"); v != "" {
		cfg.Sync.Dest = strings.Split(v, ",")
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Canonical SDK variable names take priority.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.Source == "" {
		cfg.Source = "cn"
	}
	s := &cfg.Sync
	if s.TaskN <= 0 {
		s.TaskN = DefaultTaskN
	}
	if s.StartDate == "" {
		s.StartDate = DefaultStartDate
	}
	if s.ChannelSize <= 0 {
		s.ChannelSize = DefaultChannelSize
	}
	if s.CalendarIndex == "" {
		s.CalendarIndex = DefaultCalendarIndex
	}
	if s.CloseTime == "" {
		s.CloseTime = DefaultCloseTime
	}
	if s.Timezone == "" {
		if cfg.Source == "us" {
			s.Timezone = "America/New_York"
		} else {
			s.Timezone = DefaultTimezone
		}
	}
	if len(s.Kinds) == 0 {
		s.Kinds = []string{string(domain.KindIndexDaily), string(domain.KindStockDaily)}
	}
	if s.Retry.Attempts <= 0 {
		s.Retry.Attempts = 3
	}
	if s.Retry.Delay <= 0 {
		s.Retry.Delay = time.Second
	}
	if s.Retry.MaxDelay <= 0 {
		s.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.CN.Timeout <= 0 {
		cfg.CN.Timeout = 15 * time.Second
	}
}

// Validate reports the first invalid field, wrapped in domain.ErrConfig.
func (cfg *Config) Validate() error {
	if cfg.Source != "cn" && cfg.Source != "us" {
		return fmt.Errorf("%w: source must be cn or us, got %q", domain.ErrConfig, cfg.Source)
	}
	if len(cfg.Sync.Dest) == 0 {
		return fmt.Errorf("%w: at least one sync.dest is required", domain.ErrConfig)
	}
	for _, d := range cfg.Sync.Dest {
		if _, err := ParseDest(d); err != nil {
			return err
		}
	}
	for _, k := range cfg.Sync.Kinds {
		if _, err := domain.ParseKind(k); err != nil {
			return err
		}
	}
	if _, err := cfg.StartDate(); err != nil {
		return err
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	if _, err := cfg.CloseOffset(); err != nil {
		return err
	}
	return nil
}

// StartDate is the parsed default start for symbols with no stored data.
func (cfg *Config) StartDate() (time.Time, error) {
	return domain.ParseDate(cfg.Sync.StartDate)
}

// Location is the market time zone used by the sync gate.
func (cfg *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", domain.ErrConfig, cfg.Sync.Timezone, err)
	}
	return loc, nil
}

// CloseOffset is the session close time as an offset from midnight.
func (cfg *Config) CloseOffset() (time.Duration, error) {
	t, err := time.Parse("15:04", cfg.Sync.CloseTime)
	if err != nil {
		return 0, fmt.Errorf("%w: close_time %q: %v", domain.ErrConfig, cfg.Sync.CloseTime, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
