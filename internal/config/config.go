package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/meridian-lab/meridian-trading/internal/version"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Config is the top-level engine configuration, loaded from one YAML file.
// Credentials are never stored in the file; they are resolved from the
// environment (see resolveCredentials).
type Config struct {
	// SchemaVersion must be compatible with the engine version
	// (major+minor match, patch free).
	SchemaVersion string `yaml:"schema_version" json:"schema_version" jsonschema:"title=Schema Version,description=Config schema version checked against the engine version" validate:"required"`

	Instruments []InstrumentConfig `yaml:"instruments" json:"instruments" jsonschema:"title=Instruments,description=Tradable instruments the engine supervises" validate:"required,min=1,dive"`

	Market    MarketConfig    `yaml:"market" json:"market"`
	Bars      BarsConfig      `yaml:"bars" json:"bars"`
	Signal    SignalConfig    `yaml:"signal" json:"signal"`
	Risk      RiskConfig      `yaml:"risk" json:"risk"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Execution ExecutionConfig `yaml:"execution" json:"execution"`
	Broker    BrokerConfig    `yaml:"broker" json:"broker"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Worker    WorkerConfig    `yaml:"worker" json:"worker"`
	Notify    NotifyConfig    `yaml:"notify" json:"notify"`
	Audit     AuditConfig     `yaml:"audit" json:"audit"`
	Ops       OpsConfig       `yaml:"ops" json:"ops"`
}

// InstrumentConfig describes one tradable instrument.
type InstrumentConfig struct {
	Symbol string `yaml:"symbol" json:"symbol" jsonschema:"title=Symbol" validate:"required"`
	// TickSize is the minimum price increment, as a decimal string.
	TickSize string `yaml:"tick_size" json:"tick_size" jsonschema:"title=Tick Size,description=Minimum price increment" validate:"required"`
	// Quantity is the fixed order quantity, as a decimal string.
	Quantity string `yaml:"quantity" json:"quantity" jsonschema:"title=Quantity" validate:"required"`
	// StopLossPct and TargetPct size the bracket exits relative to entry.
	StopLossPct float64 `yaml:"stop_loss_pct" json:"stop_loss_pct" validate:"gt=0,lt=1"`
	TargetPct   float64 `yaml:"target_pct" json:"target_pct" validate:"gt=0,lt=1"`
}

// MarketConfig fixes the trading-day boundaries.
type MarketConfig struct {
	// Timezone is the exchange timezone, e.g. "America/New_York".
	Timezone string `yaml:"timezone" json:"timezone" validate:"required"`
	// OpenTime and CloseTime are clock times in 15:04 format.
	OpenTime  string `yaml:"open_time" json:"open_time" validate:"required"`
	CloseTime string `yaml:"close_time" json:"close_time" validate:"required"`
	// PreConnectMinutes is how long before the open the session connects.
	PreConnectMinutes int `yaml:"pre_connect_minutes" json:"pre_connect_minutes" validate:"gte=0"`
	// ForceExitMinutes is how long before the close open positions are
	// closed unconditionally.
	ForceExitMinutes int `yaml:"force_exit_minutes" json:"force_exit_minutes" validate:"gte=0"`
	// Holidays are non-trading dates in 2006-01-02 format.
	Holidays []string `yaml:"holidays" json:"holidays"`
}

// BarsConfig tunes the per-instrument bar aggregator.
type BarsConfig struct {
	// MaxBars is the 1-minute retention window (2880 = two trading days of
	// round-the-clock minutes).
	MaxBars int `yaml:"max_bars" json:"max_bars" validate:"gt=0"`
	// CompletenessBufferSeconds is how far wall-clock time must be past a
	// derived bar's close before the bar is handed to the signal layer.
	CompletenessBufferSeconds int `yaml:"completeness_buffer_seconds" json:"completeness_buffer_seconds" validate:"gte=0"`
	// HistoricalDays is how many days of 1m history to backfill at connect.
	HistoricalDays int `yaml:"historical_days" json:"historical_days" validate:"gte=1"`
}

// SignalConfig carries every signal threshold. The numeric defaults were
// tuned empirically; treat them as configuration, not law.
type SignalConfig struct {
	RearmWindowMinutes int     `yaml:"rearm_window_minutes" json:"rearm_window_minutes" validate:"gt=0"`
	MaxEntryChecks     int     `yaml:"max_entry_checks" json:"max_entry_checks" validate:"gt=0"`
	MACDMinHist        float64 `yaml:"macd_min_hist" json:"macd_min_hist" validate:"gte=0"`
	RSIBullMin         float64 `yaml:"rsi_bull_min" json:"rsi_bull_min" validate:"gte=0,lte=100"`
	RSIBearMax         float64 `yaml:"rsi_bear_max" json:"rsi_bear_max" validate:"gte=0,lte=100"`
	RSIEntryBullMin    float64 `yaml:"rsi_entry_bull_min" json:"rsi_entry_bull_min" validate:"gte=0,lte=100"`
	RSIEntryBullMax    float64 `yaml:"rsi_entry_bull_max" json:"rsi_entry_bull_max" validate:"gte=0,lte=100"`
	RSIEntryBearMin    float64 `yaml:"rsi_entry_bear_min" json:"rsi_entry_bear_min" validate:"gte=0,lte=100"`
	RSIEntryBearMax    float64 `yaml:"rsi_entry_bear_max" json:"rsi_entry_bear_max" validate:"gte=0,lte=100"`
	VolumeFactor       float64 `yaml:"volume_factor" json:"volume_factor" validate:"gt=0"`
	EMACrossWindow     int     `yaml:"ema_cross_window" json:"ema_cross_window" validate:"gt=0"`
	// MinPremium is the minimum entry price worth trading, as a decimal
	// string. Zero disables the floor.
	MinPremium string `yaml:"min_premium" json:"min_premium"`
}

// RiskConfig bounds capital exposure.
type RiskConfig struct {
	MaxAllocPct     float64 `yaml:"max_alloc_pct" json:"max_alloc_pct" validate:"gt=0,lte=1"`
	MaxPositionPct  float64 `yaml:"max_position_pct" json:"max_position_pct" validate:"gt=0,lte=1"`
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct" validate:"gt=0,lte=1"`
}

// RateLimitConfig tunes the resilience layer.
type RateLimitConfig struct {
	// SafetyMargin scales every documented broker limit down, e.g. 0.9.
	SafetyMargin float64 `yaml:"safety_margin" json:"safety_margin" validate:"gt=0,lte=1"`
	// BreakerFailureThreshold consecutive failures open the breaker.
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold" json:"breaker_failure_threshold" validate:"gt=0"`
	BreakerCooldownSeconds  int `yaml:"breaker_cooldown_seconds" json:"breaker_cooldown_seconds" validate:"gt=0"`
}

// ExecutionConfig tunes the bracket executor.
type ExecutionConfig struct {
	MaxRetries          int `yaml:"max_retries" json:"max_retries" validate:"gte=0"`
	FillTimeoutSeconds  int `yaml:"fill_timeout_seconds" json:"fill_timeout_seconds" validate:"gt=0"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds" json:"poll_interval_seconds" validate:"gt=0"`
	// EntryBufferPct pads the entry limit price toward the fill side so a
	// limit entry behaves like a protected market order.
	EntryBufferPct float64 `yaml:"entry_buffer_pct" json:"entry_buffer_pct" validate:"gte=0,lt=1"`
}

// BrokerConfig selects and configures the broker gateway.
type BrokerConfig struct {
	// Type is the gateway adapter, e.g. "binance-paper" or "binance-live".
	Type string `yaml:"type" json:"type" validate:"required"`
	// BaseURL overrides the adapter's default endpoint when set.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey/SecretKey are resolved from BROKER_API_KEY / BROKER_SECRET_KEY
	// when empty. Keep them out of the YAML file.
	APIKey    string `yaml:"api_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	// Stream enables the websocket kline stream; REST polling otherwise.
	Stream bool `yaml:"stream" json:"stream"`
}

// SessionConfig selects the daily-state store.
type SessionConfig struct {
	// Store is "file" or "redis".
	Store string `yaml:"store" json:"store" validate:"required,oneof=file redis"`
	// StateDir holds per-date JSON files for the file store.
	StateDir string `yaml:"state_dir" json:"state_dir"`
	// KeepDays prunes state files older than this many days.
	KeepDays int `yaml:"keep_days" json:"keep_days" validate:"gte=1"`
	// RedisAddr is host:port for the redis store.
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	// OneTradePerDay suppresses re-entry on an instrument already traded
	// today.
	OneTradePerDay bool `yaml:"one_trade_per_day" json:"one_trade_per_day"`
}

// WorkerConfig tunes the per-instrument control loop.
type WorkerConfig struct {
	MonitorIntervalSeconds int `yaml:"monitor_interval_seconds" json:"monitor_interval_seconds" validate:"gt=0"`
	BoundaryBufferSeconds  int `yaml:"boundary_buffer_seconds" json:"boundary_buffer_seconds" validate:"gte=0"`
	ErrorRetrySeconds      int `yaml:"error_retry_seconds" json:"error_retry_seconds" validate:"gt=0"`
	// StartStaggerSeconds spaces worker startups so the historical backfill
	// does not burst the rate limiter.
	StartStaggerSeconds  int `yaml:"start_stagger_seconds" json:"start_stagger_seconds" validate:"gte=0"`
	HeartbeatHours       int `yaml:"heartbeat_hours" json:"heartbeat_hours" validate:"gte=0"`
	ReconcileEveryPolls  int `yaml:"reconcile_every_polls" json:"reconcile_every_polls" validate:"gt=0"`
	RecentBiasMaxMinutes int `yaml:"recent_bias_max_minutes" json:"recent_bias_max_minutes" validate:"gte=0"`
}

// NotifyConfig configures the notification sink.
type NotifyConfig struct {
	// Telegram enables the Telegram sink; the bot token is resolved from
	// TELEGRAM_BOT_TOKEN when empty.
	Telegram      bool   `yaml:"telegram" json:"telegram"`
	TelegramToken string `yaml:"telegram_token" json:"-"`
	TelegramChat  string `yaml:"telegram_chat" json:"telegram_chat"`
	// Commands enables the remote command listener (pos/stop/start).
	Commands bool `yaml:"commands" json:"commands"`
}

// AuditConfig configures the trade audit log.
type AuditConfig struct {
	// Path is the DuckDB database file; empty disables auditing.
	Path string `yaml:"path" json:"path"`
}

// OpsConfig configures the operator HTTP server.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// DefaultConfig returns a config populated with every default. The instrument
// list is empty and must be provided by the user.
func DefaultConfig() Config {
	return Config{
		SchemaVersion: version.GetVersion(),
		Instruments:   []InstrumentConfig{},
		Market: MarketConfig{
			Timezone:          "America/New_York",
			OpenTime:          "09:30",
			CloseTime:         "16:00",
			PreConnectMinutes: 30,
			ForceExitMinutes:  15,
			Holidays:          []string{},
		},
		Bars: BarsConfig{
			MaxBars:                   2880,
			CompletenessBufferSeconds: 5,
			HistoricalDays:            2,
		},
		Signal: SignalConfig{
			RearmWindowMinutes: 15,
			MaxEntryChecks:     6,
			MACDMinHist:        0.05,
			RSIBullMin:         55,
			RSIBearMax:         45,
			RSIEntryBullMin:    50,
			RSIEntryBullMax:    80,
			RSIEntryBearMin:    20,
			RSIEntryBearMax:    50,
			VolumeFactor:       1.2,
			EMACrossWindow:     3,
			MinPremium:         "0",
		},
		Risk: RiskConfig{
			MaxAllocPct:     0.70,
			MaxPositionPct:  0.70,
			MaxDailyLossPct: 0.05,
		},
		RateLimit: RateLimitConfig{
			SafetyMargin:            0.9,
			BreakerFailureThreshold: 5,
			BreakerCooldownSeconds:  60,
		},
		Execution: ExecutionConfig{
			MaxRetries:          3,
			FillTimeoutSeconds:  15,
			PollIntervalSeconds: 1,
			EntryBufferPct:      0.002,
		},
		Broker: BrokerConfig{
			Type:      "binance-paper",
			BaseURL:   "",
			APIKey:    "",
			SecretKey: "",
			Stream:    true,
		},
		Session: SessionConfig{
			Store:          "file",
			StateDir:       "./state",
			KeepDays:       7,
			RedisAddr:      "localhost:6379",
			RedisPassword:  "",
			RedisDB:        0,
			OneTradePerDay: true,
		},
		Worker: WorkerConfig{
			MonitorIntervalSeconds: 2,
			BoundaryBufferSeconds:  5,
			ErrorRetrySeconds:      10,
			StartStaggerSeconds:    2,
			HeartbeatHours:         6,
			ReconcileEveryPolls:    15,
			RecentBiasMaxMinutes:   30,
		},
		Notify: NotifyConfig{
			Telegram:      false,
			TelegramToken: "",
			TelegramChat:  "",
			Commands:      false,
		},
		Audit: AuditConfig{
			Path: "./state/audit.duckdb",
		},
		Ops: OpsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8745",
		},
	}
}

// Load reads, defaults, resolves, and validates a config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to read config file", err)
	}

	return Parse(data)
}

// Parse unmarshals YAML config bytes over the defaults and validates the
// result.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config YAML", err)
	}

	cfg.resolveCredentials()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// resolveCredentials fills secrets from the environment when the file left
// them empty. The CLIs load .env via godotenv before this runs.
func (c *Config) resolveCredentials() {
	if c.Broker.APIKey == "" {
		c.Broker.APIKey = os.Getenv("BROKER_API_KEY")
	}

	if c.Broker.SecretKey == "" {
		c.Broker.SecretKey = os.Getenv("BROKER_SECRET_KEY")
	}

	if c.Notify.TelegramToken == "" {
		c.Notify.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}

	if c.Session.RedisPassword == "" {
		c.Session.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}
}

// Validate checks struct tags, the schema version, and cross-field rules.
func (c *Config) Validate() error {
	if err := version.CheckVersionCompatibility(version.GetVersion(), c.SchemaVersion); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidVersion, "config schema version incompatible with engine", err)
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid market timezone %q", c.Market.Timezone)
	}

	for _, clock := range []string{c.Market.OpenTime, c.Market.CloseTime} {
		if _, err := time.Parse("15:04", clock); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid market clock time %q", clock)
		}
	}

	for _, day := range c.Market.Holidays {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid holiday date %q", day)
		}
	}

	if c.Signal.RSIEntryBullMin >= c.Signal.RSIEntryBullMax {
		return errors.New(errors.ErrCodeInvalidConfiguration, "rsi_entry_bull_min must be below rsi_entry_bull_max")
	}

	if c.Signal.RSIEntryBearMin >= c.Signal.RSIEntryBearMax {
		return errors.New(errors.ErrCodeInvalidConfiguration, "rsi_entry_bear_min must be below rsi_entry_bear_max")
	}

	if c.Session.Store == "redis" && c.Session.RedisAddr == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "redis session store requires redis_addr")
	}

	return nil
}

// Location returns the parsed market location. Validate must have succeeded.
func (m MarketConfig) Location() *time.Location {
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return time.UTC
	}

	return loc
}

// CompletenessBuffer returns the derived-bar completeness buffer as a duration.
func (b BarsConfig) CompletenessBuffer() time.Duration {
	return time.Duration(b.CompletenessBufferSeconds) * time.Second
}

// RearmWindow returns the bias re-arm window as a duration.
func (s SignalConfig) RearmWindow() time.Duration {
	return time.Duration(s.RearmWindowMinutes) * time.Minute
}

// BreakerCooldown returns the circuit breaker cooldown as a duration.
func (r RateLimitConfig) BreakerCooldown() time.Duration {
	return time.Duration(r.BreakerCooldownSeconds) * time.Second
}

// FillTimeout returns the entry fill timeout as a duration.
func (e ExecutionConfig) FillTimeout() time.Duration {
	return time.Duration(e.FillTimeoutSeconds) * time.Second
}

// PollInterval returns the order-status poll interval as a duration.
func (e ExecutionConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

// MonitorInterval returns the open-position poll interval as a duration.
func (w WorkerConfig) MonitorInterval() time.Duration {
	return time.Duration(w.MonitorIntervalSeconds) * time.Second
}

// BoundaryBuffer returns the candle-boundary sleep buffer as a duration.
func (w WorkerConfig) BoundaryBuffer() time.Duration {
	return time.Duration(w.BoundaryBufferSeconds) * time.Second
}

// ErrorRetryDelay returns the worker loop error backoff as a duration.
func (w WorkerConfig) ErrorRetryDelay() time.Duration {
	return time.Duration(w.ErrorRetrySeconds) * time.Second
}
