package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"optguard/internal/markethours"
	"optguard/internal/model"
	"optguard/internal/portfolio"
)

// ErrInvalid is returned by Validate when the configuration cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Trend holds the regime switch knobs. They can be set from CONFIG_FILE
// under `trend:` and are overridden by TREND_* variables.
type Trend struct {
	Enabled       bool          `yaml:"enabled"`
	Source        string        `yaml:"source"` // broker, redis or auto
	Exchange      string        `yaml:"exchange"`
	Token         string        `yaml:"token"`
	Interval      string        `yaml:"interval"`
	Lookback      time.Duration `yaml:"lookback"`
	MinCandles    int           `yaml:"min_candles"`
	Votes         int           `yaml:"votes"`
	Cooldown      time.Duration `yaml:"cooldown"`
	MaxPerDay     int           `yaml:"max_per_day"`
	ADXPeriod     int           `yaml:"adx_period"`
	ADXTrend      float64       `yaml:"adx_trend"`
	ADXRange      float64       `yaml:"adx_range"`
	TrendStrategy string        `yaml:"trend_strategy"`
	RangeStrategy string        `yaml:"range_strategy"`
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Angel One credentials
	AngelAPIKey     string `yaml:"-"`
	AngelClientCode string `yaml:"-"`
	AngelPassword   string `yaml:"-"`
	AngelTOTPSecret string `yaml:"-"`
	SmartAPIRoot    string `yaml:"smartapi_root"`

	// Infrastructure
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"-"`
	RedisDB        int    `yaml:"redis_db"`
	RedisChannel   string `yaml:"redis_channel"`
	SQLitePath     string `yaml:"sqlite_path"`
	MetricsAddr    string `yaml:"metrics_addr"`
	PushgatewayURL string `yaml:"pushgateway_url"`
	LogLevel       string `yaml:"log_level"`

	// Shared files
	DataDir     string `yaml:"data_dir"`
	StateFile   string `yaml:"state_file"`
	PnLFile     string `yaml:"pnl_file"`
	Heartbeat   string `yaml:"heartbeat_file"`
	VoteFile    string `yaml:"vote_file"`
	SwitchLog   string `yaml:"switch_log"`
	ConfirmFile string `yaml:"confirm_file"`

	// Risk guard
	DailySL    model.Paise   `yaml:"-"`
	DailyTP    model.Paise   `yaml:"-"`
	ForcePnL   *model.Paise  `yaml:"-"`
	RiskSource string        `yaml:"risk_source"`
	PnLMaxAge  time.Duration `yaml:"pnl_max_age"`

	Trend Trend `yaml:"trend"`

	// Live safety gate
	AutoSwitch    bool          `yaml:"auto_switch"`
	MarketDays    string        `yaml:"market_days"`
	MarketHours   string        `yaml:"market_hours"`
	Holidays      []string      `yaml:"market_holidays"`
	LiveTTL       time.Duration `yaml:"live_ttl"`
	RequiredIP    string        `yaml:"required_ip"`
	SquareOffTime string        `yaml:"squareoff_time"`
	RestartCmd    string        `yaml:"restart_cmd"`

	// Alerts
	TelegramToken  string `yaml:"-"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	WebhookURL     string `yaml:"webhook_url"`

	// Entries
	Limits      portfolio.Limits `yaml:"limits"`
	SlippageBps int64            `yaml:"paper_slippage_bps"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		RedisAddr:    "localhost:6379",
		RedisChannel: "ctl:execution:restart",
		SQLitePath:   "data/journal.db",
		MetricsAddr:  ":9090",
		LogLevel:     "info",
		DataDir:      "data",

		PnLMaxAge: 5 * time.Minute,

		Trend: Trend{
			Enabled:       true,
			Source:        "auto",
			Exchange:      "NSE",
			Token:         "99926000",
			Interval:      "FIVE_MINUTE",
			Lookback:      180 * time.Minute,
			MinCandles:    20,
			Votes:         2,
			Cooldown:      15 * time.Minute,
			MaxPerDay:     3,
			ADXPeriod:     14,
			ADXTrend:      20,
			ADXRange:      18,
			TrendStrategy: "breakout_atr",
			RangeStrategy: "pcr_momentum_oi",
		},

		MarketDays:    "1,2,3,4,5",
		MarketHours:   "09:00-15:30",
		LiveTTL:       10 * time.Minute,
		SquareOffTime: "15:25",

		Limits: portfolio.Limits{MaxOpenPositions: 3},
	}
}

// Load reads .env files, the optional CONFIG_FILE overlay, then environment
// variables. Set variables always win.
func Load() (*Config, error) {
	loadDotenv()

	c := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	var errs []error
	c.AngelAPIKey = getEnv("ANGEL_API_KEY", firstEnv("SMARTAPI_API_KEY", "SMARTAPI_KEY", "API_KEY"))
	c.AngelClientCode = getEnv("ANGEL_CLIENT_CODE", firstEnv("SMARTAPI_CLIENT_CODE", "CLIENT_CODE"))
	c.AngelPassword = getEnv("ANGEL_PASSWORD", firstEnv("SMARTAPI_PASSWORD", "MPIN"))
	c.AngelTOTPSecret = getEnv("ANGEL_TOTP_SECRET", firstEnv("SMARTAPI_TOTP_SECRET", "TOTP_SECRET"))
	c.SmartAPIRoot = getEnv("SMARTAPI_ROOT", c.SmartAPIRoot)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = intEnv("REDIS_DB", c.RedisDB, &errs)
	c.RedisChannel = getEnv("REDIS_RESTART_CHANNEL", c.RedisChannel)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.PushgatewayURL = getEnv("PUSHGATEWAY_URL", c.PushgatewayURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.StateFile = getEnv("STATE_FILE", orDefault(c.StateFile, filepath.Join(c.DataDir, "state.env")))
	c.PnLFile = getEnv("PNL_FILE", orDefault(c.PnLFile, filepath.Join(c.DataDir, "pnl.json")))
	c.Heartbeat = getEnv("PNL_HEARTBEAT_FILE", orDefault(c.Heartbeat, filepath.Join(c.DataDir, "pnl_heartbeat.txt")))
	c.VoteFile = getEnv("TREND_VOTE_FILE", orDefault(c.VoteFile, filepath.Join(c.DataDir, "trend_vote.json")))
	c.SwitchLog = getEnv("SWITCH_LOG", orDefault(c.SwitchLog, filepath.Join(c.DataDir, "switches.jsonl")))
	c.ConfirmFile = getEnv("CONFIRM_FILE", orDefault(c.ConfirmFile, filepath.Join(c.DataDir, "confirm_live.json")))

	c.DailySL = rupeesEnv("DAILY_SL", c.DailySL, &errs)
	c.DailyTP = rupeesEnv("DAILY_TP", c.DailyTP, &errs)
	if v := strings.TrimSpace(os.Getenv("FORCE_PNL")); v != "" {
		p, err := model.ParseRupees(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FORCE_PNL: %w", err))
		} else {
			c.ForcePnL = &p
		}
	}
	c.RiskSource = strings.ToLower(getEnv("RISK_SOURCE", c.RiskSource))
	c.PnLMaxAge = secondsEnv("PNL_MAX_AGE", c.PnLMaxAge, &errs)

	t := &c.Trend
	t.Enabled = boolEnv("TREND_SWITCH_ENABLE", t.Enabled)
	t.Source = strings.ToLower(getEnv("TREND_SOURCE", t.Source))
	t.Exchange = getEnv("TREND_EXCHANGE", t.Exchange)
	t.Token = getEnv("TREND_SYMBOLTOKEN", t.Token)
	t.Interval = getEnv("TREND_INTERVAL", t.Interval)
	t.Lookback = minutesEnv("TREND_LOOKBACK_MIN", t.Lookback, &errs)
	t.MinCandles = intEnv("TREND_MIN_CANDLES", t.MinCandles, &errs)
	t.Votes = intEnv("TREND_VOTES", t.Votes, &errs)
	t.Cooldown = minutesEnv("TREND_SWITCH_COOLDOWN_MIN", t.Cooldown, &errs)
	t.MaxPerDay = intEnv("TREND_SWITCH_MAX_PER_DAY", t.MaxPerDay, &errs)
	t.ADXPeriod = intEnv("TREND_ADX_PERIOD", t.ADXPeriod, &errs)
	t.ADXTrend = floatEnv("TREND_ADX_TREND", t.ADXTrend, &errs)
	t.ADXRange = floatEnv("TREND_ADX_RANGE", t.ADXRange, &errs)
	t.TrendStrategy = getEnv("TREND_STRATEGY", t.TrendStrategy)
	t.RangeStrategy = getEnv("RANGE_STRATEGY", t.RangeStrategy)

	c.AutoSwitch = boolEnv("AUTO_SWITCH", c.AutoSwitch)
	c.MarketDays = getEnv("MARKET_DAYS", c.MarketDays)
	c.MarketHours = getEnv("MARKET_HOURS", c.MarketHours)
	if v := os.Getenv("MARKET_HOLIDAYS"); v != "" {
		c.Holidays = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}
	c.LiveTTL = minutesEnv("LIVE_TTL_MIN", c.LiveTTL, &errs)
	c.RequiredIP = getEnv("NORDVPN_REQUIRED_IP", c.RequiredIP)
	c.SquareOffTime = getEnv("AUTO_SQUAREOFF_TIME", c.SquareOffTime)
	c.RestartCmd = getEnv("RESTART_CMD", c.RestartCmd)

	c.TelegramToken = getEnv("TELEGRAM_TOKEN", firstEnv("TELEGRAM_BOT_TOKEN", "BOT_TOKEN"))
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", getEnv("CHAT_ID", c.TelegramChatID))
	c.WebhookURL = getEnv("ALERT_WEBHOOK_URL", c.WebhookURL)

	c.Limits.MaxQty = int64(intEnv("MAX_QTY", int(c.Limits.MaxQty), &errs))
	c.Limits.MaxOpenPositions = intEnv("RISK_MAX_OPEN_TRADES", c.Limits.MaxOpenPositions, &errs)
	c.SlippageBps = int64(intEnv("PAPER_SLIPPAGE_BPS", int(c.SlippageBps), &errs))

	if len(errs) > 0 {
		return c, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return c, nil
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	var errs []error
	switch c.RiskSource {
	case "", "file", "broker":
	default:
		errs = append(errs, fmt.Errorf("RISK_SOURCE %q: want file or broker", c.RiskSource))
	}
	switch c.Trend.Source {
	case "auto", "broker", "redis":
	default:
		errs = append(errs, fmt.Errorf("TREND_SOURCE %q: want auto, broker or redis", c.Trend.Source))
	}
	if c.Trend.Votes < 1 {
		errs = append(errs, errors.New("TREND_VOTES must be at least 1"))
	}
	if c.Trend.ADXRange > c.Trend.ADXTrend {
		errs = append(errs, fmt.Errorf("TREND_ADX_RANGE %.1f above TREND_ADX_TREND %.1f", c.Trend.ADXRange, c.Trend.ADXTrend))
	}
	if _, err := c.Window(); err != nil {
		errs = append(errs, err)
	}
	if _, err := markethours.ParseClock(c.SquareOffTime); err != nil {
		errs = append(errs, fmt.Errorf("AUTO_SQUAREOFF_TIME: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ValidateBroker checks the SmartAPI credentials.
func (c *Config) ValidateBroker() error {
	var missing []string
	for k, v := range map[string]string{
		"ANGEL_API_KEY":     c.AngelAPIKey,
		"ANGEL_CLIENT_CODE": c.AngelClientCode,
		"ANGEL_PASSWORD":    c.AngelPassword,
		"ANGEL_TOTP_SECRET": c.AngelTOTPSecret,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Window parses MARKET_DAYS and MARKET_HOURS.
func (c *Config) Window() (markethours.Window, error) {
	return markethours.ParseWindow(c.MarketDays, c.MarketHours)
}

// SquareOffClock parses AUTO_SQUAREOFF_TIME.
func (c *Config) SquareOffClock() markethours.Clock {
	clk, err := markethours.ParseClock(c.SquareOffTime)
	if err != nil {
		return markethours.MustClock("15:25")
	}
	return clk
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}
	overload := os.Getenv("DOTENV_OVERLOAD") == "1"
	load := func(paths ...string) {
		if overload {
			_ = godotenv.Overload(paths...)
		} else {
			_ = godotenv.Load(paths...)
		}
	}
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		load(envFile)
		return
	}
	load(".env")
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func boolEnv(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "":
		return fallback
	case "1", "true", "yes", "on", "y":
		return true
	}
	return false
}

func intEnv(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func floatEnv(key string, fallback float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func rupeesEnv(key string, fallback model.Paise, errs *[]error) model.Paise {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	p, err := model.ParseRupees(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return p
}

func minutesEnv(key string, fallback time.Duration, errs *[]error) time.Duration {
	n := intEnv(key, -1, errs)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Minute
}

func secondsEnv(key string, fallback time.Duration, errs *[]error) time.Duration {
	n := intEnv(key, -1, errs)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
