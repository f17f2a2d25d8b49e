package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Atique-Syed1/Trading-bot/internal/compliance"
	"github.com/Atique-Syed1/Trading-bot/internal/signal"
)

// Config holds all application configuration loaded from environment
// variables prefixed SCANNER_ (or a .env file).
type Config struct {
	// Push channel
	FeedURL              string        `envconfig:"FEED_URL" default:"ws://localhost:8000/ws/prices"`
	ReconnectDelay       time.Duration `envconfig:"RECONNECT_DELAY" default:"3s"`
	DialTimeout          time.Duration `envconfig:"DIAL_TIMEOUT" default:"10s"`
	MaxReconnectAttempts int           `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"0"`

	// Scanning
	Mode        string        `envconfig:"MODE" default:"offline"`
	ScanDelay   time.Duration `envconfig:"SCAN_DELAY" default:"800ms"`
	CatalogPath string        `envconfig:"CATALOG_PATH"`
	PolicyPath  string        `envconfig:"POLICY_PATH"`
	Rescore     bool          `envconfig:"RESCORE" default:"false"`

	// Scan backend
	APIBaseURL    string        `envconfig:"API_BASE_URL" default:"http://localhost:8000"`
	APITimeout    time.Duration `envconfig:"API_TIMEOUT" default:"15s"`
	APITOTPSecret string        `envconfig:"API_TOTP_SECRET"`
	APIRate       float64       `envconfig:"API_RATE" default:"2"`

	// Preferences
	PrefsBackend   string `envconfig:"PREFS_BACKEND" default:"memory"`
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"data/prefs.db"`
	PostgresDSN    string `envconfig:"POSTGRES_DSN"`
	PostgresSchema string `envconfig:"POSTGRES_SCHEMA" default:"scanner"`

	// Infrastructure
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisChannel  string `envconfig:"REDIS_CHANNEL" default:"scanner:updates"`
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr   string `envconfig:"METRICS_ADDR" default:":9090"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`

	// Alerts
	TelegramToken  string `envconfig:"TELEGRAM_TOKEN"`
	TelegramChatID string `envconfig:"TELEGRAM_CHAT_ID"`
	WebhookURL     string `envconfig:"WEBHOOK_URL"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Extra exchange holidays, comma-separated YYYY-MM-DD
	Holidays string `envconfig:"HOLIDAYS"`
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("SCANNER", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// Origins splits AllowedOrigin on commas.
func (c *Config) Origins() []string { return splitList(c.AllowedOrigin) }

// ParseHolidays returns the configured extra holidays, skipping malformed
// dates.
func (c *Config) ParseHolidays() []string {
	parts := splitList(c.Holidays)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if _, err := time.Parse("2006-01-02", p); err != nil {
			log.Printf("[config] skipping invalid holiday: %q", p)
			continue
		}
		out = append(out, p)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Policy is the screening and signal rule file.
type Policy struct {
	Compliance compliance.Policy `yaml:"compliance"`
	Signal     signal.Thresholds `yaml:"signal"`
}

// DefaultPolicy returns the built-in rules.
func DefaultPolicy() Policy {
	return Policy{
		Compliance: compliance.DefaultPolicy(),
		Signal:     signal.DefaultThresholds(),
	}
}

// LoadPolicy reads a YAML policy file. An empty path yields the defaults;
// fields left out of the file keep their default values.
//
//	compliance:
//	  prohibited_sectors: [Banking, Alcohol]
//	  max_debt_ratio: 0.33
//	signal:
//	  buy_below: 35
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return DefaultPolicy(), fmt.Errorf("parse policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return DefaultPolicy(), fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

func (p Policy) validate() error {
	s := p.Signal
	switch {
	case s.Period < 1:
		return fmt.Errorf("rsi_period must be positive, got %d", s.Period)
	case s.BuyBelow >= s.SellAbove:
		return fmt.Errorf("buy_below (%g) must be below sell_above (%g)", s.BuyBelow, s.SellAbove)
	case p.Compliance.MaxDebtRatio <= 0:
		return fmt.Errorf("max_debt_ratio must be positive, got %g", p.Compliance.MaxDebtRatio)
	}
	return nil
}
