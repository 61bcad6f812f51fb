package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the complete faucet configuration.
// Precedence: defaults < config file < .env / SPIGOT_* environment < flags.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Faucet  FaucetConfig  `mapstructure:"faucet" yaml:"faucet"`
	Captcha CaptchaConfig `mapstructure:"captcha" yaml:"captcha"`
	Node    NodeConfig    `mapstructure:"node" yaml:"node"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated Prometheus exporter port.
	Port int `mapstructure:"port" yaml:"port"`
}

// FaucetConfig holds the payout policy. Amount is never taken from a request.
type FaucetConfig struct {
	Amount             decimal.Decimal `mapstructure:"amount" yaml:"amount"`
	Window             time.Duration   `mapstructure:"window" yaml:"window"`
	IdentityStrategy   string          `mapstructure:"identity_strategy" yaml:"identity_strategy"`
	RequireFingerprint bool            `mapstructure:"require_fingerprint" yaml:"require_fingerprint"`
	DonationAddress    string          `mapstructure:"donation_address" yaml:"donation_address"`
	CoinSymbol         string          `mapstructure:"coin_symbol" yaml:"coin_symbol"`
}

// CaptchaConfig configures the human-verification provider.
type CaptchaConfig struct {
	VerifyURL string        `mapstructure:"verify_url" yaml:"verify_url"`
	Secret    string        `mapstructure:"secret" yaml:"secret"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NodeConfig holds wallet node JSON-RPC credentials.
type NodeConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	User     string        `mapstructure:"user" yaml:"user"`
	Password string        `mapstructure:"password" yaml:"password"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// URL returns the JSON-RPC endpoint for the node.
func (n NodeConfig) URL() string {
	return fmt.Sprintf("http://%s/", net.JoinHostPort(n.Host, strconv.Itoa(n.Port)))
}

// StoreConfig selects the limiter/stats backend.
// Driver is one of memory, libsql or redis.
type StoreConfig struct {
	Driver        string        `mapstructure:"driver" yaml:"driver"`
	Path          string        `mapstructure:"path" yaml:"path"`
	URL           string        `mapstructure:"url" yaml:"url"`
	AuthToken     string        `mapstructure:"auth_token" yaml:"auth_token"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// RedisConfig is used when store.driver is redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Captcha.Secret = mask(c.Captcha.Secret)
	c.Node.Password = mask(c.Node.Password)
	c.Store.AuthToken = mask(c.Store.AuthToken)
	c.Redis.Password = mask(c.Redis.Password)
	return c
}
