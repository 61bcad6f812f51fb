// Package config provides centralized configuration management for spigot.
// Values come from viper (defaults, YAML file, SPIGOT_* environment, flags)
// and are decoded into a typed Config with mapstructure decode hooks.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	// AppName is used for XDG paths, the config file name and metrics namespace.
	AppName = "spigot"
	// EnvPrefix is prepended to every environment key (SPIGOT_SERVER_PORT).
	EnvPrefix = "SPIGOT"

	DriverMemory = "memory"
	DriverLibsql = "libsql"
	DriverRedis  = "redis"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// legacyEnv maps config keys to the unprefixed variables the faucet has
// historically been deployed with.
var legacyEnv = map[string][]string{
	"faucet.amount":           {"FAUCET_REWARD"},
	"faucet.donation_address": {"FAUCET_ADDRESS", "NEXT_PUBLIC_FAUCET_ADDRESS"},
	"captcha.secret":          {"HCAPTCHA_SECRET_KEY"},
	"node.host":               {"RPC_HOST", "TRMP_RPC_HOST"},
	"node.port":               {"RPC_PORT", "TRMP_RPC_PORT"},
	"node.user":               {"RPC_USER", "TRMP_RPC_USER"},
	"node.password":           {"RPC_PASS", "TRMP_RPC_PASS"},
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "75s")

	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("faucet.amount", "100")
	v.SetDefault("faucet.window", "1h")
	v.SetDefault("faucet.identity_strategy", "fingerprint")
	v.SetDefault("faucet.require_fingerprint", true)
	v.SetDefault("faucet.donation_address", "")
	v.SetDefault("faucet.coin_symbol", "TRMP")

	v.SetDefault("captcha.verify_url", "https://hcaptcha.com/siteverify")
	v.SetDefault("captcha.secret", "")
	v.SetDefault("captcha.timeout", "10s")

	v.SetDefault("node.host", "127.0.0.1")
	v.SetDefault("node.port", 8332)
	v.SetDefault("node.user", "")
	v.SetDefault("node.password", "")
	v.SetDefault("node.timeout", "60s")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.sweep_interval", "5m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

// BindEnv wires SPIGOT_* variables (dots become underscores) plus the
// legacy unprefixed names onto v.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		input := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, input...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load decodes v into a Config, validates it and makes it the current config.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("viper instance is required")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Faucet.IdentityStrategy = strings.ToLower(strings.TrimSpace(cfg.Faucet.IdentityStrategy))
	if cfg.Store.Driver == DriverLibsql && strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	setConfig(cfg)
	return cfg, nil
}

// DecodeHook converts strings into durations and decimals.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToDecimalHookFunc(),
	)
}

func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("invalid decimal %q: %w", value, err)
			}
			return d, nil
		case float64:
			return decimal.NewFromFloat(value), nil
		case float32:
			return decimal.NewFromFloat32(value), nil
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		case decimal.Decimal:
			return value, nil
		}
		return data, nil
	}
}

// MinShutdownTimeout is the shortest shutdown wait that lets a claim which
// has just passed verification finish its payout and bookkeeping.
func MinShutdownTimeout(c *Config) time.Duration {
	return c.Captcha.Timeout + c.Node.Timeout
}

// Validate checks the settings the claim pipeline cannot run without.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var problems []string
	if !c.Faucet.Amount.IsPositive() {
		problems = append(problems, "faucet.amount must be greater than zero")
	}
	if c.Faucet.Window <= 0 {
		problems = append(problems, "faucet.window must be greater than zero")
	}
	switch c.Faucet.IdentityStrategy {
	case "", "network", "fingerprint":
	default:
		problems = append(problems, fmt.Sprintf("faucet.identity_strategy %q is not supported", c.Faucet.IdentityStrategy))
	}
	if strings.TrimSpace(c.Captcha.Secret) == "" {
		problems = append(problems, "captcha.secret is required")
	}
	if strings.TrimSpace(c.Node.Host) == "" || c.Node.Port <= 0 {
		problems = append(problems, "node.host and node.port are required")
	}
	if strings.TrimSpace(c.Node.User) == "" || strings.TrimSpace(c.Node.Password) == "" {
		problems = append(problems, "node.user and node.password are required")
	}
	if c.Server.ShutdownTimeout > 0 && c.Server.ShutdownTimeout < MinShutdownTimeout(c) {
		problems = append(problems, fmt.Sprintf("server.shutdown_timeout must be at least captcha.timeout + node.timeout (%s)", MinShutdownTimeout(c)))
	}
	switch c.Store.Driver {
	case "", DriverMemory, DriverLibsql:
	case DriverRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			problems = append(problems, "redis.addr is required for the redis store")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-compliant config directory.
func DefaultConfigDir() string {
	return config.GetAppConfigDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := config.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
