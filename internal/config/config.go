package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Broker  BrokerConfig
	Engine  EngineConfig
	Server  ServerConfig
	Runtime RuntimeConfig
	Paper   PaperConfig
}

type BrokerConfig struct {
	BaseUrl     string
	WSUrl       string
	Username    string
	Password    string
	Account     string
	MarketID    string
	Instruments []string
	RateLimit   float64
}

type EngineConfig struct {
	SafetyCeiling      int
	WaitBackoff        time.Duration
	LotPause           time.Duration
	FillTimeout        time.Duration
	FillPollInterval   time.Duration
	FillPolicy         string
	SubmitTimeout      time.Duration
	Margin             float64
	LargeLotFraction   float64
	ZeroLiquidityLimit int
	MaxQuoteAge        time.Duration
	Retention          time.Duration
	QtyStep            float64
	OrderType          string
	TimeInForce        string
}

type ServerConfig struct {
	Listen string
}

type PaperConfig struct {
	FillDelay time.Duration
}

type RuntimeConfig struct {
	DryRun bool
	Log    LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.base_url", "https://api.remarkets.primary.com.ar")
	v.SetDefault("broker.ws_url", "wss://api.remarkets.primary.com.ar/")
	v.SetDefault("broker.market_id", "ROFX")
	v.SetDefault("broker.rate_limit", 5.0)

	v.SetDefault("engine.safety_ceiling", 1000)
	v.SetDefault("engine.wait_backoff", 5*time.Second)
	v.SetDefault("engine.lot_pause", 1*time.Second)
	v.SetDefault("engine.fill_timeout", 10*time.Second)
	v.SetDefault("engine.fill_poll_interval", 1*time.Second)
	v.SetDefault("engine.fill_policy", "assume_filled")
	v.SetDefault("engine.submit_timeout", 5*time.Second)
	v.SetDefault("engine.margin", 0.05)
	v.SetDefault("engine.large_lot_fraction", 0.30)
	v.SetDefault("engine.zero_liquidity_limit", 30)
	v.SetDefault("engine.max_quote_age", 0)
	v.SetDefault("engine.retention", 5*time.Minute)
	v.SetDefault("engine.qty_step", 1)
	v.SetDefault("engine.order_type", "LIMIT")
	v.SetDefault("engine.time_in_force", "DAY")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("paper.fill_delay", 200*time.Millisecond)

	v.SetDefault("runtime.dry_run", true)
	v.SetDefault("runtime.log.level", "info")
	v.SetDefault("runtime.log.format", "text")
	v.SetDefault("runtime.log.file", "stdout")
	v.SetDefault("runtime.log.max_size", 50)
	v.SetDefault("runtime.log.max_backups", 5)
	v.SetDefault("runtime.log.max_age", 14)
}

// Load reads configs/config.* (when present) and RATIOBOT_* environment
// overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.AddConfigPath("configs")
	v.SetConfigName("config")
	return load(v)
}

// LoadFile reads an explicit config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("ratiobot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}

	cfg := &Config{}

	cfg.Broker = BrokerConfig{
		BaseUrl:     v.GetString("broker.base_url"),
		WSUrl:       v.GetString("broker.ws_url"),
		Username:    envSub(v, "broker.username"),
		Password:    envSub(v, "broker.password"),
		Account:     envSub(v, "broker.account"),
		MarketID:    v.GetString("broker.market_id"),
		Instruments: v.GetStringSlice("broker.instruments"),
		RateLimit:   v.GetFloat64("broker.rate_limit"),
	}

	cfg.Engine = EngineConfig{
		SafetyCeiling:      v.GetInt("engine.safety_ceiling"),
		WaitBackoff:        v.GetDuration("engine.wait_backoff"),
		LotPause:           v.GetDuration("engine.lot_pause"),
		FillTimeout:        v.GetDuration("engine.fill_timeout"),
		FillPollInterval:   v.GetDuration("engine.fill_poll_interval"),
		FillPolicy:         v.GetString("engine.fill_policy"),
		SubmitTimeout:      v.GetDuration("engine.submit_timeout"),
		Margin:             v.GetFloat64("engine.margin"),
		LargeLotFraction:   v.GetFloat64("engine.large_lot_fraction"),
		ZeroLiquidityLimit: v.GetInt("engine.zero_liquidity_limit"),
		MaxQuoteAge:        v.GetDuration("engine.max_quote_age"),
		Retention:          v.GetDuration("engine.retention"),
		QtyStep:            v.GetFloat64("engine.qty_step"),
		OrderType:          strings.ToUpper(v.GetString("engine.order_type")),
		TimeInForce:        strings.ToUpper(v.GetString("engine.time_in_force")),
	}

	cfg.Server = ServerConfig{
		Listen: v.GetString("server.listen"),
	}

	cfg.Paper = PaperConfig{
		FillDelay: v.GetDuration("paper.fill_delay"),
	}

	cfg.Runtime = RuntimeConfig{
		DryRun: v.GetBool("runtime.dry_run"),
		Log: LogConfig{
			Level:      v.GetString("runtime.log.level"),
			Format:     v.GetString("runtime.log.format"),
			File:       v.GetString("runtime.log.file"),
			MaxSize:    v.GetInt("runtime.log.max_size"),
			MaxBackups: v.GetInt("runtime.log.max_backups"),
			MaxAge:     v.GetInt("runtime.log.max_age"),
			Compress:   v.GetBool("runtime.log.compress"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Engine.FillPolicy {
	case "assume_filled", "halt":
	default:
		return fmt.Errorf("unknown engine.fill_policy %q", c.Engine.FillPolicy)
	}
	if c.Engine.SafetyCeiling <= 0 {
		return fmt.Errorf("engine.safety_ceiling must be positive, got %d", c.Engine.SafetyCeiling)
	}
	if c.Engine.QtyStep < 0 {
		return fmt.Errorf("engine.qty_step must not be negative, got %v", c.Engine.QtyStep)
	}
	if !c.Runtime.DryRun && (c.Broker.Username == "" || c.Broker.Password == "" || c.Broker.Account == "") {
		return errors.New("broker credentials are required when runtime.dry_run is false")
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{(\w+)\}`)

func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}

	return envPattern.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
