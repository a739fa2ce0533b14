// Package config loads service settings from defaults, an optional config
// file, .env files and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("config: invalid configuration")

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"

	GatewaySandbox = "sandbox"
	GatewayDaraja  = "daraja"
)

type Config struct {
	ServiceName string
	Env         string
	Log         LogConfig
	HTTP        HTTPConfig
	Store       StoreConfig
	Gateway     GatewayConfig
	Payment     PaymentConfig
}

type LogConfig struct {
	Level string
	File  string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	Driver     string
	SQLitePath string
}

type GatewayConfig struct {
	Mode    string
	Daraja  DarajaConfig
	Sandbox SandboxConfig
}

type DarajaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	RequestTimeout time.Duration
}

type SandboxConfig struct {
	SuccessRate  float64
	PendingPolls int
}

type PaymentConfig struct {
	Deadline        time.Duration
	PollInterval    time.Duration
	QueryTimeout    time.Duration
	InitiateTimeout time.Duration
	// Retention of terminal requests; zero keeps them forever.
	Retention time.Duration
}

var defaults = map[string]any{
	"service_name":             "member-payments",
	"env":                      "dev",
	"log_level":                "info",
	"log_file":                 "",
	"http_addr":                ":8080",
	"http_read_timeout":        "10s",
	"http_write_timeout":       "15s",
	"http_idle_timeout":        "60s",
	"http_shutdown_timeout":    "10s",
	"store_driver":             StoreMemory,
	"sqlite_path":              "payments.db",
	"gateway_mode":             GatewaySandbox,
	"daraja_base_url":          "https://sandbox.safaricom.co.ke",
	"daraja_consumer_key":      "",
	"daraja_consumer_secret":   "",
	"daraja_shortcode":         "174379",
	"daraja_passkey":           "",
	"daraja_callback_url":      "",
	"daraja_request_timeout":   "30s",
	"sandbox_success_rate":     0.7,
	"sandbox_pending_polls":    2,
	"payment_deadline":         "120s",
	"payment_poll_interval":    "3s",
	"payment_query_timeout":    "10s",
	"payment_initiate_timeout": "30s",
	"payment_retention":        "0s",
}

// Load reads the configuration. configFile is optional.
func Load(configFile string) (*Config, error) {
	// missing .env files are fine
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		ServiceName: v.GetString("service_name"),
		Env:         v.GetString("env"),
		Log: LogConfig{
			Level: strings.ToLower(v.GetString("log_level")),
			File:  v.GetString("log_file"),
		},
		HTTP: HTTPConfig{
			Addr:            v.GetString("http_addr"),
			ReadTimeout:     v.GetDuration("http_read_timeout"),
			WriteTimeout:    v.GetDuration("http_write_timeout"),
			IdleTimeout:     v.GetDuration("http_idle_timeout"),
			ShutdownTimeout: v.GetDuration("http_shutdown_timeout"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(v.GetString("store_driver")),
			SQLitePath: v.GetString("sqlite_path"),
		},
		Gateway: GatewayConfig{
			Mode: strings.ToLower(v.GetString("gateway_mode")),
			Daraja: DarajaConfig{
				BaseURL:        v.GetString("daraja_base_url"),
				ConsumerKey:    v.GetString("daraja_consumer_key"),
				ConsumerSecret: v.GetString("daraja_consumer_secret"),
				ShortCode:      v.GetString("daraja_shortcode"),
				PassKey:        v.GetString("daraja_passkey"),
				CallbackURL:    v.GetString("daraja_callback_url"),
				RequestTimeout: v.GetDuration("daraja_request_timeout"),
			},
			Sandbox: SandboxConfig{
				SuccessRate:  v.GetFloat64("sandbox_success_rate"),
				PendingPolls: v.GetInt("sandbox_pending_polls"),
			},
		},
		Payment: PaymentConfig{
			Deadline:        v.GetDuration("payment_deadline"),
			PollInterval:    v.GetDuration("payment_poll_interval"),
			QueryTimeout:    v.GetDuration("payment_query_timeout"),
			InitiateTimeout: v.GetDuration("payment_initiate_timeout"),
			Retention:       v.GetDuration("payment_retention"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			problems = append(problems, "SQLITE_PATH is required for the sqlite store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	switch c.Gateway.Mode {
	case GatewaySandbox:
		if c.Gateway.Sandbox.SuccessRate < 0 || c.Gateway.Sandbox.SuccessRate > 1 {
			problems = append(problems, "SANDBOX_SUCCESS_RATE must be within [0,1]")
		}
	case GatewayDaraja:
		d := c.Gateway.Daraja
		for key, val := range map[string]string{
			"DARAJA_CONSUMER_KEY":    d.ConsumerKey,
			"DARAJA_CONSUMER_SECRET": d.ConsumerSecret,
			"DARAJA_SHORTCODE":       d.ShortCode,
			"DARAJA_PASSKEY":         d.PassKey,
			"DARAJA_CALLBACK_URL":    d.CallbackURL,
		} {
			if strings.TrimSpace(val) == "" {
				problems = append(problems, key+" is required for the daraja gateway")
			}
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown GATEWAY_MODE %q", c.Gateway.Mode))
	}

	p := c.Payment
	if p.Deadline <= 0 || p.PollInterval <= 0 || p.QueryTimeout <= 0 || p.InitiateTimeout <= 0 {
		problems = append(problems, "PAYMENT_DEADLINE, PAYMENT_POLL_INTERVAL, PAYMENT_QUERY_TIMEOUT and PAYMENT_INITIATE_TIMEOUT must be positive")
	} else if p.PollInterval >= p.Deadline {
		problems = append(problems, "PAYMENT_POLL_INTERVAL must be shorter than PAYMENT_DEADLINE")
	}
	if p.Retention < 0 {
		problems = append(problems, "PAYMENT_RETENTION must not be negative")
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}
