package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         int
	MasterSecret string
	GinMode      string
	TLSCertFile  string
	TLSKeyFile   string
	TokenExpiry  time.Duration

	LogLevel  string
	LogPretty bool

	AccountsStateFile string
	ActivityDB        string

	DispatchWorkers    int
	SendTimeout        time.Duration
	MessagesPerAccount int

	ProxyRatePerSec float64
	ProxyBurst      int

	PolicyFile string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:               3000,
		GinMode:            "release",
		TokenExpiry:        7 * 24 * time.Hour,
		LogLevel:           "info",
		DispatchWorkers:    4,
		SendTimeout:        30 * time.Second,
		MessagesPerAccount: 1,
		ProxyBurst:         1,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := env.Getenv("LOG_PRETTY"); raw != "" {
		pretty, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_PRETTY")
		}
		cfg.LogPretty = pretty
	}

	cfg.AccountsStateFile = env.Getenv("ACCOUNTS_STATE_FILE")
	cfg.ActivityDB = env.Getenv("ACTIVITY_DB")
	cfg.PolicyFile = env.Getenv("POLICY_FILE")

	if raw := env.Getenv("DISPATCH_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid DISPATCH_WORKERS")
		}
		cfg.DispatchWorkers = n
	}

	if raw := env.Getenv("SEND_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid SEND_TIMEOUT_SECONDS")
		}
		cfg.SendTimeout = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("MESSAGES_PER_ACCOUNT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MESSAGES_PER_ACCOUNT")
		}
		cfg.MessagesPerAccount = n
	}

	if raw := env.Getenv("PROXY_RATE_PER_SEC"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r < 0 {
			return Config{}, fmt.Errorf("invalid PROXY_RATE_PER_SEC")
		}
		cfg.ProxyRatePerSec = r
	}

	if raw := env.Getenv("PROXY_BURST"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid PROXY_BURST")
		}
		cfg.ProxyBurst = n
	}

	return cfg, nil
}
