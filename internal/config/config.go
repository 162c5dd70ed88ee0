package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the asktoai service.
type Config struct {
	// CDP connection settings
	CDPAddress    string
	CDPPort       int
	EvalTimeoutMS int

	// HTTP API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Logging
	LogLevel string
	LogFile  string

	// Storage and static configuration
	DBPath         string
	ServicesConfig string

	// Delivery timing
	PollIntervalMS     int
	SettleShortMS      int
	SettleLongMS       int
	RetryDelayMS       int
	RestrictedPrefixes []string

	// Browser launch
	LaunchBrowser bool
	ProfileDir    string

	// Context menu links and notifications
	ShareURL     string
	RateURL      string
	NTFYEndpoint string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:         getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:            getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		EvalTimeoutMS:      getEnvIntOrDefault("ASKTOAI_EVAL_TIMEOUT_MS", 5000),
		BindAddr:           getEnvOrDefault("ASKTOAI_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:     getEnvListOrDefault("ASKTOAI_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}),
		PortAutoFallback:   getEnvBoolOrDefault("ASKTOAI_PORT_AUTO_FALLBACK", true),
		LogLevel:           strings.ToLower(getEnvOrDefault("ASKTOAI_LOG_LEVEL", "info")),
		LogFile:            getEnvOrDefault("ASKTOAI_LOG_FILE", "logs/asktoai.log"),
		DBPath:             getEnvOrDefault("ASKTOAI_DB_PATH", "./data/asktoai.db"),
		ServicesConfig:     getEnvOrDefault("ASKTOAI_SERVICES_CONFIG", ""),
		PollIntervalMS:     getEnvIntOrDefault("ASKTOAI_POLL_INTERVAL_MS", 500),
		SettleShortMS:      getEnvIntOrDefault("ASKTOAI_SETTLE_SHORT_MS", 2500),
		SettleLongMS:       getEnvIntOrDefault("ASKTOAI_SETTLE_LONG_MS", 4000),
		RetryDelayMS:       getEnvIntOrDefault("ASKTOAI_RETRY_DELAY_MS", 1000),
		RestrictedPrefixes: getEnvListOrDefault("ASKTOAI_RESTRICTED_PREFIXES", []string{"chrome://", "chrome-extension://"}),
		LaunchBrowser:      getEnvBoolOrDefault("ASKTOAI_LAUNCH_BROWSER", false),
		ProfileDir:         getEnvOrDefault("ASKTOAI_PROFILE_DIR", "./data/chromium-profile"),
		ShareURL:           getEnvOrDefault("ASKTOAI_SHARE_URL", "https://github.com/dgnsrekt/asktoai"),
		RateURL:            getEnvOrDefault("ASKTOAI_RATE_URL", "https://github.com/dgnsrekt/asktoai/stargazers"),
		NTFYEndpoint:       getEnvOrDefault("ASKTOAI_NTFY_ENDPOINT", ""),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.PollIntervalMS < 50 {
		cfg.PollIntervalMS = 50
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func (c *Config) EvalTimeout() time.Duration  { return ms(c.EvalTimeoutMS) }
func (c *Config) PollInterval() time.Duration { return ms(c.PollIntervalMS) }
func (c *Config) SettleShort() time.Duration  { return ms(c.SettleShortMS) }
func (c *Config) SettleLong() time.Duration   { return ms(c.SettleLongMS) }
func (c *Config) RetryDelay() time.Duration   { return ms(c.RetryDelayMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma-separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
