package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "config")

// DebugMode enables verbose logging across the whole process.
var DebugMode = os.Getenv("DEBUG") == "true"

type Config struct {
	StreamEndpoint string
	RestEndpoint   string
	// APIToken is passed through to the backend as-is; this layer does not
	// manage sessions or refresh anything.
	APIToken string

	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int

	FetchTimeout time.Duration

	FastPollInterval   time.Duration
	MediumPollInterval time.Duration
	SlowPollInterval   time.Duration

	TopicListLimit int
	TopicListSort  string
	MetricsAddr    string
	PingInterval   time.Duration
}

// Load reads the .env file if present and builds the config from the
// environment, falling back to defaults for anything unset.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logger.Debugf("no .env file loaded: %s", err)
	}

	DebugMode = os.Getenv("DEBUG") == "true"

	return &Config{
		StreamEndpoint: getEnv("MARKETDATA_WS_ENDPOINT", "wss://api.marketdata.local/stream"),
		RestEndpoint:   getEnv("MARKETDATA_REST_ENDPOINT", "https://api.marketdata.local"),
		APIToken:       os.Getenv("MARKETDATA_API_TOKEN"),

		BaseReconnectDelay:   getDuration("RECONNECT_BASE_DELAY", time.Second),
		MaxReconnectDelay:    getDuration("RECONNECT_MAX_DELAY", 30*time.Second),
		MaxReconnectAttempts: getInt("RECONNECT_MAX_ATTEMPTS", 5),

		FetchTimeout: getDuration("FETCH_TIMEOUT", 10*time.Second),

		FastPollInterval:   getDuration("FAST_POLL_INTERVAL", 5*time.Second),
		MediumPollInterval: getDuration("MEDIUM_POLL_INTERVAL", 10*time.Second),
		SlowPollInterval:   getDuration("SLOW_POLL_INTERVAL", 30*time.Second),

		TopicListLimit: getInt("TOPIC_LIST_LIMIT", 50),
		TopicListSort:  getEnv("TOPIC_LIST_SORT", "volume"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":8080"),
		PingInterval:   getDuration("PING_INTERVAL", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warnf("invalid value for %s: %s", key, v)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warnf("invalid value for %s: %s", key, v)
		return fallback
	}
	return d
}
