package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is built once at process start and passed into every component
// constructor; nothing reads the environment after Load returns.
type Config struct {
	DBSource        string
	Port            string
	Env             string
	AMQPURL         string
	NotifyFreshness time.Duration
	RelayInterval   time.Duration
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	freshness := 6 * time.Hour
	if raw := os.Getenv("NOTIFY_FRESHNESS_HOURS"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			return nil, fmt.Errorf("NOTIFY_FRESHNESS_HOURS must be a positive integer, got %q", raw)
		}
		freshness = time.Duration(hours) * time.Hour
	}

	relayInterval := 2 * time.Second
	if raw := os.Getenv("RELAY_INTERVAL_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("RELAY_INTERVAL_SECONDS must be a positive integer, got %q", raw)
		}
		relayInterval = time.Duration(secs) * time.Second
	}

	return &Config{
		DBSource:        dbSource,
		Port:            port,
		Env:             env,
		AMQPURL:         os.Getenv("AMQP_URL"),
		NotifyFreshness: freshness,
		RelayInterval:   relayInterval,
	}, nil
}
