package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	APIBaseURL        string
	SocketURL         string
	APIToken          string
	UserID            string
	StateDB           string
	Language          string
	LogLevel          string
	MetricsAddr       string
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	HandshakeTimeout  time.Duration
	SendRate          float64
	QueryStaleTime    time.Duration
	AckTimeout        time.Duration
}

// Load reads the configuration from the environment. Variables from a .env
// file in the working directory and from the YAML file named by INBOX_CONFIG
// fill in what the environment does not set. oneShot relaxes the settings
// only a live session needs.
func Load(oneShot bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	file, err := readFile(os.Getenv("INBOX_CONFIG"))
	if err != nil {
		return nil, err
	}
	return load(file, oneShot)
}

func load(file map[string]string, oneShot bool) (*Config, error) {
	get := func(key, fallback string) string {
		if value, ok := os.LookupEnv(key); ok {
			return value
		}
		if value, ok := file[strings.ToLower(key)]; ok {
			return value
		}
		return fallback
	}

	var errs []error
	duration := func(key, fallback string) time.Duration {
		d, err := time.ParseDuration(get(key, fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}

	attempts, err := strconv.Atoi(get("RECONNECT_ATTEMPTS", "10"))
	if err != nil {
		errs = append(errs, fmt.Errorf("RECONNECT_ATTEMPTS: %w", err))
	}
	sendRate, err := strconv.ParseFloat(get("SEND_RATE", "5"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("SEND_RATE: %w", err))
	}

	cfg := &Config{
		APIBaseURL:        get("API_BASE_URL", "http://localhost:3000/api"),
		SocketURL:         get("SOCKET_URL", ""),
		APIToken:          get("API_TOKEN", ""),
		UserID:            get("USER_ID", ""),
		StateDB:           get("STATE_DB", "inboxsync.db"),
		Language:          get("LANGUAGE", "en"),
		LogLevel:          get("LOG_LEVEL", "info"),
		MetricsAddr:       get("METRICS_ADDR", ""),
		ReconnectInitial:  duration("RECONNECT_INITIAL", "1s"),
		ReconnectMax:      duration("RECONNECT_MAX", "30s"),
		ReconnectAttempts: attempts,
		HandshakeTimeout:  duration("HANDSHAKE_TIMEOUT", "10s"),
		SendRate:          sendRate,
		QueryStaleTime:    duration("QUERY_STALE_TIME", "30s"),
		AckTimeout:        duration("ACK_TIMEOUT", "15s"),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(oneShot); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(oneShot bool) error {
	if err := checkURL("API_BASE_URL", c.APIBaseURL, "http", "https"); err != nil {
		return err
	}
	if !oneShot {
		if c.SocketURL == "" {
			return fmt.Errorf("SOCKET_URL is required")
		}
		if err := checkURL("SOCKET_URL", c.SocketURL, "ws", "wss"); err != nil {
			return err
		}
		if c.UserID == "" {
			return fmt.Errorf("USER_ID is required")
		}
	}

	if c.ReconnectInitial <= 0 || c.ReconnectMax < c.ReconnectInitial {
		return fmt.Errorf("RECONNECT_INITIAL must be positive and not above RECONNECT_MAX")
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("RECONNECT_ATTEMPTS must not be negative")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("HANDSHAKE_TIMEOUT must be greater than 0")
	}
	if c.SendRate <= 0 {
		return fmt.Errorf("SEND_RATE must be greater than 0")
	}
	if c.QueryStaleTime <= 0 {
		return fmt.Errorf("QUERY_STALE_TIME must be greater than 0")
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("ACK_TIMEOUT must be greater than 0")
	}

	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL", key, strings.Join(schemes, " or "))
}

// readFile parses a flat YAML mapping of lower-case keys, e.g.
// "api_base_url: https://inbox.example.com/api". An empty path yields no
// values.
func readFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[strings.ToLower(k)] = fmt.Sprint(v)
	}
	return values, nil
}
