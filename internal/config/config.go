package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv string

	// Remote source of truth
	APIURL  string
	ChatURL string

	// Identity (bearer token issued by the auth collaborator)
	AccessToken string

	// Paging
	PageSize int

	// Timeouts
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	ChannelInvokeTimeout time.Duration

	// Outgoing comments per second on the chat channel; 0 disables the cap
	ChannelSendRate float64

	// Logging
	LogLevel  string
	LogFormat string

	// Ops endpoint (healthz, metrics); empty disables it
	OpsAddr string

	// Tracing
	TracingEnabled     bool
	OTLPEndpoint       string
	TracingSampleRatio float64

	// Optional startup behaviour
	WatchActivityID string
	PredicateName   string
	PredicateValue  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.AppEnv = getEnv("APP_ENV", "dev")

	cfg.APIURL = strings.TrimRight(getEnv("API_URL", "http://localhost:5000/api"), "/")
	cfg.ChatURL = getEnv("CHAT_URL", "")
	if cfg.ChatURL == "" {
		cfg.ChatURL = deriveChatURL(cfg.APIURL)
	}

	cfg.AccessToken = getEnv("ACCESS_TOKEN", "")

	pageSize, err := getInt("PAGE_SIZE", 2)
	if err != nil {
		return nil, err
	}
	cfg.PageSize = pageSize

	if cfg.ReadTimeout, err = getDuration("HTTP_READ_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = getDuration("HTTP_WRITE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ChannelInvokeTimeout, err = getDuration("CHANNEL_INVOKE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	if cfg.ChannelSendRate, err = getFloat("CHANNEL_SEND_RATE", 2); err != nil {
		return nil, err
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	cfg.OpsAddr = getEnv("OPS_ADDR", "")

	if cfg.TracingEnabled, err = getBool("TRACING_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.OTLPEndpoint = getEnv("OTLP_ENDPOINT", "")
	if cfg.TracingSampleRatio, err = getFloat("TRACING_SAMPLE_RATIO", 1); err != nil {
		return nil, err
	}

	cfg.WatchActivityID = getEnv("WATCH_ACTIVITY_ID", "")

	// PREDICATE=isGoing=true | startDate=2024-01-01T00:00:00Z | all
	if p := getEnv("PREDICATE", ""); p != "" {
		name, value, _ := strings.Cut(p, "=")
		cfg.PredicateName = strings.TrimSpace(name)
		cfg.PredicateValue = strings.TrimSpace(value)
	}

	// --- Validation (fail fast)
	if _, err := url.ParseRequestURI(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("invalid API_URL %q: %w", cfg.APIURL, err)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("PAGE_SIZE must be > 0, got %d", cfg.PageSize)
	}
	if cfg.AppEnv != "dev" && cfg.AccessToken == "" {
		return nil, fmt.Errorf("missing ACCESS_TOKEN (required when APP_ENV != dev)")
	}

	return cfg, nil
}

// deriveChatURL maps http(s)://host/api to ws(s)://host/chat.
func deriveChatURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/chat"
	u.RawQuery = ""
	return u.String()
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int env %s=%q", k, v)
	}
	return i, nil
}

func getFloat(k string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid float env %s=%q", k, v)
	}
	return f, nil
}

func getBool(k string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean env %s=%q", k, v)
	}
}

func getDuration(k string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration env %s=%q", k, v)
	}
	return d, nil
}
