// Package config loads client and gateway settings from WIT_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by WIT_BACKEND.
const (
	BackendWitAI  = "witai"
	BackendRelay  = "relay"
	BackendGemini = "gemini"
)

type Config struct {
	// Backend selection.
	Backend       string
	AccessToken   string
	WitBaseURL    string
	WitAPIVersion string
	RelayURL      string
	GeminiModel   string
	GeminiIntents []string

	// Backend HTTP/WebSocket client defaults. No overall query timeout is
	// applied; these only bound connection setup.
	BackendConnectTimeout time.Duration

	// Session defaults.
	AudioDevice string
	Verbosity   int
	SampleRate  int

	// Auto voice endpointing.
	EndpointThreshold   float64
	EndpointMinSpeech   time.Duration
	EndpointSilence     time.Duration
	EndpointMaxDuration time.Duration

	// Async dispatch.
	MaxInFlight      int64
	CallbackQueue    int
	CallbackInvokers int

	// Query journal (optional).
	DatabaseURL string

	// Gateway.
	Addr                string
	CORSAllowedOrigins  []string
	MaxBodyBytes        int64
	ResultTTL           time.Duration
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Backend:               strings.ToLower(envOr("WIT_BACKEND", BackendWitAI)),
		AccessToken:           envOr("WIT_ACCESS_TOKEN", ""),
		WitBaseURL:            envOr("WIT_API_URL", "https://api.wit.ai"),
		WitAPIVersion:         envOr("WIT_API_VERSION", "20240304"),
		RelayURL:              envOr("WIT_RELAY_URL", ""),
		GeminiModel:           envOr("WIT_GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiIntents:         splitCSV(os.Getenv("WIT_GEMINI_INTENTS")),
		BackendConnectTimeout: envDurationOr("WIT_BACKEND_CONNECT_TIMEOUT", 10*time.Second),
		AudioDevice:           envOr("WIT_AUDIO_DEVICE", ""),
		Verbosity:             envIntOr("WIT_VERBOSITY", 4),
		SampleRate:            envIntOr("WIT_SAMPLE_RATE", 16000),
		EndpointThreshold:     envFloat64Or("WIT_ENDPOINT_THRESHOLD", 0.02),
		EndpointMinSpeech:     envDurationOr("WIT_ENDPOINT_MIN_SPEECH", 100*time.Millisecond),
		EndpointSilence:       envDurationOr("WIT_ENDPOINT_SILENCE", 800*time.Millisecond),
		EndpointMaxDuration:   envDurationOr("WIT_ENDPOINT_MAX_DURATION", 10*time.Second),
		MaxInFlight:           envInt64Or("WIT_MAX_IN_FLIGHT", 0),
		CallbackQueue:         envIntOr("WIT_CALLBACK_QUEUE", 64),
		CallbackInvokers:      envIntOr("WIT_CALLBACK_INVOKERS", 1),
		DatabaseURL:           envOr("WIT_DATABASE_URL", ""),
		Addr:                  envOr("WIT_GATEWAY_ADDR", ":8080"),
		CORSAllowedOrigins:    splitCSV(os.Getenv("WIT_GATEWAY_CORS_ORIGINS")),
		MaxBodyBytes:          envInt64Or("WIT_GATEWAY_MAX_BODY_BYTES", 64<<10), // 64 KiB
		ResultTTL:             envDurationOr("WIT_GATEWAY_RESULT_TTL", 10*time.Minute),
		ReadHeaderTimeout:     envDurationOr("WIT_GATEWAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:           envDurationOr("WIT_GATEWAY_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:   envDurationOr("WIT_GATEWAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Flag overrides should be applied
// before calling it again.
func (cfg Config) Validate() error {
	switch cfg.Backend {
	case BackendWitAI, BackendGemini:
	case BackendRelay:
		if cfg.RelayURL == "" {
			return fmt.Errorf("WIT_RELAY_URL must be set when WIT_BACKEND=relay")
		}
		if !strings.HasPrefix(cfg.RelayURL, "ws://") && !strings.HasPrefix(cfg.RelayURL, "wss://") {
			return fmt.Errorf("WIT_RELAY_URL must be a ws:// or wss:// URL")
		}
	default:
		return fmt.Errorf("WIT_BACKEND must be one of witai|relay|gemini")
	}

	if strings.TrimSpace(cfg.WitBaseURL) == "" {
		return fmt.Errorf("WIT_API_URL must not be empty")
	}
	if cfg.BackendConnectTimeout <= 0 {
		return fmt.Errorf("WIT_BACKEND_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.Verbosity < 0 {
		return fmt.Errorf("WIT_VERBOSITY must be >= 0")
	}
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("WIT_SAMPLE_RATE must be > 0")
	}
	if cfg.EndpointThreshold <= 0 || cfg.EndpointThreshold >= 1 {
		return fmt.Errorf("WIT_ENDPOINT_THRESHOLD must be in (0, 1)")
	}
	if cfg.EndpointMinSpeech <= 0 {
		return fmt.Errorf("WIT_ENDPOINT_MIN_SPEECH must be > 0")
	}
	if cfg.EndpointSilence <= 0 {
		return fmt.Errorf("WIT_ENDPOINT_SILENCE must be > 0")
	}
	if cfg.EndpointMaxDuration < cfg.EndpointSilence {
		return fmt.Errorf("WIT_ENDPOINT_MAX_DURATION must be >= WIT_ENDPOINT_SILENCE")
	}
	if cfg.MaxInFlight < 0 {
		return fmt.Errorf("WIT_MAX_IN_FLIGHT must be >= 0")
	}
	if cfg.CallbackQueue <= 0 {
		return fmt.Errorf("WIT_CALLBACK_QUEUE must be > 0")
	}
	if cfg.CallbackInvokers <= 0 {
		return fmt.Errorf("WIT_CALLBACK_INVOKERS must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("WIT_GATEWAY_MAX_BODY_BYTES must be > 0")
	}
	if cfg.ResultTTL <= 0 {
		return fmt.Errorf("WIT_GATEWAY_RESULT_TTL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("WIT_GATEWAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("WIT_GATEWAY_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("WIT_GATEWAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	// Bare integers are milliseconds.
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
