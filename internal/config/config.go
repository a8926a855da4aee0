// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	Observability ObservabilityConfig
	Provider      ProviderConfig
	LiveFeed      LiveFeedConfig
	Timing        TimingConfig
	Kafka         KafkaConfig
	Repository    RepositoryConfig
	Summarizer    SummarizerConfig
}

type ServiceConfig struct {
	Name        string
	HTTPPort    string
	GRPCPort    string
	MetricsPort string
	Env         string
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// ProviderConfig selects and configures the call-control provider.
type ProviderConfig struct {
	Name          string // mock, vapi
	APIKey        string
	BaseURL       string
	AssistantID   string
	PhoneNumberID string
	Timeout       time.Duration
}

// LiveFeedConfig configures the push channel for live call events.
type LiveFeedConfig struct {
	Transport         string // none, websocket, nats
	URLTemplate       string
	NatsURL           string
	SubjectTemplate   string
	SyntheticFallback bool
}

// TimingConfig holds the session timers.
type TimingConfig struct {
	ConnectDelay         time.Duration
	ActiveDelay          time.Duration
	StatusPollInterval   time.Duration
	CleanupDelay         time.Duration
	SyntheticMinInterval time.Duration
	SyntheticMaxInterval time.Duration
}

type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicState      string
	TopicTranscript string
	Principal       string
}

// RepositoryConfig configures where provider credentials are read from.
type RepositoryConfig struct {
	DatabaseURL       string
	OwnerID           string
	CacheTTL          time.Duration
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
}

type SummarizerConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Load reads configuration from the environment, falling back to defaults
// for unset or unparsable values.
func Load() *Config {
	serviceName := envOrDefault("SERVICE_NAME", "crm-call-service")

	return &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
			Env:         envOrDefault("ENV", "production"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
		Provider: ProviderConfig{
			Name:          envOrDefault("CALL_PROVIDER", "mock"),
			APIKey:        os.Getenv("VAPI_API_KEY"),
			BaseURL:       envOrDefault("VAPI_BASE_URL", "https://api.vapi.ai"),
			AssistantID:   os.Getenv("VAPI_ASSISTANT_ID"),
			PhoneNumberID: os.Getenv("VAPI_PHONE_NUMBER_ID"),
			Timeout:       envOrDefaultDuration("PROVIDER_TIMEOUT", 10*time.Second),
		},
		LiveFeed: LiveFeedConfig{
			Transport:         envOrDefault("LIVE_FEED_TRANSPORT", "none"),
			URLTemplate:       os.Getenv("LIVE_FEED_URL"),
			NatsURL:           envOrDefault("NATS_URL", "nats://localhost:4222"),
			SubjectTemplate:   envOrDefault("LIVE_FEED_SUBJECT", "crm.calls.{callId}.events"),
			SyntheticFallback: envOrDefaultBool("SYNTHETIC_FALLBACK", true),
		},
		Timing: TimingConfig{
			ConnectDelay:         envOrDefaultDuration("CONNECT_DELAY", 1500*time.Millisecond),
			ActiveDelay:          envOrDefaultDuration("ACTIVE_DELAY", 2*time.Second),
			StatusPollInterval:   envOrDefaultDuration("STATUS_POLL_INTERVAL", 5*time.Second),
			CleanupDelay:         envOrDefaultDuration("CLEANUP_DELAY", 2*time.Second),
			SyntheticMinInterval: envOrDefaultDuration("SYNTHETIC_MIN_INTERVAL", 8*time.Second),
			SyntheticMaxInterval: envOrDefaultDuration("SYNTHETIC_MAX_INTERVAL", 15*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envList("KAFKA_BROKERS"),
			TopicState:      envOrDefault("KAFKA_TOPIC_STATE", "crm.call.state"),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "crm.call.transcript"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", serviceName),
		},
		Repository: RepositoryConfig{
			DatabaseURL:       os.Getenv("DATABASE_URL"),
			OwnerID:           envOrDefault("CONFIG_OWNER_ID", "default"),
			CacheTTL:          envOrDefaultDuration("CONFIG_CACHE_TTL", 5*time.Minute),
			TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
			TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
			TwilioPhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
		},
		Summarizer: SummarizerConfig{
			APIKey:  os.Getenv("GROQ_API_KEY"),
			BaseURL: envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			Model:   envOrDefault("GROQ_MODEL", "llama-3.1-8b-instant"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envOrDefaultDuration accepts Go durations ("1500ms") or a bare number of
// milliseconds.
func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms := envOrDefaultInt(key, -1); ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
