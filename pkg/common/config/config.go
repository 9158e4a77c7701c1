package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers     []string
	KafkaEventsTopic string

	// Poller tuning
	PollerBatchSize    int
	PollerLockTTL      time.Duration
	PollerMaxPages     int
	FetchMaxAttempts   int
	FetchBaseDelay     time.Duration
	FetchMaxDelay      time.Duration
	FetchTimeout       time.Duration
	KeywordConfigPath  string
	ScheduleConfigPath string

	// Upstream API credentials
	CongressAPIKey     string
	OpenStatesAPIKey   string
	CourtListenerToken string

	// Upstream feed endpoints
	StateRegisterFeedURL    string
	CannabisRegistryFeedURL string
	PollStates              []string

	// Dispatcher
	PollerBaseURL    string
	DispatchTimeout  time.Duration
	WorkerAuthSecret string
	WorkerTokenTTL   time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 10*time.Minute),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 20),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "regscope"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "regscope123"),
		PostgresDB:       getEnv("POSTGRES_DB", "regscope"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:     getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaEventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "instrument-events"),

		PollerBatchSize:    getIntEnv("POLLER_BATCH_SIZE", 50),
		PollerLockTTL:      getDuration("POLLER_LOCK_TTL", 120*time.Minute),
		PollerMaxPages:     getIntEnv("POLLER_MAX_PAGES", 10),
		FetchMaxAttempts:   getIntEnv("FETCH_MAX_ATTEMPTS", 3),
		FetchBaseDelay:     getDuration("FETCH_BASE_DELAY", 500*time.Millisecond),
		FetchMaxDelay:      getDuration("FETCH_MAX_DELAY", 5*time.Second),
		FetchTimeout:       getDuration("FETCH_TIMEOUT", 15*time.Second),
		KeywordConfigPath:  getEnv("KEYWORD_CONFIG_PATH", ""),
		ScheduleConfigPath: getEnv("SCHEDULE_CONFIG_PATH", ""),

		CongressAPIKey:     getEnv("CONGRESS_API_KEY", ""),
		OpenStatesAPIKey:   getEnv("OPENSTATES_API_KEY", ""),
		CourtListenerToken: getEnv("COURTLISTENER_TOKEN", ""),

		StateRegisterFeedURL:    getEnv("STATE_REGISTER_FEED_URL", "https://feeds.regscope.ai/state-registers"),
		CannabisRegistryFeedURL: getEnv("CANNABIS_REGISTRY_FEED_URL", "https://feeds.regscope.ai/cannabis-programs"),
		PollStates:              getCSVEnv("POLL_STATES", []string{"CA", "CO", "WA", "OR", "NY", "FL", "TX", "MI"}),

		PollerBaseURL:    getEnv("POLLER_BASE_URL", "http://localhost:8081"),
		DispatchTimeout:  getDuration("DISPATCH_TIMEOUT", 10*time.Minute),
		WorkerAuthSecret: getEnv("WORKER_AUTH_SECRET", ""),
		WorkerTokenTTL:   getDuration("WORKER_TOKEN_TTL", 15*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getCSVEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
