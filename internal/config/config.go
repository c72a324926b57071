// Package config provides environment configuration for the chat service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSAllowedOrigins []string

	// Storage
	DatabaseURL string
	RedisURL    string

	// NATS settings. An empty URL disables the event feed.
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings for the admin API
	JWTSecret string

	// LLM settings
	AnthropicAPIKey   string
	OpenAIAPIKey      string
	GeminiAPIKey      string
	LLMProvider       string
	EmbeddingProvider string
	EmbeddingModel    string
	ChatModel         string
	ChatMaxTokens     int
	ChatTemperature   float64
	ChatTimeout       time.Duration
	ChatContextTurns  int

	// Session rate limiting
	RateLimitBackend  string
	RateLimitMax      int
	RateLimitWindow   time.Duration
	RateLimitFailOpen bool

	// Coarse per-IP limit in front of /chat
	IPRateLimitRequests int
	IPRateLimitWindow   time.Duration

	// Retrieval
	RetrievalThreshold float64
	RetrievalLimit     int

	// Business facts interpolated into the system prompt
	BusinessName     string
	BusinessLocation string
	ContactEmail     string
	ContactPhone     string
	BookingURL       string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment variables
// take precedence over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
		CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"https://*", "http://*"}),

		// Storage
		DatabaseURL: getEnv("DATABASE_URL", "assistant.db"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		LLMProvider:       getEnv("LLM_PROVIDER", "openai"),
		EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "openai"),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		ChatModel:         getEnv("CHAT_MODEL", "gpt-4o-mini"),
		ChatMaxTokens:     getIntEnv("CHAT_MAX_TOKENS", 1000),
		ChatTemperature:   getFloatEnv("CHAT_TEMPERATURE", 0.7),
		ChatTimeout:       getDurationEnv("CHAT_TIMEOUT", 30*time.Second),
		ChatContextTurns:  getIntEnv("CHAT_CONTEXT_TURNS", 10),

		// Session rate limiting
		RateLimitBackend:  getEnv("RATE_LIMIT_BACKEND", "database"),
		RateLimitMax:      getIntEnv("CHAT_RATE_LIMIT_MAX", 20),
		RateLimitWindow:   getDurationEnv("CHAT_RATE_LIMIT_WINDOW", time.Hour),
		RateLimitFailOpen: getBoolEnv("RATE_LIMIT_FAIL_OPEN", false),

		IPRateLimitRequests: getIntEnv("IP_RATE_LIMIT_REQUESTS", 60),
		IPRateLimitWindow:   getDurationEnv("IP_RATE_LIMIT_WINDOW", time.Minute),

		// Retrieval
		RetrievalThreshold: getFloatEnv("RETRIEVAL_THRESHOLD", 0.3),
		RetrievalLimit:     getIntEnv("RETRIEVAL_LIMIT", 5),

		// Business facts
		BusinessName:     getEnv("BUSINESS_NAME", "Frame Studio"),
		BusinessLocation: getEnv("BUSINESS_LOCATION", "Athens, Greece"),
		ContactEmail:     getEnv("CONTACT_EMAIL", "hello@framestudio.gr"),
		ContactPhone:     getEnv("CONTACT_PHONE", "+30 210 000 0000"),
		BookingURL:       getEnv("BOOKING_URL", "https://framestudio.gr/contact"),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
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
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
