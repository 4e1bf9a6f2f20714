// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/guardian/internal/analyzer"
	"github.com/mbd888/guardian/internal/security"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port           string
	Env            string // "development", "staging", "production"
	LogLevel       string
	LogFormat      string // "json" or "text"
	AllowedOrigins []string
	RateLimitRPM   int
	APIKeys        []string // empty disables auth on /v1
	AdminSecret    string   // X-Admin-Secret for /v1/admin

	// Audit trail (optional, uses in-memory if not set)
	DatabaseURL string
	AutoMigrate bool // apply embedded migrations on startup

	// Generative analyzers
	GeminiAPIKey   string
	GeminiModel    string
	GeminiEndpoint string
	GenAITimeout   time.Duration

	// Scoring
	RegistryPath     string // empty uses the embedded bank list
	HistorySize      int
	AnalyzerDeadline time.Duration

	// Alerts
	AlertWebhookURLs   []string
	AlertWebhookSecret string

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort             = "8000"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultGeminiModel      = "gemini-1.5-flash"
	DefaultGeminiEndpoint   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultHistorySize      = 5
	DefaultAnalyzerDeadline = 8 * time.Second
	DefaultGenAITimeout     = 3 * time.Second
	DefaultRateLimitRPM     = 120

	// MinHistorySize is the smallest window that still lets the
	// repeated-amount rule (five identical amounts) fire.
	MinHistorySize = 5
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	gen := genAIFromEnv()
	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		APIKeys:            getEnvList("API_KEYS", nil),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		AutoMigrate:        getEnvBool("AUTO_MIGRATE", false),
		GeminiAPIKey:       gen.APIKey,
		GeminiModel:        gen.Model,
		GeminiEndpoint:     gen.Endpoint,
		GenAITimeout:       gen.Timeout,
		RegistryPath:       os.Getenv("BANK_REGISTRY_PATH"),
		HistorySize:        getEnvInt("HISTORY_WINDOW_SIZE", DefaultHistorySize),
		AnalyzerDeadline:   gen.Deadline,
		AlertWebhookURLs:   getEnvList("ALERT_WEBHOOK_URLS", nil),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}

	if c.HistorySize < MinHistorySize {
		return fmt.Errorf("HISTORY_WINDOW_SIZE must be at least %d", MinHistorySize)
	}

	if err := c.GenAI().Validate(); err != nil {
		return err
	}

	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}

	for _, u := range c.AlertWebhookURLs {
		if err := security.ValidateEndpointURL(u); err != nil {
			return fmt.Errorf("ALERT_WEBHOOK_URLS entry %q: %w", u, err)
		}
	}

	return nil
}

// GenAI is the generative analyzer part of the configuration. The server
// and the offline CLI both build their analyzers from it.
type GenAI struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration // per model call attempt
	Deadline time.Duration // whole orchestrator fan-out
}

// LoadGenAI reads only the generative analyzer settings. Like Load it
// honours .env and the GOOGLE_API_KEY fallback.
func LoadGenAI() (GenAI, error) {
	_ = godotenv.Load()

	gen := genAIFromEnv()
	if err := gen.Validate(); err != nil {
		return GenAI{}, err
	}
	return gen, nil
}

func genAIFromEnv() GenAI {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	return GenAI{
		APIKey:   apiKey,
		Model:    getEnv("GEMINI_MODEL", DefaultGeminiModel),
		Endpoint: strings.TrimRight(getEnv("GEMINI_ENDPOINT", DefaultGeminiEndpoint), "/"),
		Timeout:  getEnvDuration("GENAI_TIMEOUT", DefaultGenAITimeout),
		Deadline: getEnvDuration("ANALYZER_DEADLINE", DefaultAnalyzerDeadline),
	}
}

// Validate checks that every model attempt, the retry delay and the
// heuristic fallback fit inside the deadline.
func (g GenAI) Validate() error {
	if g.Deadline <= 0 {
		return fmt.Errorf("ANALYZER_DEADLINE must be positive")
	}
	if g.Timeout <= 0 {
		return fmt.Errorf("GENAI_TIMEOUT must be positive")
	}
	if budget := analyzer.AttemptBudget(g.Timeout); budget >= g.Deadline {
		return fmt.Errorf("GENAI_TIMEOUT (%s) needs %s with retries and fallback, which does not fit ANALYZER_DEADLINE (%s)",
			g.Timeout, budget, g.Deadline)
	}
	return nil
}

// Analyzer converts the settings to the analyzer client config.
func (g GenAI) Analyzer() analyzer.GenerativeConfig {
	return analyzer.GenerativeConfig{
		APIKey:   g.APIKey,
		Model:    g.Model,
		Endpoint: g.Endpoint,
		Timeout:  g.Timeout,
	}
}

// GenAI returns the generative analyzer settings.
func (c *Config) GenAI() GenAI {
	return GenAI{
		APIKey:   c.GeminiAPIKey,
		Model:    c.GeminiModel,
		Endpoint: c.GeminiEndpoint,
		Timeout:  c.GenAITimeout,
		Deadline: c.AnalyzerDeadline,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GenAIEnabled reports whether a credential for the generative analyzers is present.
func (c *Config) GenAIEnabled() bool {
	return c.GeminiAPIKey != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
