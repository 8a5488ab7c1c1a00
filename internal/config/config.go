package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// RateLimit holds token bucket parameters for one limiter purpose
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// Config holds gateway configuration
type Config struct {
	Port            string
	Environment     string // development, staging, production
	UpstreamURL     string
	ImageOrigin     string
	BackendAPIURL   string
	BackendAPIToken string
	RedisURL        string
	RabbitMQURL     string
	AllowedOrigins  string
	CSPReportOnly   bool
	NonceSource     string // random or uuid
	LogLevel        string // debug, info, warn, error
	LogFormat       string // json or text

	// FetchAllowedHosts is added to the hosts derived from ImageOrigin and BackendAPIURL
	FetchAllowedHosts []string

	APIRateLimit    RateLimit
	AuthRateLimit   RateLimit
	ReportRateLimit RateLimit
}

// Load loads configuration from environment variables and validates it
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		UpstreamURL:       getEnv("UPSTREAM_URL", "http://localhost:3000"),
		ImageOrigin:       getEnv("IMAGE_ORIGIN", ""),
		BackendAPIURL:     getEnv("BACKEND_API_URL", ""),
		BackendAPIToken:   getEnv("BACKEND_API_TOKEN", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		RabbitMQURL:       getEnv("RABBITMQ_URL", ""),
		AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080"),
		CSPReportOnly:     getEnvBool("CSP_REPORT_ONLY", false),
		NonceSource:       getEnv("NONCE_SOURCE", "random"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		FetchAllowedHosts: splitList(getEnv("FETCH_ALLOWED_HOSTS", "")),
		APIRateLimit: RateLimit{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_API_RPS", 20),
			Burst:             getEnvInt("RATE_LIMIT_API_BURST", 50),
		},
		AuthRateLimit: RateLimit{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_AUTH_RPS", 1),
			Burst:             getEnvInt("RATE_LIMIT_AUTH_BURST", 10),
		},
		ReportRateLimit: RateLimit{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_REPORT_RPS", 5),
			Burst:             getEnvInt("RATE_LIMIT_REPORT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

// Validate checks configuration for security and correctness
func (c *Config) Validate() error {
	u, err := url.Parse(c.UpstreamURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("UPSTREAM_URL must be an absolute http(s) URL (got %q)", c.UpstreamURL)
	}

	for name, raw := range map[string]string{
		"IMAGE_ORIGIN":    c.ImageOrigin,
		"BACKEND_API_URL": c.BackendAPIURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL (got %q)", name, raw)
		}
		if c.IsProduction() && u.Scheme != "https" {
			return fmt.Errorf("%s must use https in production", name)
		}
	}

	if c.NonceSource != "" && c.NonceSource != "random" && c.NonceSource != "uuid" {
		return fmt.Errorf("NONCE_SOURCE must be random or uuid (got %q)", c.NonceSource)
	}

	for name, rl := range map[string]RateLimit{
		"RATE_LIMIT_API":    c.APIRateLimit,
		"RATE_LIMIT_AUTH":   c.AuthRateLimit,
		"RATE_LIMIT_REPORT": c.ReportRateLimit,
	} {
		if rl.RequestsPerSecond <= 0 || rl.Burst < 1 {
			return fmt.Errorf("%s requires a positive rate and burst", name)
		}
	}

	if c.IsProduction() && c.BackendAPIURL != "" && c.BackendAPIToken == "" {
		log.Println("WARNING: BACKEND_API_URL is set without BACKEND_API_TOKEN")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == ""
}

// Origins returns the CORS allowlist
func (c *Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

// FetchHosts returns every host outbound fetches may reach
func (c *Config) FetchHosts() []string {
	hosts := make([]string, 0, len(c.FetchAllowedHosts)+2)
	for _, raw := range []string{c.ImageOrigin, c.BackendAPIURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			hosts = append(hosts, u.Hostname())
		}
	}
	return append(hosts, c.FetchAllowedHosts...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
