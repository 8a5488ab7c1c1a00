package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Environment:     "development",
		UpstreamURL:     "http://localhost:3000",
		APIRateLimit:    RateLimit{RequestsPerSecond: 20, Burst: 50},
		AuthRateLimit:   RateLimit{RequestsPerSecond: 1, Burst: 10},
		ReportRateLimit: RateLimit{RequestsPerSecond: 5, Burst: 20},
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		expected    bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"dev", "dev", false},
		{"staging", "staging", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			if got := cfg.IsProduction(); got != tt.expected {
				t.Errorf("IsProduction() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		expected    bool
	}{
		{"development", "development", true},
		{"dev", "dev", true},
		{"empty", "", true},
		{"production", "production", false},
		{"prod", "prod", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			if got := cfg.IsDevelopment(); got != tt.expected {
				t.Errorf("IsDevelopment() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(c *Config)
		wantError     bool
		errorContains string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:          "relative_upstream",
			mutate:        func(c *Config) { c.UpstreamURL = "/app" },
			wantError:     true,
			errorContains: "UPSTREAM_URL",
		},
		{
			name:          "ftp_upstream",
			mutate:        func(c *Config) { c.UpstreamURL = "ftp://files.local" },
			wantError:     true,
			errorContains: "UPSTREAM_URL",
		},
		{
			name: "http_image_origin_in_development",
			mutate: func(c *Config) {
				c.ImageOrigin = "http://localhost:9000"
			},
		},
		{
			name: "http_image_origin_in_production",
			mutate: func(c *Config) {
				c.Environment = "production"
				c.ImageOrigin = "http://images.internal"
			},
			wantError:     true,
			errorContains: "IMAGE_ORIGIN must use https",
		},
		{
			name: "http_backend_in_production",
			mutate: func(c *Config) {
				c.Environment = "production"
				c.BackendAPIURL = "http://api.internal"
			},
			wantError:     true,
			errorContains: "BACKEND_API_URL must use https",
		},
		{
			name: "https_origins_in_production",
			mutate: func(c *Config) {
				c.Environment = "production"
				c.ImageOrigin = "https://images.goodlistseller.com"
				c.BackendAPIURL = "https://api.goodlistseller.com"
				c.BackendAPIToken = "token"
			},
		},
		{
			name:          "zero_burst",
			mutate:        func(c *Config) { c.AuthRateLimit.Burst = 0 },
			wantError:     true,
			errorContains: "RATE_LIMIT_AUTH",
		},
		{
			name:   "uuid_nonce_source",
			mutate: func(c *Config) { c.NonceSource = "uuid" },
		},
		{
			name:          "unknown_nonce_source",
			mutate:        func(c *Config) { c.NonceSource = "counter" },
			wantError:     true,
			errorContains: "NONCE_SOURCE",
		},
		{
			name:          "negative_rate",
			mutate:        func(c *Config) { c.APIRateLimit.RequestsPerSecond = -1 },
			wantError:     true,
			errorContains: "RATE_LIMIT_API",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantError {
				if err == nil {
					t.Error("Expected error, got nil")
				} else if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("Expected error containing %q, got %q", tt.errorContains, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestConfig_FetchHosts(t *testing.T) {
	cfg := validConfig()
	cfg.ImageOrigin = "https://images.goodlistseller.com"
	cfg.BackendAPIURL = "https://api.goodlistseller.com:8443/v1"
	cfg.FetchAllowedHosts = []string{"cdn.example.com"}

	got := cfg.FetchHosts()
	want := []string{"images.goodlistseller.com", "api.goodlistseller.com", "cdn.example.com"}

	if len(got) != len(want) {
		t.Fatalf("FetchHosts() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FetchHosts()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{"env_set", "TEST_KEY", "default", "custom", "custom"},
		{"env_not_set", "TEST_KEY_NOT_SET", "default", "", "default"},
		{"empty_default", "TEST_KEY_EMPTY", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.expected {
				t.Errorf("getEnv() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetEnvTyped(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_FLOAT", "2.5")
	t.Setenv("TEST_BAD_INT", "forty")

	if !getEnvBool("TEST_BOOL", false) {
		t.Error("getEnvBool() = false, want true")
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 0); got != 2.5 {
		t.Errorf("getEnvFloat() = %v, want 2.5", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with invalid value = %d, want default 7", got)
	}
}

func TestLoad_LogSettings(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "")
		t.Setenv("LOG_FORMAT", "")

		cfg := Load()
		if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
			t.Errorf("Load() log = %q/%q, want info/json", cfg.LogLevel, cfg.LogFormat)
		}
	})

	t.Run("from_env", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("LOG_FORMAT", "text")

		cfg := Load()
		if cfg.LogLevel != "debug" || cfg.LogFormat != "text" {
			t.Errorf("Load() log = %q/%q, want debug/text", cfg.LogLevel, cfg.LogFormat)
		}
	})
}

func TestSplitList(t *testing.T) {
	got := splitList(" a.com, ,b.com ,")
	if len(got) != 2 || got[0] != "a.com" || got[1] != "b.com" {
		t.Errorf("splitList() = %v, want [a.com b.com]", got)
	}
	if got := splitList(""); len(got) != 0 {
		t.Errorf("splitList(\"\") = %v, want empty", got)
	}
}

func TestConfig_Origins(t *testing.T) {
	cfg := &Config{AllowedOrigins: "https://goodlistseller.com, https://admin.goodlistseller.com"}

	got := cfg.Origins()
	if len(got) != 2 || got[1] != "https://admin.goodlistseller.com" {
		t.Errorf("Origins() = %v", got)
	}
}
