package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"snapcapture/internal/logger"
)

// Extraction providers understood by the ocr package.
const (
	ProviderGemini     = "gemini"
	ProviderOpenAI     = "openai"
	ProviderVision     = "vision"
	ProviderDocumentAI = "documentai"
)

// Storage backends understood by the storage package.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	// Text extraction
	Provider              string
	GeminiAPIKey          string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	Model                 string
	GoogleCloudProject    string
	GoogleCloudLocation   string
	DocumentAIProcessorID string

	// History storage
	StorageBackend string
	DataDir        string
	HistoryKey     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string

	// Web UI
	HTTPBind string
	HTTPPort int

	// Optional Google Sheets share target
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	port, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Provider:              strings.ToLower(getEnv("SNAPCAPTURE_PROVIDER", ProviderGemini)),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", getEnv("API_KEY", "")),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		Model:                 getEnv("SNAPCAPTURE_MODEL", ""),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		StorageBackend:        strings.ToLower(getEnv("SNAPCAPTURE_STORAGE", BackendSQLite)),
		DataDir:               getEnv("SNAPCAPTURE_DATA_DIR", defaultDataDir()),
		HistoryKey:            getEnv("SNAPCAPTURE_HISTORY_KEY", "snapcapture_history"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:               redisDB,
		RedisPrefix:           getEnv("REDIS_PREFIX", "snapcapture:"),
		HTTPBind:              getEnv("HTTP_BIND", "127.0.0.1"),
		HTTPPort:              port,
		GoogleSheetURL:        getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet:  getEnv("GOOGLE_SHEET_WORKSHEET", "SnapCapture"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:             getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderVision, ProviderDocumentAI:
	default:
		return fmt.Errorf("unknown SNAPCAPTURE_PROVIDER %q", c.Provider)
	}

	switch c.StorageBackend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown SNAPCAPTURE_STORAGE %q", c.StorageBackend)
	}

	if c.HistoryKey == "" {
		return fmt.Errorf("SNAPCAPTURE_HISTORY_KEY must not be empty")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort)
	}
	return nil
}

// ValidateProvider checks the credentials the selected provider needs.
// Commands that never extract text (history listing) skip it.
func (c *Config) ValidateProvider() error {
	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY (or API_KEY) is required for provider %q", c.Provider)
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %q", c.Provider)
		}
	case ProviderVision:
	case ProviderDocumentAI:
		if c.GoogleCloudProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for provider %q", c.Provider)
		}
		if c.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required for provider %q", c.Provider)
		}
	default:
		return fmt.Errorf("unknown SNAPCAPTURE_PROVIDER %q", c.Provider)
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// Addr is the host:port the web UI listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".snapcapture"
	}
	return filepath.Join(home, ".snapcapture")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
