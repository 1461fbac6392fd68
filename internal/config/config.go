package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for one run. It is loaded and validated
// before any network call is made.
type Config struct {
	// Keyword tiers for the relevance pre-filter.
	CoreKeywords    []string `json:"core_keywords"`
	RelatedKeywords []string `json:"related_keywords"`

	// Feed settings
	ArxivCategories []string `json:"arxiv_categories"`
	FeedDays        int      `json:"feed_days"`

	// Pipeline settings
	MaxItems          int `json:"max_items"`
	RetryBudget       int `json:"retry_budget"`
	ConcurrencyCap    int `json:"concurrency_cap"`
	RunTimeoutSeconds int `json:"run_timeout_seconds"`

	// LLM provider settings
	LLMAPIKey  string `json:"-"` // Don't expose in JSON
	LLMBaseURL string `json:"llm_base_url"`
	LLMModel   string `json:"llm_model"`

	// Telegram settings
	TelegramBotToken string `json:"-"` // Don't expose in JSON
	TelegramChatID   string `json:"telegram_chat_id"`

	// Server settings
	Host             string `json:"host"`
	Port             string `json:"port"`
	DigestSchedule   string `json:"digest_schedule"`
	TriggerAuthToken string `json:"-"` // Don't expose in JSON
}

// Load reads configuration from environment variables, an optional .env file
// and an optional keywords YAML file.
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	config := &Config{
		CoreKeywords:      parseStringSlice(getEnvOrDefault("CORE_KEYWORDS", "Edge Intelligence,Transformer,Network Optimization")),
		RelatedKeywords:   parseStringSlice(getEnvOrDefault("RELATED_KEYWORDS", "Federated Learning,IoT,Mobile Computing,Attention Mechanism,Neural Network Pruning,Model Compression")),
		ArxivCategories:   parseStringSlice(getEnvOrDefault("ARXIV_CATEGORIES", "cs.AI,cs.LG,cs.NI")),
		FeedDays:          getEnvOrDefaultInt("FEED_DAYS", 2),
		MaxItems:          getEnvOrDefaultInt("MAX_ITEMS", 10),
		RetryBudget:       getEnvOrDefaultInt("RETRY_BUDGET", 3),
		ConcurrencyCap:    getEnvOrDefaultInt("CONCURRENCY_CAP", 3),
		RunTimeoutSeconds: getEnvOrDefaultInt("RUN_TIMEOUT_SECONDS", 600),
		LLMAPIKey:         getEnvOrDefault("LLM_API_KEY", ""),
		LLMBaseURL:        getEnvOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModel:          getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		TelegramBotToken:  getEnvOrDefault("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnvOrDefault("TELEGRAM_CHAT_ID", ""),
		Host:              getEnvOrDefault("HOST", "0.0.0.0"),
		Port:              getEnvOrDefault("PORT", "8080"),
		DigestSchedule:    getEnvOrDefault("DIGEST_SCHEDULE", "0 8 * * *"),
		TriggerAuthToken:  getEnvOrDefault("TRIGGER_AUTH_TOKEN", ""),
	}

	// A keywords file overrides the env keyword lists when present.
	path := getEnvOrDefault("KEYWORDS_FILE", "keywords.yaml")
	if err := config.loadKeywordsFile(path); err != nil {
		return nil, err
	}

	return config, config.validate()
}

// keywordsFile is the on-disk shape of the optional keywords YAML file.
type keywordsFile struct {
	Core    []string `yaml:"core"`
	Related []string `yaml:"related"`
}

func (c *Config) loadKeywordsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ConfigError{Field: "KEYWORDS_FILE", Message: fmt.Sprintf("reading %s: %v", path, err)}
	}

	var kw keywordsFile
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return &ConfigError{Field: "KEYWORDS_FILE", Message: fmt.Sprintf("parsing %s: %v", path, err)}
	}

	if len(kw.Core) > 0 {
		c.CoreKeywords = trimAll(kw.Core)
	}
	if len(kw.Related) > 0 {
		c.RelatedKeywords = trimAll(kw.Related)
	}
	return nil
}

// validate checks if required configuration values are present
func (c *Config) validate() error {
	if c.LLMAPIKey == "" {
		return &ConfigError{Field: "LLM_API_KEY", Message: "LLM API key is required"}
	}
	if c.TelegramBotToken == "" {
		return &ConfigError{Field: "TELEGRAM_BOT_TOKEN", Message: "Telegram bot token is required"}
	}
	if c.TelegramChatID == "" {
		return &ConfigError{Field: "TELEGRAM_CHAT_ID", Message: "Telegram chat ID is required"}
	}
	if len(c.CoreKeywords) == 0 && len(c.RelatedKeywords) == 0 {
		return &ConfigError{Field: "CORE_KEYWORDS", Message: "at least one keyword is required"}
	}
	if len(c.ArxivCategories) == 0 {
		return &ConfigError{Field: "ARXIV_CATEGORIES", Message: "at least one category is required"}
	}
	if c.MaxItems < 1 {
		return &ConfigError{Field: "MAX_ITEMS", Message: "must be at least 1"}
	}
	if c.RetryBudget < 1 {
		return &ConfigError{Field: "RETRY_BUDGET", Message: "must be at least 1"}
	}
	if c.ConcurrencyCap < 1 {
		return &ConfigError{Field: "CONCURRENCY_CAP", Message: "must be at least 1"}
	}
	if c.RunTimeoutSeconds < 1 {
		return &ConfigError{Field: "RUN_TIMEOUT_SECONDS", Message: "must be at least 1"}
	}
	if c.FeedDays < 1 {
		return &ConfigError{Field: "FEED_DAYS", Message: "must be at least 1"}
	}
	return nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default if not set
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// parseStringSlice parses comma-separated string into slice
func parseStringSlice(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func trimAll(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
