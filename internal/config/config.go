package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowedOrigins"`
	AuthToken      string   `json:"authToken,omitempty"`
}

// RateLimitConfig defines per-user admission limits for the chatbot
type RateLimitConfig struct {
	Threshold int           `json:"threshold"` // messages per window
	Window    time.Duration `json:"window"`
}

// DelegateConfig defines the message-processing delegate settings
type DelegateConfig struct {
	Provider    string        `json:"provider"` // "openai" or "anthropic"
	Model       string        `json:"model"`
	APIKey      string        `json:"apiKey,omitempty"`
	Timeout     time.Duration `json:"timeout"`
	MaxTokens   int64         `json:"maxTokens"`
	Temperature float64       `json:"temperature"`
}

// StorageConfig defines persistence settings
type StorageConfig struct {
	Directory      string        `json:"directory"`
	ConversationDB string        `json:"conversationDB"`
	CounterDB      string        `json:"counterDB"`
	AdmitTimeout   time.Duration `json:"admitTimeout"`
	PersistTimeout time.Duration `json:"persistTimeout"`
}

// ServicesConfig holds base URLs for the platform services the suggestions
// provider queries for pending items.
type ServicesConfig struct {
	PaymentURL     string `json:"paymentURL"`
	MaintenanceURL string `json:"maintenanceURL"`
	LeaseURL       string `json:"leaseURL"`
}

// Config is the main configuration structure for the service
type Config struct {
	Server    ServerConfig    `json:"server"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Delegate  DelegateConfig  `json:"delegate"`
	Storage   StorageConfig   `json:"storage"`
	Services  ServicesConfig  `json:"services"`
	Debug     bool            `json:"debug,omitempty"`
}

const (
	appName              = "propflow"
	defaultDataDirectory = ".propflow"
)

// Load initializes the configuration from config files and environment variables
func Load(configPath string, debug bool) (*Config, error) {
	configureViper(configPath)
	setDefaults(debug)

	if err := readConfig(viper.ReadInConfig()); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           viper.GetString("server.host"),
			Port:           viper.GetInt("server.port"),
			AllowedOrigins: splitOrigins(viper.GetString("server.allowedOrigins")),
			AuthToken:      viper.GetString("server.authToken"),
		},
		RateLimit: RateLimitConfig{
			Threshold: viper.GetInt("rateLimit.threshold"),
			Window:    viper.GetDuration("rateLimit.window"),
		},
		Delegate: DelegateConfig{
			Provider:    viper.GetString("delegate.provider"),
			Model:       viper.GetString("delegate.model"),
			Timeout:     viper.GetDuration("delegate.timeout"),
			MaxTokens:   viper.GetInt64("delegate.maxTokens"),
			Temperature: viper.GetFloat64("delegate.temperature"),
		},
		Storage: StorageConfig{
			Directory:      viper.GetString("storage.directory"),
			AdmitTimeout:   viper.GetDuration("storage.admitTimeout"),
			PersistTimeout: viper.GetDuration("storage.persistTimeout"),
		},
		Services: ServicesConfig{
			PaymentURL:     viper.GetString("services.paymentURL"),
			MaintenanceURL: viper.GetString("services.maintenanceURL"),
			LeaseURL:       viper.GetString("services.leaseURL"),
		},
		Debug: viper.GetBool("debug"),
	}

	// API keys come from the environment, never from config files
	cfg.Delegate.APIKey = delegateAPIKey(cfg.Delegate.Provider)

	// Derive store paths from the data directory unless overridden
	cfg.Storage.ConversationDB = viper.GetString("storage.conversationDB")
	if cfg.Storage.ConversationDB == "" {
		cfg.Storage.ConversationDB = filepath.Join(cfg.Storage.Directory, "conversations.db")
	}
	cfg.Storage.CounterDB = viper.GetString("storage.counterDB")
	if cfg.Storage.CounterDB == "" {
		cfg.Storage.CounterDB = filepath.Join(cfg.Storage.Directory, "ratelimit")
	}

	return cfg, nil
}

// configureViper sets up viper's configuration paths and environment variables
func configureViper(configPath string) {
	viper.Reset()
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName(fmt.Sprintf(".%s", appName))
		viper.SetConfigType("json")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
	}
	viper.SetEnvPrefix(strings.ToUpper(appName))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// setDefaults configures default values for configuration options
func setDefaults(debug bool) {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.allowedOrigins", "http://localhost:3000,http://localhost:4000")

	viper.SetDefault("rateLimit.threshold", 30)
	viper.SetDefault("rateLimit.window", time.Minute)

	viper.SetDefault("delegate.provider", "openai")
	viper.SetDefault("delegate.model", "gpt-4o")
	viper.SetDefault("delegate.timeout", 30*time.Second)
	viper.SetDefault("delegate.maxTokens", 1000)
	viper.SetDefault("delegate.temperature", 0.3)

	viper.SetDefault("storage.directory", defaultDataDirectory)
	viper.SetDefault("storage.admitTimeout", 500*time.Millisecond)
	viper.SetDefault("storage.persistTimeout", 2*time.Second)

	viper.SetDefault("services.paymentURL", "http://localhost:4006")
	viper.SetDefault("services.maintenanceURL", "http://localhost:4004")
	viper.SetDefault("services.leaseURL", "http://localhost:4005")

	if debug {
		viper.SetDefault("debug", true)
	}
}

// readConfig tolerates a missing config file; all settings have defaults
func readConfig(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("failed to read config: %w", err)
}

// delegateAPIKey resolves the API key for the configured provider from the
// environment, matching the platform's deployment conventions.
func delegateAPIKey(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

func splitOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
