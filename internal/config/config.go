package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	General struct {
		DefaultAI string `koanf:"default_ai"`
	} `koanf:"general"`

	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	AutoSend struct {
		Enabled                bool    `koanf:"enabled"`
		OrderIntentThreshold   float64 `koanf:"order_intent_threshold"`
		GeneralIntentThreshold float64 `koanf:"general_intent_threshold"`
	} `koanf:"autosend"`

	Observation struct {
		// StaleAfter is how long a human-handled thread may sit without
		// operator activity before the sweep force-closes it.
		StaleAfter    time.Duration `koanf:"stale_after"`
		SweepInterval time.Duration `koanf:"sweep_interval"`
	} `koanf:"observation"`

	Messaging struct {
		RatePerMinute int `koanf:"rate_per_minute"`
		// DeliveryURL is the channel adapter endpoint outbound replies are
		// posted to. Empty means log-only delivery.
		DeliveryURL string `koanf:"delivery_url"`
	} `koanf:"messaging"`

	AI map[string]map[string]interface{} `koanf:"ai"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"general.default_ai":                "gemini",
		"server.port":                       8972,
		"autosend.enabled":                  false,
		"autosend.order_intent_threshold":   0.90,
		"autosend.general_intent_threshold": 0.75,
		"observation.stale_after":           "48h",
		"observation.sweep_interval":        "15m",
		"messaging.rate_per_minute":         30,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations - prioritize dfdata directory for containerized environments
		defaultPaths := []string{"./dfdata/deskflow.toml", "./deskflow.toml", "$HOME/.deskflow.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix DESKFLOW_
	k.Load(env.Provider("DESKFLOW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(s), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# Deskflow Configuration

[general]
default_ai = "gemini"

[server]
port = 8972

[autosend]
enabled = false
order_intent_threshold = 0.90
general_intent_threshold = 0.75

[observation]
stale_after = "48h"
sweep_interval = "15m"

[messaging]
rate_per_minute = 30
# delivery_url = "http://localhost:9000/deliver"

[ai.gemini]
api_key = "your-gemini-api-key"
model = "gemini-2.5-flash"
temperature = 0.2
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.General.DefaultAI == "" {
		return fmt.Errorf("default AI provider is required")
	}

	aiConfig, ok := config.AI[config.General.DefaultAI]
	if !ok {
		return fmt.Errorf("configuration for AI provider %s not found", config.General.DefaultAI)
	}

	if config.General.DefaultAI != "ollama" {
		if _, ok := aiConfig["api_key"]; !ok {
			return fmt.Errorf("%s api_key is required", config.General.DefaultAI)
		}
	}

	if config.AutoSend.OrderIntentThreshold < config.AutoSend.GeneralIntentThreshold {
		return fmt.Errorf("order intent threshold must not be below the general intent threshold")
	}

	if config.Observation.StaleAfter <= 0 {
		return fmt.Errorf("observation stale_after must be positive")
	}

	return nil
}
