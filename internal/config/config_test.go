package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}

	// No explicit path falls back to defaults when no file is found.
	cfg, err = LoadConfig("")
	assert.NoError(t, err)

	if cfg.Server.Port != 8972 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.AutoSend.Enabled {
		t.Error("auto-send must default to off")
	}
	if cfg.AutoSend.OrderIntentThreshold != 0.90 || cfg.AutoSend.GeneralIntentThreshold != 0.75 {
		t.Errorf("default thresholds = %v / %v", cfg.AutoSend.OrderIntentThreshold, cfg.AutoSend.GeneralIntentThreshold)
	}
	if cfg.Observation.StaleAfter != 48*time.Hour {
		t.Errorf("default stale_after = %s", cfg.Observation.StaleAfter)
	}
	if cfg.Observation.SweepInterval != 15*time.Minute {
		t.Errorf("default sweep_interval = %s", cfg.Observation.SweepInterval)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskflow.toml")
	content := `
[general]
default_ai = "openai"

[server]
port = 9100

[autosend]
enabled = true
order_intent_threshold = 0.95
general_intent_threshold = 0.80

[observation]
stale_after = "24h"

[ai.openai]
api_key = "sk-test"
model = "gpt-4o-mini"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	assert.NoError(t, err)

	if cfg.General.DefaultAI != "openai" {
		t.Errorf("default_ai = %s", cfg.General.DefaultAI)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if !cfg.AutoSend.Enabled {
		t.Error("autosend.enabled not loaded")
	}
	if cfg.Observation.StaleAfter != 24*time.Hour {
		t.Errorf("stale_after = %s", cfg.Observation.StaleAfter)
	}
	// Un-set sections keep their defaults.
	if cfg.Observation.SweepInterval != 15*time.Minute {
		t.Errorf("sweep_interval = %s", cfg.Observation.SweepInterval)
	}
	if cfg.AI["openai"]["model"] != "gpt-4o-mini" {
		t.Errorf("ai section = %v", cfg.AI["openai"])
	}

	assert.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		cfg.AI = map[string]map[string]interface{}{
			"gemini": {"api_key": "key", "model": "gemini-2.5-flash"},
			"ollama": {"model": "llama3"},
		}
		return cfg
	}

	cfg := base()
	assert.NoError(t, Validate(cfg))

	cfg = base()
	cfg.General.DefaultAI = "openai"
	if err := Validate(cfg); err == nil {
		t.Error("missing provider section must fail validation")
	}

	cfg = base()
	delete(cfg.AI["gemini"], "api_key")
	if err := Validate(cfg); err == nil {
		t.Error("missing api_key must fail validation")
	}

	// Ollama is local and needs no key.
	cfg = base()
	cfg.General.DefaultAI = "ollama"
	assert.NoError(t, Validate(cfg))

	cfg = base()
	cfg.AutoSend.OrderIntentThreshold = 0.5
	cfg.AutoSend.GeneralIntentThreshold = 0.8
	if err := Validate(cfg); err == nil {
		t.Error("order threshold below general threshold must fail validation")
	}

	cfg = base()
	cfg.Observation.StaleAfter = 0
	if err := Validate(cfg); err == nil {
		t.Error("zero stale_after must fail validation")
	}
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskflow.toml")

	assert.NoError(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	assert.NoError(t, err)
	if cfg.Server.Port != 8972 {
		t.Errorf("generated sample port = %d", cfg.Server.Port)
	}

	if err := InitConfig(path); err == nil {
		t.Error("InitConfig must refuse to overwrite an existing file")
	}
}
