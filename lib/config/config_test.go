// config_test.go tests config files
package config

import (
	"errors"
	"testing"
)

// fileToTest is a relative path to the configuration file to test (ie. cmd/conf.json)
var fileToTest string = "../../cmd/conf.json"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	// extract configuration
	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Errorf("Error reading config file:%e\n", err)
	} else {
		// lets check the port
		if conf.Port != "3030" {
			t.Errorf("config port is not the expected %s", conf.Port)
		}
		// cache timings
		if conf.TTLMin != 30 || conf.RefreshMin != 30 || conf.HistoryDays != 100 {
			t.Errorf("cache timings do not match the expected %d %d %d", conf.TTLMin, conf.RefreshMin, conf.HistoryDays)
		}
		// the file does not list targets, the default watch-target set applies
		if len(conf.Targets) != 4 {
			t.Errorf("targets do not match the expected %v", conf.Targets)
		} else if conf.Targets[0].Chain != "Ethereum" || conf.Targets[3].Chain != "Solana" {
			t.Errorf("targets do not match the expected %v", conf.Targets)
		}
		// tiers read from file
		if len(conf.Tiers) != 4 || conf.Tiers[3].Name != "VIP" {
			t.Errorf("tiers do not match the expected %v", conf.Tiers)
		}
	}
}

// TestConfigEnvOverride checks OS ENV variables take precedence over file values
func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("GMT_PORT", "8080")
	t.Setenv("ETHERSCAN_API_KEY", "ENVKEY")
	t.Setenv("GMT_TTL_MIN", "5")

	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Fatalf("Error reading config file:%e\n", err)
	}

	if conf.Port != "8080" || conf.EtherscanKey != "ENVKEY" || conf.TTLMin != 5 {
		t.Errorf("env overrides not applied: %s %s %d", conf.Port, conf.EtherscanKey, conf.TTLMin)
	}
}

// TestValidate checks the fail-fast configuration checks
func TestValidate(t *testing.T) {
	base := func() ServiceConfig {
		return ServiceConfig{
			EtherscanKey: "k",
			HeliusKey:    "k",
			TTLMin:       30,
			RefreshMin:   30,
			Targets:      DefaultTargets(),
		}
	}

	if err := base().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	c := base()
	c.Targets = nil
	if err := c.Validate(); !errors.Is(err, ErrNoTargets) {
		t.Errorf("expected ErrNoTargets, got %v", err)
	}

	c = base()
	c.TTLMin = 0
	if err := c.Validate(); !errors.Is(err, ErrBadTTL) {
		t.Errorf("expected ErrBadTTL, got %v", err)
	}

	c = base()
	c.EtherscanKey = ""
	if err := c.Validate(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}

	c = base()
	c.Targets = []TargetConfig{{Chain: "Tron", Address: "T123", Tokens: []TokenConfig{{Symbol: "USDT", Decimals: 6}}}}
	if err := c.Validate(); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("expected ErrUnknownTarget, got %v", err)
	}

	c = base()
	c.Targets[0].Tokens[0].Decimals = 99
	if err := c.Validate(); !errors.Is(err, ErrBadDecimals) {
		t.Errorf("expected ErrBadDecimals, got %v", err)
	}
}
