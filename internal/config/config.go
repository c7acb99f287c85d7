package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models intentbid.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	RFOs struct {
		MaxPerBuyerPerMonth int `yaml:"max_per_buyer_per_month"`
	} `yaml:"rfos"`
	Offers struct {
		CooldownSeconds                   int  `yaml:"cooldown_seconds"`
		MaxPerVendorPerRFO                int  `yaml:"max_per_vendor_per_rfo"`
		RequireVerifiedVendorsForHardware bool `yaml:"require_verified_vendors_for_hardware"`
	} `yaml:"offers"`
	Outbox struct {
		MaxAttempts          int `yaml:"max_attempts"`
		DispatchIntervalSecs int `yaml:"dispatch_interval_seconds"`
		DeliveryTimeoutSecs  int `yaml:"delivery_timeout_seconds"`
	} `yaml:"outbox"`
	Scoring struct {
		Profiles map[string]ProfileWeights `yaml:"profiles"`
	} `yaml:"scoring"`
	HardwareCategories []string `yaml:"hardware_categories"`
}

// ProfileWeights is a named preset of ranking weights. Price, delivery,
// warranty and traceability must sum to 1.0.
type ProfileWeights struct {
	Price        float64 `yaml:"price"`
	Delivery     float64 `yaml:"delivery"`
	Warranty     float64 `yaml:"warranty"`
	Traceability float64 `yaml:"traceability"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.RFOs.MaxPerBuyerPerMonth < 0 {
		return fmt.Errorf("config.rfos.max_per_buyer_per_month must be non-negative")
	}
	if c.Offers.CooldownSeconds < 0 {
		return fmt.Errorf("config.offers.cooldown_seconds must be non-negative")
	}
	if c.Offers.MaxPerVendorPerRFO <= 0 {
		return fmt.Errorf("config.offers.max_per_vendor_per_rfo must be positive")
	}
	if c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("config.outbox.max_attempts must be positive")
	}
	if c.Outbox.DeliveryTimeoutSecs <= 0 {
		return fmt.Errorf("config.outbox.delivery_timeout_seconds must be positive")
	}
	for name, p := range c.Scoring.Profiles {
		if name == "" {
			return fmt.Errorf("config.scoring.profiles contains empty profile name")
		}
		sum := p.Price + p.Delivery + p.Warranty + p.Traceability
		if math.Abs(sum-1.0) > 1e-9 {
			return fmt.Errorf("scoring profile %s weights sum to %.3f, want 1.0", name, sum)
		}
		for _, w := range []float64{p.Price, p.Delivery, p.Warranty, p.Traceability} {
			if w < 0 {
				return fmt.Errorf("scoring profile %s has negative weight", name)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "intentbid.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections absent
// from the file keep their built-in defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: :8080
  base_path: /v1
  jwt_secret: ""

rfos:
  max_per_buyer_per_month: 100

offers:
  cooldown_seconds: 60
  max_per_vendor_per_rfo: 3
  require_verified_vendors_for_hardware: true

outbox:
  max_attempts: 3
  dispatch_interval_seconds: 5
  delivery_timeout_seconds: 5

scoring:
  profiles:
    fastest:
      price: 0.2
      delivery: 0.6
      warranty: 0.1
      traceability: 0.1
    cheapest:
      price: 0.65
      delivery: 0.15
      warranty: 0.1
      traceability: 0.1
    balanced:
      price: 0.4
      delivery: 0.3
      warranty: 0.2
      traceability: 0.1

hardware_categories:
  - cpu
  - gpu
  - memory
  - storage
  - mainboard
  - networking
`
