package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models edigate.yml.
type Config struct {
	Ingest struct {
		// DefaultPartner attributes runs whose caller does not name a
		// partner. Partner attribution is always an explicit input; this
		// is only the seed value.
		DefaultPartner string `yaml:"default_partner"`
		DocTypes       map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"doc_types"`
	} `yaml:"ingest"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Assistant struct {
		APIBase string `yaml:"api_base"`
		Model   string `yaml:"model"`
	} `yaml:"assistant"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one downstream event subscriber.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Ingest.DefaultPartner == "" {
		return fmt.Errorf("config.ingest.default_partner is required")
	}
	if len(c.Ingest.DocTypes) == 0 {
		return fmt.Errorf("config.ingest.doc_types is required")
	}
	for dt := range c.Ingest.DocTypes {
		if dt != "850" && dt != "856" {
			return fmt.Errorf("unsupported doc type %q in config.ingest.doc_types", dt)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "edigate.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with edigate config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `ingest:
  default_partner: COSTCO

  doc_types:
    "850":
      description: "Purchase order"
    "856":
      description: "Advance ship notice"

server:
  addr: 127.0.0.1:8080
  base_path: /v0

assistant:
  api_base: https://api.openai.com/v1
  model: gpt-4o-mini
`
