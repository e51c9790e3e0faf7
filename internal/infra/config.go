package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"broker_go/internal/domain"

	"gopkg.in/yaml.v3"
)

// InstrumentConfig declares a tradable instrument ensured at startup.
type InstrumentConfig struct {
	Symbol        string `yaml:"symbol"`
	QuoteCurrency string `yaml:"quote_currency"`
	MaxLeverage   int    `yaml:"max_leverage"`
	Type          string `yaml:"type"`
}

// Config holds the full application configuration. Sensitive values can be
// overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		ListenAddr     string   `yaml:"listen_addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	Instruments []InstrumentConfig `yaml:"instruments"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Env overrides win over file values (deployment secrets)
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	for _, inst := range c.Instruments {
		if inst.Symbol == "" || inst.QuoteCurrency == "" {
			return fmt.Errorf("instrument requires symbol and quote currency: %+v", inst)
		}
		if !strings.HasSuffix(inst.Symbol, inst.QuoteCurrency) {
			return fmt.Errorf("instrument %s does not end in quote currency %s", inst.Symbol, inst.QuoteCurrency)
		}
		if inst.MaxLeverage < 1 {
			return fmt.Errorf("instrument %s requires max leverage >= 1", inst.Symbol)
		}
	}
	return nil
}

// overrideWithEnv applies environment variable overrides when present.
func overrideWithEnv(cfg *Config) {
	if addr := os.Getenv("BROKER_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pass := os.Getenv("BROKER_REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}
	if path := os.Getenv("BROKER_DB_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if addr := os.Getenv("BROKER_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
}
