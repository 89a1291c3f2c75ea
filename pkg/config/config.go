package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the contributor service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Chain      ChainConfig      `yaml:"chain"`
	Conductor  ConductorConfig  `yaml:"conductor"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Escrow     EscrowConfig     `yaml:"escrow"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" default:"60s"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost" validate:"required"`
	Port     int    `yaml:"port" default:"5432" validate:"min=1,max=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"icco_contributor" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" default:"disable" validate:"oneof=disable require verify-ca verify-full"`
}

// GetConnectionString returns the PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// ChainConfig identifies the chain this contributor runs on
type ChainConfig struct {
	// ChainID is the bridge-assigned chain identifier of this chain.
	ChainID uint16 `yaml:"chain_id" validate:"required"`
	Owner   string `yaml:"owner" validate:"omitempty,eth_addr"`
}

// ConductorConfig identifies the conductor contract that originates sales
type ConductorConfig struct {
	ChainID uint16 `yaml:"chain_id" validate:"required"`
	// Address is the 32-byte emitter address of the conductor, hex encoded.
	Address string `yaml:"address" validate:"required"`
}

// BridgeConfig contains the message bridge settings used for VAA verification
type BridgeConfig struct {
	CoreContract     string   `yaml:"core_contract" validate:"required"`
	TokenBridge      string   `yaml:"token_bridge" validate:"required"`
	GuardianSetIndex uint32   `yaml:"guardian_set_index"`
	Guardians        []string `yaml:"guardians" validate:"required,min=1,dive,eth_addr"`
}

// EscrowConfig contains settings for the escrow host integration
type EscrowConfig struct {
	WebhookURL      string        `yaml:"webhook_url" validate:"omitempty,url"`
	RequestTimeout  time.Duration `yaml:"request_timeout" default:"10s"`
	PollInterval    time.Duration `yaml:"poll_interval" default:"5s"`
	BatchSize       int           `yaml:"batch_size" default:"50" validate:"min=1"`
	MaxAttempts     int           `yaml:"max_attempts" default:"5" validate:"min=1"`
	InitialInterval time.Duration `yaml:"initial_interval" default:"500ms" validate:"gt=0"`
	JWTSecret       string        `yaml:"jwt_secret"`
	JWKSURL         string        `yaml:"jwks_url" validate:"omitempty,url"`
	JWTIssuer       string        `yaml:"jwt_issuer"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// Load reads the YAML configuration file at path, expands environment
// references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document into a validated Config.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	if cfg.Conductor.ChainID == cfg.Chain.ChainID {
		return fmt.Errorf("conductor.chain_id must differ from chain.chain_id (%d)", cfg.Chain.ChainID)
	}
	if _, err := DecodeAddress32(cfg.Conductor.Address); err != nil {
		return fmt.Errorf("conductor.address: %w", err)
	}
	if cfg.Escrow.JWTSecret == "" && cfg.Escrow.JWKSURL == "" {
		return fmt.Errorf("escrow.jwt_secret or escrow.jwks_url is required")
	}
	return nil
}

// DecodeAddress32 decodes a hex string into a left-padded 32-byte address.
func DecodeAddress32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) == 0 || len(b) > 32 {
		return out, fmt.Errorf("invalid length %d", len(b))
	}
	copy(out[32-len(b):], b)
	return out, nil
}
