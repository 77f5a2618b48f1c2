package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	DefaultUploadDir      = "uploads"
	DefaultMaxMessageSize = 1 << 20
	DefaultMaxChunks      = 512
	DefaultUploadTTL      = 5 * time.Minute
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	Store          string
	UploadDir      string
	MaxMessageSize int64
	MaxChunks      int
	UploadTTL      time.Duration
}

// FileConfig mirrors the command line flags so a deployment can keep its
// settings in a YAML file. Empty values leave the flag value untouched.
type FileConfig struct {
	Addr           string   `yaml:"addr"`
	DSN            string   `yaml:"dsn"`
	SigningKey     string   `yaml:"signing_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Store          string   `yaml:"store"`
	UploadDir      string   `yaml:"upload_dir"`
	MaxMessageSize int64    `yaml:"max_message_size"`
	MaxChunks      int      `yaml:"max_chunks"`
	UploadTTL      string   `yaml:"upload_ttl"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Store:          StorePostgres,
		UploadDir:      DefaultUploadDir,
		MaxMessageSize: DefaultMaxMessageSize,
		MaxChunks:      DefaultMaxChunks,
		UploadTTL:      DefaultUploadTTL,
	}, nil
}

// Validate checks the settings that NewConfig does not take as arguments.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("upload directory cannot be empty")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive")
	}
	if c.MaxChunks <= 0 {
		return fmt.Errorf("max chunks must be positive")
	}
	if c.UploadTTL <= 0 {
		return fmt.Errorf("upload ttl must be positive")
	}
	return nil
}

func LoadFile(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if fc.UploadTTL != "" {
		if _, err := time.ParseDuration(fc.UploadTTL); err != nil {
			return nil, fmt.Errorf("parse upload_ttl: %w", err)
		}
	}

	return &fc, nil
}
