package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server" json:"server"`
	HTTP        HTTPConfig        `mapstructure:"http" json:"http"`
	StorageDir  string            `mapstructure:"storage_dir" json:"storage_dir"`
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings" json:"embeddings"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" json:"maintenance"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Addr    string `mapstructure:"addr" json:"addr"`
	Key     string `mapstructure:"key" json:"key,omitempty"`
}

type EmbeddingsConfig struct {
	Dimension int    `mapstructure:"dimension" json:"dimension"`
	Provider  string `mapstructure:"provider" json:"provider"`
	Model     string `mapstructure:"model" json:"model"`
	APIKey    string `mapstructure:"api_key" json:"api_key,omitempty"`
	BaseURL   string `mapstructure:"base_url" json:"base_url"`
}

type MaintenanceConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	Schedule string `mapstructure:"schedule" json:"schedule"`
}

const (
	DefaultAddr      = "127.0.0.1:50051"
	DefaultHTTPAddr  = "127.0.0.1:8080"
	DefaultDimension = 1024
	DefaultProvider  = "hash"
	DefaultSchedule  = "0 0 3 * * *"
)

func Load(override string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	appDir := filepath.Join(home, ".kbserve")
	if _, err := os.Stat(appDir); os.IsNotExist(err) {
		_ = os.MkdirAll(appDir, 0755)
	}

	// Environment overrides
	if envDir := os.Getenv("KB_STORAGE_DIR"); envDir != "" {
		appDir = envDir
		_ = os.MkdirAll(appDir, 0755)
	}

	v := viper.New()
	v.SetDefault("server.addr", DefaultAddr)
	v.SetDefault("http.addr", DefaultHTTPAddr)
	v.SetDefault("embeddings.dimension", DefaultDimension)
	v.SetDefault("embeddings.provider", DefaultProvider)
	v.SetDefault("maintenance.schedule", DefaultSchedule)

	if override != "" {
		v.AddConfigPath(".")
		v.SetConfigFile(override)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(appDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		return nil, fmt.Errorf("invalid server.addr %q: %w", cfg.Server.Addr, err)
	}
	if cfg.HTTP.Enabled {
		if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
			return nil, fmt.Errorf("invalid http.addr %q: %w", cfg.HTTP.Addr, err)
		}
	}

	if cfg.Embeddings.Dimension <= 0 {
		return nil, fmt.Errorf("embeddings.dimension must be positive, got %d", cfg.Embeddings.Dimension)
	}

	if cfg.StorageDir == "" {
		cfg.StorageDir = appDir
	}
	if strings.HasPrefix(cfg.StorageDir, "~/") {
		cfg.StorageDir = filepath.Join(home, cfg.StorageDir[2:])
	}

	// Resolve API key from inline placeholder ($VAR) or the default env variable
	apiKey := cfg.Embeddings.APIKey
	if strings.HasPrefix(apiKey, "$") {
		varName := strings.TrimPrefix(apiKey, "$")
		apiKey = os.Getenv(varName)
	} else if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.Embeddings.APIKey = apiKey

	return &cfg, nil
}
