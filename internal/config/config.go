package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for InfraPilot
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	AdminServer AdminServerConfig `mapstructure:"admin_server"`
	Model       ModelConfig       `mapstructure:"model"`
	Inference   InferenceConfig   `mapstructure:"inference"`
	RAG         RAGConfig         `mapstructure:"rag"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Security    SecurityConfig    `mapstructure:"security"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Database    DatabaseConfig    `mapstructure:"database"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AdminServerConfig holds admin server configuration
type AdminServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ModelConfig holds inference backend configuration
type ModelConfig struct {
	Provider  string        `mapstructure:"provider"`
	BaseURL   string        `mapstructure:"base_url"`
	Name      string        `mapstructure:"name"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeepAlive string        `mapstructure:"keep_alive"`
}

// InferenceConfig holds default sampling parameters
type InferenceConfig struct {
	DefaultMaxTokens   int     `mapstructure:"default_max_tokens"`
	DefaultTemperature float64 `mapstructure:"default_temperature"`
	DefaultTopP        float64 `mapstructure:"default_top_p"`
	DefaultTopK        int     `mapstructure:"default_top_k"`
	MaxPromptLength    int     `mapstructure:"max_prompt_length"`
}

// RAGConfig holds context store configuration
type RAGConfig struct {
	Driver         string `mapstructure:"driver"`
	StorePath      string `mapstructure:"store_path"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
	CollectionName string `mapstructure:"collection_name"`
	DefaultTopK    int    `mapstructure:"default_top_k"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	Dimension int    `mapstructure:"dimension"`
}

// SecurityConfig holds CORS and upload limits
type SecurityConfig struct {
	CORSOrigins    []string `mapstructure:"cors_origins"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
}

// AuthConfig holds JWT configuration for the admin service
type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// DatabaseConfig holds the admin service's relational store path
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("INFRAPILOT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.Model.BaseURL
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)

	v.SetDefault("admin_server.host", "0.0.0.0")
	v.SetDefault("admin_server.port", 8100)

	v.SetDefault("model.provider", "ollama")
	v.SetDefault("model.base_url", "http://localhost:11434")
	v.SetDefault("model.name", "terraform-codellama")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.timeout", "300s")
	v.SetDefault("model.keep_alive", "5m")

	v.SetDefault("inference.default_max_tokens", 512)
	v.SetDefault("inference.default_temperature", 0.7)
	v.SetDefault("inference.default_top_p", 0.9)
	v.SetDefault("inference.default_top_k", 50)
	v.SetDefault("inference.max_prompt_length", 4096)

	v.SetDefault("rag.driver", "sqlite")
	v.SetDefault("rag.store_path", "./data/rag.db")
	v.SetDefault("rag.postgres_dsn", "")
	v.SetDefault("rag.collection_name", "documents")
	v.SetDefault("rag.default_top_k", 3)

	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimension", 0)

	v.SetDefault("security.cors_origins", []string{"*"})
	v.SetDefault("security.max_upload_bytes", 10*1024*1024)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_ttl", "30m")
	v.SetDefault("auth.refresh_token_ttl", "168h")

	v.SetDefault("database.path", "./data/infrapilot.db")
}

// Address returns the gateway server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AdminAddress returns the admin server address
func (c *Config) AdminAddress() string {
	return fmt.Sprintf("%s:%d", c.AdminServer.Host, c.AdminServer.Port)
}
