package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GLOWSCAN_QUOTA_DAILY_LIMIT.
const EnvPrefix = "GLOWSCAN"

// Config holds all application configuration. It is built once per process
// and handed to constructors.
type Config struct {
	Server struct {
		Port       string `mapstructure:"port"`
		Debug      bool   `mapstructure:"debug"`
		CORSOrigin string `mapstructure:"cors_origin"`
	} `mapstructure:"server"`

	Auth struct {
		WorkerSecret string `mapstructure:"worker_secret"` // legacy static bearer
		JWTSecret    string `mapstructure:"jwt_secret"`    // HS256 key for user tokens
	} `mapstructure:"auth"`

	Quota struct {
		DailyLimit int64         `mapstructure:"daily_limit"`
		CounterTTL time.Duration `mapstructure:"counter_ttl"`
	} `mapstructure:"quota"`

	Cache struct {
		Enabled bool          `mapstructure:"enabled"`
		TTL     time.Duration `mapstructure:"ttl"`
	} `mapstructure:"cache"`

	Store struct {
		Driver        string        `mapstructure:"driver"` // "sqlite" or "dynamodb"
		SQLitePath    string        `mapstructure:"sqlite_path"`
		DynamoDBTable string        `mapstructure:"dynamodb_table"`
		PurgeInterval time.Duration `mapstructure:"purge_interval"`
	} `mapstructure:"store"`

	Records struct {
		DatabaseURL string `mapstructure:"database_url"`
	} `mapstructure:"records"`

	ML struct {
		Type            string `mapstructure:"type"` // "google" or "local"
		ProjectID       string `mapstructure:"project_id"`
		Location        string `mapstructure:"location"`
		CredentialsFile string `mapstructure:"credentials_file"`
		VisionModel     string `mapstructure:"vision_model"`
		TextModel       string `mapstructure:"text_model"`
		EmbeddingModel  string `mapstructure:"embedding_model"`
		GenAIAPIKey     string `mapstructure:"genai_api_key"`
	} `mapstructure:"ml"`

	Knowledge struct {
		TopK     int    `mapstructure:"top_k"`
		SeedFile string `mapstructure:"seed_file"`
	} `mapstructure:"knowledge"`

	Fetch struct {
		MaxBytes int64 `mapstructure:"max_bytes"`
	} `mapstructure:"fetch"`

	Background struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"background"`
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("quota.daily_limit", 100)
	v.SetDefault("quota.counter_ttl", 25*time.Hour)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "glowscan.db")
	v.SetDefault("store.purge_interval", 15*time.Minute)
	v.SetDefault("ml.type", "google")
	v.SetDefault("ml.location", "us-central1")
	v.SetDefault("ml.vision_model", "gemini-1.5-flash")
	v.SetDefault("ml.text_model", "gemini-1.5-flash")
	v.SetDefault("ml.embedding_model", "text-embedding-004")
	v.SetDefault("knowledge.top_k", 3)
	v.SetDefault("fetch.max_bytes", 10<<20)
	v.SetDefault("background.timeout", 10*time.Second)
}

// LoadConfig reads configPath (if it exists) into v, layers environment
// overrides on top and decodes the result.
func LoadConfig(v *viper.Viper, configPath string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// AutomaticEnv only applies to keys viper already knows about; bind the
	// ones that have no default so env-only deployments still work.
	for _, key := range []string{
		"server.debug", "auth.worker_secret", "auth.jwt_secret", "store.dynamodb_table",
		"records.database_url", "ml.project_id", "ml.credentials_file", "ml.genai_api_key",
		"knowledge.seed_file",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is not set")
	}
	if c.Quota.DailyLimit < 0 {
		return fmt.Errorf("quota daily_limit must not be negative")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store sqlite_path is not set")
		}
	case "dynamodb":
		if c.Store.DynamoDBTable == "" {
			return fmt.Errorf("store dynamodb_table is not set")
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	switch c.ML.Type {
	case "google", "local":
	default:
		return fmt.Errorf("unsupported model type: %s", c.ML.Type)
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}
