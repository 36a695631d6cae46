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

// Config holds all configuration for the document indexing core.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Indexing  IndexingConfig  `mapstructure:"indexing"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN renders the connection string, preferring an explicit url.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings for the query-embedding cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required when enabled")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when enabled")
	}
	return nil
}

// EmbeddingConfig describes the external embedding model.
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (e EmbeddingConfig) Validate() error {
	if e.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	return nil
}

// OCRConfig describes the external OCR engine invocation.
type OCRConfig struct {
	Binary    string        `mapstructure:"binary"`
	Languages []string      `mapstructure:"languages"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// IndexingConfig carries chunking and scan-detection tunables. The defaults
// (1200/200 chunking, 200-character scan threshold) are carried over from the
// original deployment and are tunable, not derived.
type IndexingConfig struct {
	ChunkSize          int `mapstructure:"chunk_size"`
	ChunkOverlap       int `mapstructure:"chunk_overlap"`
	ScanThresholdChars int `mapstructure:"scan_threshold_chars"`
}

// LoadConfig loads config from file, falling back to defaults plus
// DOCINDEX_* environment variables when no file is present.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.redis.cache_ttl", "1h")
	viper.SetDefault("embedding.base_url", "https://api.openai.com")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimensions", 1536)
	viper.SetDefault("embedding.timeout", "30s")
	viper.SetDefault("ocr.binary", "ocrmypdf")
	viper.SetDefault("ocr.languages", []string{"eng", "fas"})
	viper.SetDefault("ocr.timeout", "120s")
	viper.SetDefault("indexing.chunk_size", 1200)
	viper.SetDefault("indexing.chunk_overlap", 200)
	viper.SetDefault("indexing.scan_threshold_chars", 200)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DOCINDEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Embedding.Validate(); err != nil {
		panic(err)
	}
	return &config
}
