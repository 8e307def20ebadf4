package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Classifier  ClassifierConfig  `mapstructure:"classifier"`
	Explanation ExplanationConfig `mapstructure:"explanation"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig configures the analysis archive.
// Driver is "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
	}
	return c.Path
}

// StorageConfig configures the S3-compatible image archive.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

// ClassifierConfig selects the cell classification provider ("remote" or "fixed").
type ClassifierConfig struct {
	Provider string `mapstructure:"provider"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Timeout  int    `mapstructure:"timeout"` // seconds
}

// AnalysisConfig controls the job pipeline.
type AnalysisConfig struct {
	Workers         int           `mapstructure:"workers"`
	StageTimeout    time.Duration `mapstructure:"stage_timeout"`
	Retention       time.Duration `mapstructure:"retention"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MinWidth        int           `mapstructure:"min_width"`
	MinHeight       int           `mapstructure:"min_height"`
	TargetSize      int           `mapstructure:"target_size"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	WBCSumTolerance float64       `mapstructure:"wbc_sum_tolerance"`
	MinBrightness   float64       `mapstructure:"min_brightness"`
	MaxBrightness   float64       `mapstructure:"max_brightness"`
}

// QdrantConfig configures the similar-case index.
type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// LoggingConfig controls log level, format and the optional rotated log file.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	FileOnly   bool   `mapstructure:"file_only"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration from file, .env and environment.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and . for config.yaml.
//
// Returns:
//   - *Config: loaded and validated configuration.
//   - error: non-nil if the file cannot be parsed or validation fails.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	_ = v.BindEnv("classifier.endpoint", "CLASSIFIER_ENDPOINT")
	_ = v.BindEnv("classifier.api_key", "CLASSIFIER_API_KEY")
	_ = v.BindEnv("explanation.api_key", "EXPLANATION_API_KEY")
	_ = v.BindEnv("explanation.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("qdrant.host", "QDRANT_HOST")
	_ = v.BindEnv("qdrant.port", "QDRANT_PORT")
	_ = v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("logging.file", "LOG_FILE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Explanation.ResolveEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/bloodcell.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "smears")
	v.SetDefault("storage.prefix", "uploads")

	v.SetDefault("classifier.provider", "fixed")
	v.SetDefault("classifier.timeout", 60)

	v.SetDefault("explanation.provider", "template")
	v.SetDefault("explanation.model", "gpt-4o-mini")
	v.SetDefault("explanation.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("explanation.timeout", 60)
	v.SetDefault("explanation.max_tokens", 800)

	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.stage_timeout", "2m")
	v.SetDefault("analysis.retention", "24h")
	v.SetDefault("analysis.sweep_interval", "10m")
	v.SetDefault("analysis.min_width", 256)
	v.SetDefault("analysis.min_height", 256)
	v.SetDefault("analysis.target_size", 224)
	v.SetDefault("analysis.max_upload_bytes", 10<<20)
	v.SetDefault("analysis.wbc_sum_tolerance", 5.0)
	v.SetDefault("analysis.min_brightness", 30.0)
	v.SetDefault("analysis.max_brightness", 220.0)

	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "blood_smear_cases")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Analysis.Workers <= 0 {
		errs = append(errs, errors.New("analysis.workers must be positive"))
	}
	if c.Analysis.StageTimeout <= 0 {
		errs = append(errs, errors.New("analysis.stage_timeout must be positive"))
	}
	if c.Analysis.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("analysis.max_upload_bytes must be positive"))
	}
	if c.Analysis.MinBrightness < 0 {
		errs = append(errs, errors.New("analysis.min_brightness must not be negative (0 disables the dark-image check)"))
	}
	if c.Analysis.MinBrightness >= c.Analysis.MaxBrightness {
		errs = append(errs, errors.New("analysis.min_brightness must be below analysis.max_brightness"))
	}
	if c.Analysis.WBCSumTolerance < 0 {
		errs = append(errs, errors.New("analysis.wbc_sum_tolerance must not be negative"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}
	if c.Classifier.Provider == "remote" && c.Classifier.Endpoint == "" {
		errs = append(errs, errors.New("classifier.endpoint is required for the remote provider"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unsupported logging.format %q", c.Logging.Format))
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required when storage is enabled"))
	}
	return errors.Join(errs...)
}
