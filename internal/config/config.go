package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "FILEVAULT"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "filevault.db"
	defaultStorageRoot     = "uploads"
	defaultLogLevel        = "info"
	defaultBackupRetention = 5
	defaultMaxUploadBytes  = 50 << 20
	defaultTokenTTLMinutes = 24 * 60
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	StorageRoot     string
	SigningSecret   string
	TokenTTL        time.Duration
	BackupRetention int
	MaxUploadBytes  int64
	LogLevel        string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("storage.root", defaultStorageRoot)
	configViper.SetDefault("backup.retention", defaultBackupRetention)
	configViper.SetDefault("upload.max_bytes", defaultMaxUploadBytes)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		StorageRoot:     configViper.GetString("storage.root"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTL:        time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		BackupRetention: configViper.GetInt("backup.retention"),
		MaxUploadBytes:  configViper.GetInt64("upload.max_bytes"),
		LogLevel:        configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.StorageRoot) == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.BackupRetention < 1 {
		return fmt.Errorf("backup.retention must be at least 1")
	}
	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	return nil
}
