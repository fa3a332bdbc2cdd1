package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"marketnotify/pkg/log"
)

const envPrefix = "MARKETNOTIFY"

var (
	globalMu     sync.RWMutex
	globalConfig *Config
)

// Loader reads configuration from file, an optional environment overlay and env vars.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader for configPath, or the default search paths when empty.
func NewLoader(configPath string) *Loader {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("/etc/marketnotify")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// Load reads, merges, defaults and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Warn("config file not found, using defaults and environment variables")
	}

	if used := l.v.ConfigFileUsed(); used != "" {
		envFile := filepath.Join(filepath.Dir(used), fmt.Sprintf("config.%s.yaml", Env()))
		if _, err := os.Stat(envFile); err == nil {
			l.v.SetConfigFile(envFile)
			if err := l.v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to merge env config %s: %w", envFile, err)
			}
			l.v.SetConfigFile(used)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	setGlobal(cfg)
	return cfg, nil
}

// Watch reloads the configuration when the file changes. onChange only sees configs that validate.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			log.WithFields(map[string]interface{}{
				"file":  e.Name,
				"error": err.Error(),
			}).Error("config reload rejected")
			return
		}
		log.WithField("file", e.Name).Info("config reloaded")
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

func setGlobal(cfg *Config) {
	globalMu.Lock()
	globalConfig = cfg
	globalMu.Unlock()
}

// GetConfig returns the last successfully loaded configuration
func GetConfig() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalConfig == nil {
		panic("config not loaded, call LoadConfig first")
	}
	return globalConfig
}

// Env returns the deployment environment name
func Env() string {
	return GetEnv(envPrefix+"_ENV", "dev")
}

// GetEnv returns environment variable value with fallback
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// IsProduction returns true if running in production mode
func IsProduction() bool {
	env := Env()
	return env == "prod" || env == "production"
}
