package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	ServiceBus  ServiceBusConfig  `mapstructure:"service_bus"`
	Screenshots ScreenshotConfig  `mapstructure:"screenshots"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// RedisConfig holds the Redis connection settings. An empty Addr
// disables the device cache.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

// ServiceBusConfig holds the Azure Service Bus settings. An empty
// connection string disables event publishing.
type ServiceBusConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	QueueName        string `mapstructure:"queue_name"`
}

// ScreenshotConfig holds screenshot storage settings.
type ScreenshotConfig struct {
	StoragePath string `mapstructure:"storage_path"`
	KeepPerKiosk int   `mapstructure:"keep_per_kiosk"`
}

// SyncConfig holds the domain thresholds of the sync flow.
type SyncConfig struct {
	OfflineTimeout   time.Duration `mapstructure:"offline_timeout"`
	UpgradeTimeout   time.Duration `mapstructure:"upgrade_timeout"`
	LogRetentionDays int           `mapstructure:"log_retention_days"`
}

// LoggingConfig controls the service logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("EDUDISPLEJ")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")

	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.conn_max_idle_time", "10m")

	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")

	viper.SetDefault("screenshots.storage_path", "./screenshots")
	viper.SetDefault("screenshots.keep_per_kiosk", 100)

	viper.SetDefault("sync.offline_timeout", "30m")
	viper.SetDefault("sync.upgrade_timeout", "30m")
	viper.SetDefault("sync.log_retention_days", 30)

	viper.SetDefault("logging.level", "info")

	if configPath != "" {
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				// Config file not found; ignore error if using env vars
			} else {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
