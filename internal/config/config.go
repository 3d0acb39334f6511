package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Storage struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	PublicURL string `mapstructure:"public_url"`
}

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	// Scheduling horizon for broadcast actions.
	ScheduleLead time.Duration `mapstructure:"schedule_lead"`

	// Room lifecycle.
	CleanupDelay      time.Duration `mapstructure:"cleanup_delay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	OrbitTick         time.Duration `mapstructure:"orbit_tick"`

	// Snapshotting.
	BackupInterval     time.Duration `mapstructure:"backup_interval"`
	BackupKeep         int           `mapstructure:"backup_keep"`
	RestoreConcurrency int           `mapstructure:"restore_concurrency"`

	Storage Storage `mapstructure:"storage"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("schedule_lead", "750ms")
	v.SetDefault("cleanup_delay", "60s")
	v.SetDefault("heartbeat_interval", "5s")
	v.SetDefault("heartbeat_timeout", "10s")
	v.SetDefault("orbit_tick", "100ms")
	v.SetDefault("backup_interval", "5m")
	v.SetDefault("backup_keep", 5)
	v.SetDefault("restore_concurrency", 32)
	v.SetDefault("storage.use_ssl", true)

	// Credentials come from the environment in deployments; the yaml
	// file only carries the non-secret parts.
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	_ = v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
