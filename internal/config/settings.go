package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.Username, d.Password, d.Host, d.Port, d.Name)
}

// Enabled reports whether a session log database was configured at all.
func (d DBConfig) Enabled() bool {
	return d.Host != "" && d.Name != ""
}

type DiscoveryConfig struct {
	UDPPort            int           `mapstructure:"udp_port"`
	SerialPollInterval time.Duration `mapstructure:"serial_poll_interval"`
	BroadcastInterval  time.Duration `mapstructure:"broadcast_interval"`
	InactivityTimeout  time.Duration `mapstructure:"inactivity_timeout"`
}

type SessionConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	PluginDir string `mapstructure:"plugin_dir"`
}

type ServerConfig struct {
	BindAddr string `mapstructure:"bind_addr"`
}

type Settings struct {
	DB        DBConfig        `mapstructure:"database"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Session   SessionConfig   `mapstructure:"session"`
	Server    ServerConfig    `mapstructure:"server"`
	Env       string          `mapstructure:"env"`
	Debug     bool            `mapstructure:"debug" default:"false"`
}

func Load() (*Settings, error) {
	// Load settings from a configuration file or environment variables
	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")

	viper.SetDefault("discovery.udp_port", 2121)
	viper.SetDefault("discovery.serial_poll_interval", time.Second)
	viper.SetDefault("discovery.broadcast_interval", time.Second)
	viper.SetDefault("discovery.inactivity_timeout", 10*time.Second)
	viper.SetDefault("session.data_dir", "sessions")
	viper.SetDefault("session.plugin_dir", "plugins")
	viper.SetDefault("server.bind_addr", ":8080")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &settings, nil
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
