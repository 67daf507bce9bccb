// Package config 读取配置：默认值 -> 配置文件 -> 环境变量（GRIDSPACE_ 前缀）
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type TransportConfig struct {
	ReadLimit     int64         `mapstructure:"readLimit"`
	PongWait      time.Duration `mapstructure:"pongWait"`
	WriteWait     time.Duration `mapstructure:"writeWait"`
	SendQueueSize int           `mapstructure:"sendQueueSize"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
	Issuer    string        `mapstructure:"issuer"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

// Load 读取配置。path 为空时在工作目录查找 gridspace.yaml，找不到则只用默认值与环境变量
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("transport.readLimit", 1<<20)
	v.SetDefault("transport.pongWait", "60s")
	v.SetDefault("transport.writeWait", "5s")
	v.SetDefault("transport.sendQueueSize", 64)
	v.SetDefault("auth.jwtSecret", "dev-jwt-secret-change-for-production-use-minimum-32-chars")
	v.SetDefault("auth.tokenTTL", "24h")
	v.SetDefault("auth.issuer", "gridspace")
	v.SetDefault("store.path", "gridspace.db")
	v.SetDefault("log.file", "app.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.maxSizeMB", 10)
	v.SetDefault("log.maxBackups", 3)
	v.SetDefault("log.maxAgeDays", 7)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gridspace")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GRIDSPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
