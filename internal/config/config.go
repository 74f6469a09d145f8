package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	QUIC    QUICConfig    `yaml:"quic"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	NATS    NATSConfig    `yaml:"nats"`
	Webhook WebhookConfig `yaml:"webhook"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	HTTPAddr    string `yaml:"http_addr"`
	NodeID      string `yaml:"node_id"`
	WorkerID    int64  `yaml:"worker_id"`
	MaxGroupCap int    `yaml:"max_group_cap"` // 群组人数上限的硬顶

	// 未认证连接的空闲超时，超时后关闭以限制资源占用
	AuthTimeout time.Duration `yaml:"auth_timeout"`

	// 每个会话的下行队列长度，队列溢出的会话会被断开
	SessionSendBuffer int `yaml:"session_send_buffer"`

	Workers         int `yaml:"workers"`
	WorkerQueueSize int `yaml:"worker_queue_size"`
}

type QUICConfig struct {
	MaxIdleTimeout     time.Duration `yaml:"max_idle_timeout"`
	KeepAlivePeriod    time.Duration `yaml:"keep_alive_period"`
	MaxIncomingStreams int64         `yaml:"max_incoming_streams"`
	CertFile           string        `yaml:"cert_file"`
	KeyFile            string        `yaml:"key_file"`

	// DevCertDir 未配置证书时自签证书的存放目录
	DevCertDir string `yaml:"dev_cert_dir"`
}

type AuthConfig struct {
	TokenSecret string `yaml:"token_secret"`
	Issuer      string `yaml:"issuer"`
}

type StorageConfig struct {
	// Backend: memory | postgres
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type WebhookConfig struct {
	// CommunitySyncToken 社区进度 webhook 的共享 bearer token，
	// 为空时从 COMMUNITY_SYNC_TOKEN 环境变量读取
	CommunitySyncToken string `yaml:"community_sync_token"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// Default 返回内置默认配置（无配置文件时使用）
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "localhost:4433"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.NodeID == "" {
		c.Server.NodeID = "chat-1"
	}
	if c.Server.MaxGroupCap <= 0 {
		c.Server.MaxGroupCap = 50
	}
	if c.Server.AuthTimeout <= 0 {
		c.Server.AuthTimeout = 30 * time.Second
	}
	if c.Server.SessionSendBuffer <= 0 {
		c.Server.SessionSendBuffer = 256
	}
	if c.Server.Workers <= 0 {
		c.Server.Workers = 32
	}
	if c.Server.WorkerQueueSize <= 0 {
		c.Server.WorkerQueueSize = 1024
	}
	if c.QUIC.MaxIdleTimeout <= 0 {
		c.QUIC.MaxIdleTimeout = 90 * time.Second
	}
	if c.QUIC.KeepAlivePeriod <= 0 {
		c.QUIC.KeepAlivePeriod = 30 * time.Second
	}
	if c.QUIC.MaxIncomingStreams <= 0 {
		c.QUIC.MaxIncomingStreams = 100
	}
	if c.QUIC.DevCertDir == "" {
		c.QUIC.DevCertDir = "."
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "elitescore"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Webhook.CommunitySyncToken == "" {
		c.Webhook.CommunitySyncToken = os.Getenv("COMMUNITY_SYNC_TOKEN")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
