package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Push     PushConfig     `yaml:"push"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Hub      HubConfig      `yaml:"hub"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// DeliveryConfig bounds outbound push volume and sizes the dispatch pool.
type DeliveryConfig struct {
	RateWindowSeconds int           `yaml:"rate_window_seconds"`
	RateMax           int           `yaml:"rate_max"`
	RateWindow        time.Duration `yaml:"-"` // Ignored by YAML parser
	WorkerPoolSize    int           `yaml:"worker_pool_size"`
	QueueSize         int           `yaml:"queue_size"`
}

// HubConfig holds the websocket hub tuning knobs.
type HubConfig struct {
	WriteTimeoutSeconds int           `yaml:"write_timeout_seconds"`
	WriteTimeout        time.Duration `yaml:"-"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Delivery.RateWindowSeconds <= 0 {
		cfg.Delivery.RateWindowSeconds = 60
	}
	cfg.Delivery.RateWindow = time.Duration(cfg.Delivery.RateWindowSeconds) * time.Second

	if cfg.Delivery.RateMax <= 0 {
		cfg.Delivery.RateMax = 30
	}

	if cfg.Delivery.WorkerPoolSize <= 0 {
		log.Printf("delivery.worker_pool_size is not set or invalid; defaulting to 1")
		cfg.Delivery.WorkerPoolSize = 1
	}

	if cfg.Delivery.QueueSize <= 0 {
		cfg.Delivery.QueueSize = 64
	}

	if cfg.Hub.WriteTimeoutSeconds <= 0 {
		cfg.Hub.WriteTimeoutSeconds = 10
	}
	cfg.Hub.WriteTimeout = time.Duration(cfg.Hub.WriteTimeoutSeconds) * time.Second

	return &cfg, nil
}
