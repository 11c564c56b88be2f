package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime configuration.
//
// Sources, lowest precedence first: built-in defaults, the optional YAML file
// named by CHATTRACK_CONFIG_FILE, then CHATTRACK_* environment variables.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	// Buckets is the fixed size of the membership hash table.
	Buckets int `yaml:"buckets"`

	DatabaseURL string `yaml:"database_url"`
	DBSchema    string `yaml:"db_schema"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool `yaml:"readiness_require_db"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	WS WSConfig `yaml:"ws"`
}

// WSConfig mirrors realtime.Config in file/env form.
type WSConfig struct {
	DevInsecure       bool          `yaml:"dev_insecure"`
	OriginRequired    bool          `yaml:"origin_required"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	SendQueueSize     int           `yaml:"send_queue_size"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReadIdleTimeout   time.Duration `yaml:"read_idle_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	RateEvents        int           `yaml:"rate_events"`
	RateWindow        time.Duration `yaml:"rate_window"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		Buckets: 1009,

		DBSchema:   "chattrack",
		DBMaxConns: 10,
		DBMinConns: 0,

		MetricsEnabled: true,

		WS: WSConfig{
			OriginRequired:    true,
			AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
			SendQueueSize:     256,
			WriteTimeout:      5 * time.Second,
			ReadIdleTimeout:   2 * time.Minute,
			HeartbeatInterval: 25 * time.Second,
			HeartbeatTimeout:  5 * time.Second,
			RateEvents:        120,
			RateWindow:        10 * time.Second,
		},
	}
}

// LoadConfig loads Config from defaults, the optional YAML file and the environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := EnvString("CHATTRACK_CONFIG_FILE", ""); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// applyEnv overrides cfg with any CHATTRACK_* variables that are set.
func applyEnv(cfg *Config) {
	cfg.HTTPAddr = EnvString("CHATTRACK_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("CHATTRACK_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("CHATTRACK_LOG_FORMAT", cfg.LogFormat)

	cfg.ReadHeaderTimeout = EnvDuration("CHATTRACK_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("CHATTRACK_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("CHATTRACK_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("CHATTRACK_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("CHATTRACK_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)

	cfg.Buckets = EnvInt("CHATTRACK_BUCKETS", cfg.Buckets)

	cfg.DatabaseURL = EnvString("CHATTRACK_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBSchema = EnvString("CHATTRACK_DB_SCHEMA", cfg.DBSchema)
	cfg.DBMaxConns = EnvInt32("CHATTRACK_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("CHATTRACK_DB_MIN_CONNS", cfg.DBMinConns)

	cfg.ReadinessRequireDB = EnvBool("CHATTRACK_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB)
	cfg.MetricsEnabled = EnvBool("CHATTRACK_METRICS_ENABLED", cfg.MetricsEnabled)

	cfg.WS.DevInsecure = EnvBool("CHATTRACK_WS_DEV_INSECURE", cfg.WS.DevInsecure)
	cfg.WS.OriginRequired = EnvBool("CHATTRACK_WS_ORIGIN_REQUIRED", cfg.WS.OriginRequired)
	cfg.WS.AllowedOrigins = EnvCSV("CHATTRACK_WS_ALLOWED_ORIGINS", cfg.WS.AllowedOrigins)
	cfg.WS.SendQueueSize = EnvInt("CHATTRACK_WS_SEND_QUEUE", cfg.WS.SendQueueSize)
	cfg.WS.WriteTimeout = EnvDuration("CHATTRACK_WS_WRITE_TIMEOUT", cfg.WS.WriteTimeout)
	cfg.WS.ReadIdleTimeout = EnvDuration("CHATTRACK_WS_READ_IDLE_TIMEOUT", cfg.WS.ReadIdleTimeout)
	cfg.WS.HeartbeatInterval = EnvDuration("CHATTRACK_WS_HEARTBEAT_INTERVAL", cfg.WS.HeartbeatInterval)
	cfg.WS.HeartbeatTimeout = EnvDuration("CHATTRACK_WS_HEARTBEAT_TIMEOUT", cfg.WS.HeartbeatTimeout)
	cfg.WS.RateEvents = EnvInt("CHATTRACK_WS_RATE_EVENTS", cfg.WS.RateEvents)
	cfg.WS.RateWindow = EnvDuration("CHATTRACK_WS_RATE_WINDOW", cfg.WS.RateWindow)
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Buckets <= 0 {
		errs = append(errs, fmt.Errorf("buckets must be positive, got %d", c.Buckets))
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("db min conns (%d) exceeds max conns (%d)", c.DBMinConns, c.DBMaxConns))
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	return errors.Join(errs...)
}
