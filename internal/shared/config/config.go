package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type FailurePolicy string

const (
	DropBoth    FailurePolicy = "drop"
	RequeueBoth FailurePolicy = "requeue"
)

type StoreBackend string

const (
	MemoryStore StoreBackend = "memory"
	RedisStore  StoreBackend = "redis"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config captures the runtime configuration for the matching service and the
// notification gateway.
type Config struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	VerifyURL       string        `yaml:"verify_url"`
	VerifyTimeout   time.Duration `yaml:"verify_timeout"`
	VerifyRateLimit float64       `yaml:"verify_rate_limit"`
	VerifyBurst     int           `yaml:"verify_burst"`

	Workers       int           `yaml:"workers"`
	ConsumerName  string        `yaml:"consumer_name"`
	Store         StoreBackend  `yaml:"store"`
	DedupWindow   time.Duration `yaml:"dedup_window"`
	FailurePolicy FailurePolicy `yaml:"failure_policy"`
	RequeueDelay  time.Duration `yaml:"requeue_delay"`
	MaxAttempts   int           `yaml:"max_attempts"`

	AdminPort   int `yaml:"admin_port"`
	GatewayPort int `yaml:"gateway_port"`

	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	LogLevel string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		RedisAddr:     "localhost:6379",
		VerifyURL:     "http://localhost:8080",
		VerifyTimeout: 5 * time.Second,
		VerifyBurst:   1,
		Workers:       4,
		ConsumerName:  "matching-1",
		Store:         MemoryStore,
		DedupWindow:   time.Minute,
		FailurePolicy: DropBoth,
		RequeueDelay:  2 * time.Second,
		MaxAttempts:   3,
		AdminPort:     3005,
		GatewayPort:   3006,
		MongoDatabase: "Sessions",
		LogLevel:      "info",
	}
}

// Load starts from Default, overlays the yaml file named by
// MATCHING_CONFIG_FILE when set, then applies environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("MATCHING_CONFIG_FILE"); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	cfg.RedisAddr = getString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getString("REDIS_PW", cfg.RedisPassword)
	cfg.RedisDB = getInt("REDIS_DB", cfg.RedisDB)
	cfg.VerifyURL = getString("VERIFY_API_URL", cfg.VerifyURL)
	cfg.VerifyTimeout = getDuration("VERIFY_TIMEOUT", cfg.VerifyTimeout)
	cfg.VerifyRateLimit = getFloat("VERIFY_RATE_LIMIT", cfg.VerifyRateLimit)
	cfg.VerifyBurst = getInt("VERIFY_BURST", cfg.VerifyBurst)
	cfg.Workers = getInt("MATCHING_WORKERS", cfg.Workers)
	cfg.ConsumerName = getString("MATCHING_CONSUMER", cfg.ConsumerName)
	cfg.Store = StoreBackend(getString("MATCHING_STORE", string(cfg.Store)))
	cfg.DedupWindow = getDuration("MATCHING_DEDUP_WINDOW", cfg.DedupWindow)
	cfg.FailurePolicy = FailurePolicy(getString("MATCHING_FAILURE_POLICY", string(cfg.FailurePolicy)))
	cfg.RequeueDelay = getDuration("MATCHING_REQUEUE_DELAY", cfg.RequeueDelay)
	cfg.MaxAttempts = getInt("MATCHING_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.AdminPort = getInt("PORT", cfg.AdminPort)
	cfg.GatewayPort = getInt("GATEWAY_PORT", cfg.GatewayPort)
	cfg.MongoURI = getString("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = getString("MONGO_DATABASE", cfg.MongoDatabase)
	cfg.LogLevel = getString("LOG_LEVEL", cfg.LogLevel)

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.FailurePolicy {
	case DropBoth, RequeueBoth:
	default:
		return fmt.Errorf("%w: unknown failure policy %q", ErrInvalidConfig, c.FailurePolicy)
	}
	switch c.Store {
	case MemoryStore, RedisStore:
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.VerifyURL == "" {
		return fmt.Errorf("%w: verify url is required", ErrInvalidConfig)
	}
	return nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

func getString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
