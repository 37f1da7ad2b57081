package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	StoreStrategy string `yaml:"storeStrategy"` // "postgres" (default) or "memory"
	DatabaseURL   string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	SessionTTL      string `yaml:"sessionTTL"`
	SessionStrategy string `yaml:"sessionStrategy"` // "redis" (default) or "jwt"
	JWTSecret       string `yaml:"jwtSecret"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	MaxUploadBytes           int64 `yaml:"maxUploadBytes"`
	SignupRateLimitPerMinute int   `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute  int   `yaml:"loginRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml). Environment
// variables override file values.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("VERIDOC_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("VERIDOC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("VERIDOC_STORE_STRATEGY"); v != "" {
		cfg.StoreStrategy = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("VERIDOC_SESSION_TTL"); v != "" {
		cfg.SessionTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("VERIDOC_SESSION_STRATEGY"); v != "" {
		cfg.SessionStrategy = strings.TrimSpace(v)
	}
	if v := os.Getenv("VERIDOC_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("AMQP_EXCHANGE"); v != "" {
		cfg.AMQPExchange = v
	}
	if v := os.Getenv("VERIDOC_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("VERIDOC_SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("VERIDOC_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	strategy := strings.ToLower(strings.TrimSpace(cfg.StoreStrategy))
	switch strategy {
	case "", "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
		}
		if strings.TrimSpace(cfg.MinioEndpoint) == "" {
			return errors.New("config: minioEndpoint is required (set in config.yaml or MINIO_ENDPOINT)")
		}
	case "memory":
		// No external stores; development and test mode.
	default:
		return fmt.Errorf("config: unknown storeStrategy %q", cfg.StoreStrategy)
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting and sessions")
	}
	if strings.ToLower(strings.TrimSpace(cfg.SessionStrategy)) == "jwt" && strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required for the jwt session strategy")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	return nil
}

// ParseSessionTTL parses the optional session TTL duration string.
func ParseSessionTTL(ttl string) (time.Duration, error) {
	if strings.TrimSpace(ttl) == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttl)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	return dur, nil
}
