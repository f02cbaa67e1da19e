package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// SMSConfig configures the Aliyun OTP delivery channel.
type SMSConfig struct {
	AccessKeyID     string `yaml:"accessKeyId"`
	AccessKeySecret string `yaml:"accessKeySecret"`
	SignName        string `yaml:"signName"`
	TemplateCode    string `yaml:"templateCode"`
	Endpoint        string `yaml:"endpoint"`
}

// MinioConfig configures the catalog source-file archive.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	SecretKey      string `yaml:"secretKey"`
	AccessTokenTTL string `yaml:"accessTokenTTL"`
	OTPTTL         string `yaml:"otpTTL"`
	Debug          bool   `yaml:"debug"`
	LogLevel       string `yaml:"logLevel"`

	OTPRateLimitPerMinute int `yaml:"otpRateLimitPerMinute"`

	SyncBatchLimit  int    `yaml:"syncBatchLimit"`
	SyncInterval    string `yaml:"syncInterval"`
	SourceCacheTTL  string `yaml:"sourceCacheTTL"`
	RxNormBaseURL   string `yaml:"rxnormBaseURL"`
	DailyMedBaseURL string `yaml:"dailymedBaseURL"`
	OpenFDABaseURL  string `yaml:"openfdaBaseURL"`

	SMS   SMSConfig   `yaml:"sms"`
	Minio MinioConfig `yaml:"minio"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides for deploy-time secrets.
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
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("MEDTRACK_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := os.Getenv("SMS_ACCESS_KEY_ID"); v != "" {
		cfg.SMS.AccessKeyID = v
	}
	if v := os.Getenv("SMS_ACCESS_KEY_SECRET"); v != "" {
		cfg.SMS.AccessKeySecret = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Minio.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("OTP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OTPRateLimitPerMinute = n
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
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set REDIS_ADDR)")
	}
	if cfg.SecretKey == "" {
		return errors.New("config: secretKey is required (set SECRET_KEY)")
	}
	if cfg.OTPRateLimitPerMinute < 0 {
		return errors.New("config: otpRateLimitPerMinute must be >= 0")
	}
	if cfg.SyncBatchLimit < 0 {
		return errors.New("config: syncBatchLimit must be >= 0")
	}
	if !cfg.Debug {
		if cfg.SMS.AccessKeyID == "" || cfg.SMS.AccessKeySecret == "" {
			return errors.New("config: sms credentials are required outside debug mode")
		}
		if cfg.SMS.SignName == "" || cfg.SMS.TemplateCode == "" {
			return errors.New("config: sms signName and templateCode are required outside debug mode")
		}
	}
	return nil
}

// ParseTTL parses an optional duration string, returning 0 for "".
func ParseTTL(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be positive", name)
	}
	return dur, nil
}
