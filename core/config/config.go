package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App        AppConfig
	Paths      PathsConfig
	Database   DatabaseConfig
	Provider   ProviderConfig
	Pairing    PairingConfig
	Dispatch   DispatchConfig
	WorkerPool WorkerPoolConfig
	Security   SecurityConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasicAuth          []string
	BasePath           string
	TrustedProxies     []string
	BaseUrl            string
	CorsAllowedOrigins []string
	ServerID           string
}

type PathsConfig struct {
	BaseDir   string
	Statics   string
	SendItems string
	Storages  string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB Name for Postgres
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

// ProviderConfig points at the remote channel provider (the webhook bridge that
// owns the real device sessions).
type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	VerifyOnCreate bool
	CreateRemote   bool
}

type PairingConfig struct {
	PollInterval time.Duration
	CheckTimeout time.Duration
	MaxRetries   int
}

type DispatchConfig struct {
	SendDelay         time.Duration
	SchedulerInterval time.Duration
	SendTimeout       time.Duration
	MaxMediaSize      int64
	AllowedMimeTypes  []string
	MaxRecipients     int
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

type SecurityConfig struct {
	SecretKey string
}

// Global provides access to the loaded configuration globally
var Global *Config

// DefaultAllowedMimeTypes lists the attachment types a campaign may carry.
var DefaultAllowedMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"video/mp4",
	"audio/mpeg",
	"application/pdf",
}

// LoadConfig loads configuration from Environment Variables or defaults.
func LoadConfig() (*Config, error) {
	baseDir := getEnv("APP_BASE_DIR", "storages")

	debug := false
	if v := os.Getenv("APP_DEBUG"); v == "true" || v == "1" || v == "on" {
		debug = true
	} else if v := os.Getenv("DEBUG"); v == "true" || v == "1" {
		debug = true
	}

	var basicAuth []string
	if v := os.Getenv("APP_BASIC_AUTH"); v != "" {
		basicAuth = strings.Split(v, ",")
	}

	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if v := os.Getenv("APP_CORS_ALLOWED_ORIGINS"); v != "" {
		corsOrigins = strings.Split(v, ",")
	}

	appCfg := AppConfig{
		Version:            "v1.0.0",
		Port:               getEnv("APP_PORT", "3000"),
		Debug:              debug,
		Environment:        getEnv("APP_ENV", "development"),
		BasicAuth:          basicAuth,
		BasePath:           getEnv("APP_BASE_PATH", ""),
		BaseUrl:            getEnv("APP_BASE_URL", "http://localhost:3000"),
		CorsAllowedOrigins: corsOrigins,
		ServerID:           getEnv("SERVER_ID", ""),
	}
	if v := os.Getenv("APP_TRUSTED_PROXIES"); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}

	pathsCfg := PathsConfig{
		BaseDir:   baseDir,
		Statics:   getEnv("PATH_STATICS", "statics"),
		SendItems: getEnv("PATH_SEND_ITEMS", filepath.Join("statics", "senditems")),
		Storages:  baseDir,
	}

	dbCfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "sqlite"),
		Name:            getEnv("DB_NAME", filepath.Join(pathsCfg.Storages, "dispatch.db")),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", false),
		ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:        getEnvInt("VALKEY_DB", 0),
		ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "azdispatch:"),
	}

	providerCfg := ProviderConfig{
		BaseURL:        strings.TrimRight(getEnv("PROVIDER_BASE_URL", "http://localhost:5678/webhook"), "/"),
		APIKey:         getEnv("PROVIDER_API_KEY", ""),
		RequestTimeout: getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 15*time.Second),
		VerifyOnCreate: getEnvBool("PROVIDER_VERIFY_ON_CREATE", false),
		CreateRemote:   getEnvBool("PROVIDER_CREATE_REMOTE", true),
	}

	pairingCfg := PairingConfig{
		PollInterval: getEnvDuration("PAIRING_POLL_INTERVAL", 5*time.Second),
		CheckTimeout: getEnvDuration("PAIRING_CHECK_TIMEOUT", 3*time.Second),
		MaxRetries:   getEnvInt("PAIRING_MAX_RETRIES", 3),
	}

	allowed := DefaultAllowedMimeTypes
	if v := os.Getenv("DISPATCH_ALLOWED_MIME_TYPES"); v != "" {
		allowed = strings.Split(v, ",")
	}

	dispatchCfg := DispatchConfig{
		SendDelay:         getEnvDuration("DISPATCH_SEND_DELAY", 1*time.Second),
		SchedulerInterval: getEnvDuration("DISPATCH_SCHEDULER_INTERVAL", 30*time.Second),
		SendTimeout:       getEnvDuration("DISPATCH_SEND_TIMEOUT", 30*time.Second),
		MaxMediaSize:      getEnvInt64("DISPATCH_MAX_MEDIA_SIZE", 16*1024*1024),
		AllowedMimeTypes:  allowed,
		MaxRecipients:     getEnvInt("DISPATCH_MAX_RECIPIENTS", 5000),
	}

	cfg := &Config{
		App:        appCfg,
		Paths:      pathsCfg,
		Database:   dbCfg,
		Provider:   providerCfg,
		Pairing:    pairingCfg,
		Dispatch:   dispatchCfg,
		WorkerPool: WorkerPoolConfig{Size: getEnvInt("DISPATCH_WORKER_POOL_SIZE", 8), QueueSize: getEnvInt("DISPATCH_WORKER_QUEUE_SIZE", 100)},
		Security:   SecurityConfig{SecretKey: getEnv("APP_SECRET_KEY", "")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	Global = cfg
	return cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	if c.Pairing.PollInterval <= 0 {
		return fmt.Errorf("pairing poll interval must be positive")
	}
	if c.Pairing.CheckTimeout <= 0 {
		return fmt.Errorf("pairing check timeout must be positive")
	}
	if c.Pairing.MaxRetries < 1 {
		return fmt.Errorf("pairing max retries must be at least 1")
	}
	if c.Dispatch.SendDelay < 0 {
		return fmt.Errorf("dispatch send delay cannot be negative")
	}
	if c.Dispatch.SchedulerInterval < time.Second {
		return fmt.Errorf("scheduler interval must be at least 1s")
	}
	return nil
}
