package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Paperless PaperlessConfig
	Detector  DetectorConfig
	Scheduler SchedulerConfig
	GigaChat  GigaChatConfig
	Logger    LoggerConfig
}

type LoggerConfig struct {
	Level string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PaperlessConfig points at the remote document repository.
type PaperlessConfig struct {
	BaseURL    string
	Token      string
	PublicURL  string // base for dashboard links; falls back to BaseURL
	Timeout    time.Duration
	MaxRetries int
}

type DetectorConfig struct {
	BalanceTolerance float64
	WarnThreshold    float64
	LayoutThreshold  float64
	Parallelism      int
}

type SchedulerConfig struct {
	Enabled         bool
	ScanInterval    time.Duration
	TagSyncInterval time.Duration
	RecheckInterval time.Duration
}

type GigaChatConfig struct {
	APIKey             string
	Scope              string
	InsecureSkipVerify bool
}

func Load() (*Config, error) {
	// Try to load .env file from current directory or project root
	envFiles := []string{".env", "../.env", "../../.env"}
	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}
	// No .env file is fine: environment variables alone work for Docker/K8s.

	readTimeout, _ := strconv.Atoi(getEnv("SERVER_READ_TIMEOUT", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("SERVER_WRITE_TIMEOUT", "30"))
	remoteTimeout, _ := strconv.Atoi(getEnv("PAPERLESS_TIMEOUT", "30"))
	maxRetries, _ := strconv.Atoi(getEnv("PAPERLESS_MAX_RETRIES", "3"))
	balanceTol, _ := strconv.ParseFloat(getEnv("BALANCE_TOLERANCE", "0.01"), 64)
	warnThreshold, _ := strconv.ParseFloat(getEnv("BALANCE_WARN_THRESHOLD", "1.00"), 64)
	layoutThreshold, _ := strconv.ParseFloat(getEnv("LAYOUT_SCORE_THRESHOLD", "0.5"), 64)
	parallelism, _ := strconv.Atoi(getEnv("DETECT_PARALLELISM", "4"))
	scanInterval, _ := strconv.Atoi(getEnv("SCAN_INTERVAL_SECONDS", "300"))
	tagSyncInterval, _ := strconv.Atoi(getEnv("TAG_SYNC_INTERVAL_HOURS", "6"))
	recheckInterval, _ := strconv.Atoi(getEnv("RECHECK_INTERVAL_MINUTES", "60"))
	insecureSkipVerify := getEnv("GIGACHAT_INSECURE_SKIP_VERIFY", "true") == "true"

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  time.Duration(readTimeout) * time.Second,
			WriteTimeout: time.Duration(writeTimeout) * time.Second,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "docsentry"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Paperless: PaperlessConfig{
			BaseURL:    getEnv("PAPERLESS_URL", "http://localhost:8000"),
			Token:      getEnv("PAPERLESS_TOKEN", ""),
			PublicURL:  getEnv("PAPERLESS_PUBLIC_URL", ""),
			Timeout:    time.Duration(remoteTimeout) * time.Second,
			MaxRetries: maxRetries,
		},
		Detector: DetectorConfig{
			BalanceTolerance: balanceTol,
			WarnThreshold:    warnThreshold,
			LayoutThreshold:  layoutThreshold,
			Parallelism:      parallelism,
		},
		Scheduler: SchedulerConfig{
			Enabled:         getEnv("SCHEDULER_ENABLED", "true") == "true",
			ScanInterval:    time.Duration(scanInterval) * time.Second,
			TagSyncInterval: time.Duration(tagSyncInterval) * time.Hour,
			RecheckInterval: time.Duration(recheckInterval) * time.Minute,
		},
		GigaChat: GigaChatConfig{
			APIKey:             getEnv("GIGACHAT_API_KEY", ""),
			Scope:              getEnv("GIGACHAT_SCOPE", "GIGACHAT_API_PERS"),
			InsecureSkipVerify: insecureSkipVerify,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if cfg.Paperless.PublicURL == "" {
		cfg.Paperless.PublicURL = cfg.Paperless.BaseURL
	}
	if cfg.Paperless.Token == "" {
		return nil, fmt.Errorf("PAPERLESS_TOKEN is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
